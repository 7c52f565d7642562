package grpc

import (
	"errors"
	"strconv"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Reasons carried in errdetails.ErrorInfo of ResourceExhausted replies.
const (
	errorDomain           = "pindrop"
	ReasonChallenge       = "CHALLENGE_REQUIRED"
	ReasonLockedOut       = "LOCKED_OUT"
	retryAfterMinutesMeta = "retry_after_minutes"
)

// toStatus maps service errors onto gRPC status codes. Only validation
// messages are shown to the caller verbatim.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var rl *common.RateLimitError
	switch {
	case errors.As(err, &rl):
		return rateLimitStatus(rl)
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, "token expired")
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, common.ErrorForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, common.ErrorBackendUnavailable):
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func rateLimitStatus(rl *common.RateLimitError) error {
	st := status.New(codes.ResourceExhausted, rl.Error())

	info := &errdetails.ErrorInfo{Domain: errorDomain, Reason: ReasonChallenge}
	var withDetails *status.Status
	var err error
	if rl.Challenge {
		withDetails, err = st.WithDetails(info)
	} else {
		info.Reason = ReasonLockedOut
		info.Metadata = map[string]string{retryAfterMinutesMeta: strconv.Itoa(rl.MinutesLeft())}
		withDetails, err = st.WithDetails(info, &errdetails.RetryInfo{RetryDelay: durationpb.New(rl.RetryAfter)})
	}
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}
