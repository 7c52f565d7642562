package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/netx"
	"github.com/dmitrijs2005/pindrop/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const identityKey ctxKey = "identity"

// ownerOnly lists the methods that cannot be called without an access token.
var ownerOnly = map[string]bool{
	fullMethod("CreateBucket"):      true,
	fullMethod("GetBucket"):         true,
	fullMethod("ListBuckets"):       true,
	fullMethod("ListSharedBuckets"): true,
	fullMethod("GetSharedBucket"):   true,
	fullMethod("UpdateBucket"):      true,
	fullMethod("DeactivateBucket"):  true,
	fullMethod("RestoreBucket"):     true,
	fullMethod("DeleteBucket"):      true,
	fullMethod("RevealPin"):         true,
}

// accessTokenInterceptor attaches the owner identity when a token is sent.
// A token that is present but invalid fails the call even on PIN-gated
// methods.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	token := firstMetadata(ctx, common.AccessTokenHeaderName)

	if token == "" {
		if ownerOnly[info.FullMethod] {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}
		return handler(ctx, req)
	}

	id, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, toStatus(err)
	}
	return handler(context.WithValue(ctx, identityKey, id), req)
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	args := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
	switch code {
	case codes.OK, codes.NotFound, codes.InvalidArgument:
		s.logger.Debug(ctx, "rpc", args...)
	case codes.Internal, codes.Unavailable:
		s.logger.Error(ctx, "rpc", args...)
	default:
		s.logger.Warn(ctx, "rpc", append(args, "origin", s.originFrom(ctx))...)
	}
	return resp, err
}

func identityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// originFrom resolves the client origin the attempt governor counts against.
// The peer address is used unless the peer is a trusted proxy; then
// x-forwarded-for is walked from the right and the first hop outside the
// trusted set wins. Unparseable hops stop the walk.
func (s *GRPCServer) originFrom(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return common.UnknownOrigin
	}
	raw := p.Addr.String()
	addr, ok := netx.HostAddr(raw)
	if !ok {
		if raw == "" {
			return common.UnknownOrigin
		}
		return raw
	}
	if !netx.ContainsAddr(s.trustedProxies, addr) {
		return addr.String()
	}

	hops := forwardedHops(ctx)
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := netx.HostAddr(hops[i])
		if !ok {
			break
		}
		addr = hop
		if !netx.ContainsAddr(s.trustedProxies, hop) {
			break
		}
	}
	return addr.String()
}

// forwardedHops flattens every x-forwarded-for value into one hop list.
func forwardedHops(ctx context.Context) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	var hops []string
	for _, v := range md.Get(common.ForwardedForHeaderName) {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	return hops
}
