package grpc

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/server/auth"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fail logs unexpected errors and converts err for the wire.
func (s *GRPCServer) fail(ctx context.Context, op string, err error) error {
	st := toStatus(err)
	if c := status.Code(st); c == codes.Internal || c == codes.Unavailable {
		s.logger.Error(ctx, op+" failed", "error", err)
	}
	return st
}

func (s *GRPCServer) owner(ctx context.Context) (auth.Identity, error) {
	id, ok := identityFrom(ctx)
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "missing token")
	}
	return id, nil
}

// access authorizes a file call: the owner's token wins, otherwise the PIN
// is checked against the bucket under the attempt governor.
func (s *GRPCServer) access(ctx context.Context, fa FileAccess) (services.Access, error) {
	if id, ok := identityFrom(ctx); ok {
		return s.buckets.AuthorizeOwner(ctx, id.UserID, fa.BucketID)
	}
	if fa.Pin == "" {
		return services.Access{}, status.Error(codes.Unauthenticated, "pin or access token required")
	}
	return s.buckets.AuthorizeBucket(ctx, fa.BucketID, fa.Pin, s.originFrom(ctx), firstMetadata(ctx, common.ChallengeTokenHeaderName))
}

func (s *GRPCServer) CreateBucket(ctx context.Context, req *CreateBucketRequest) (*CreateBucketResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}

	b, pin, err := s.buckets.CreateContainer(ctx, id.UserID, models.BucketMeta{
		Name:          req.Name,
		Description:   req.Description,
		OwnerEmail:    id.Email,
		Collaborators: req.Collaborators,
		Color:         req.Color,
		Icon:          req.Icon,
	})
	if err != nil {
		return nil, s.fail(ctx, "create bucket", err)
	}
	return &CreateBucketResponse{Bucket: bucketToMessage(b), Pin: pin}, nil
}

func (s *GRPCServer) GetBucket(ctx context.Context, req *BucketRequest) (*BucketResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.buckets.GetOwnedContainer(ctx, id.UserID, req.BucketID)
	if err != nil {
		return nil, s.fail(ctx, "get bucket", err)
	}
	return &BucketResponse{Bucket: bucketToMessage(b)}, nil
}

func (s *GRPCServer) ListBuckets(ctx context.Context, _ *Empty) (*ListBucketsResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.buckets.ListOwnedContainers(ctx, id.UserID)
	if err != nil {
		return nil, s.fail(ctx, "list buckets", err)
	}
	return &ListBucketsResponse{Buckets: bucketsToMessages(list)}, nil
}

func (s *GRPCServer) ListSharedBuckets(ctx context.Context, _ *Empty) (*ListBucketsResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.buckets.ListSharedContainers(ctx, id.Email)
	if err != nil {
		return nil, s.fail(ctx, "list shared buckets", err)
	}
	return &ListBucketsResponse{Buckets: bucketsToMessages(list)}, nil
}

// GetSharedBucket returns an active bucket the caller collaborates on.
func (s *GRPCServer) GetSharedBucket(ctx context.Context, req *BucketRequest) (*BucketResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.buckets.GetContainer(ctx, req.BucketID)
	if err != nil {
		return nil, s.fail(ctx, "get shared bucket", err)
	}
	if !slices.ContainsFunc(b.Collaborators, func(e string) bool { return strings.EqualFold(e, id.Email) }) {
		return nil, s.fail(ctx, "get shared bucket", common.ErrorNotFound)
	}
	return &BucketResponse{Bucket: bucketToMessage(b)}, nil
}

func (s *GRPCServer) UpdateBucket(ctx context.Context, req *UpdateBucketRequest) (*BucketResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.buckets.UpdateContainer(ctx, id.UserID, req.BucketID, models.BucketPatch{
		Name:          req.Name,
		Description:   req.Description,
		Collaborators: req.Collaborators,
		Color:         req.Color,
		Icon:          req.Icon,
	})
	if err != nil {
		return nil, s.fail(ctx, "update bucket", err)
	}
	return &BucketResponse{Bucket: bucketToMessage(b)}, nil
}

func (s *GRPCServer) DeactivateBucket(ctx context.Context, req *BucketRequest) (*Empty, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.buckets.DeactivateContainer(ctx, id.UserID, req.BucketID); err != nil {
		return nil, s.fail(ctx, "deactivate bucket", err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) RestoreBucket(ctx context.Context, req *BucketRequest) (*BucketResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.buckets.RestoreContainer(ctx, id.UserID, req.BucketID)
	if err != nil {
		return nil, s.fail(ctx, "restore bucket", err)
	}
	return &BucketResponse{Bucket: bucketToMessage(b)}, nil
}

func (s *GRPCServer) DeleteBucket(ctx context.Context, req *BucketRequest) (*Empty, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.buckets.DeleteContainer(ctx, id.UserID, req.BucketID); err != nil {
		return nil, s.fail(ctx, "delete bucket", err)
	}
	s.logger.Info(ctx, "bucket deleted by owner", "bucket_id", req.BucketID)
	return &Empty{}, nil
}

func (s *GRPCServer) RevealPin(ctx context.Context, req *BucketRequest) (*RevealPinResponse, error) {
	id, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	pin, err := s.buckets.RevealPin(ctx, id.UserID, req.BucketID)
	if err != nil {
		return nil, s.fail(ctx, "reveal pin", err)
	}
	return &RevealPinResponse{Pin: pin}, nil
}

func (s *GRPCServer) ResolvePin(ctx context.Context, req *ResolvePinRequest) (*BucketResponse, error) {
	origin := s.originFrom(ctx)
	b, err := s.buckets.ResolveByPin(ctx, req.Pin, origin, firstMetadata(ctx, common.ChallengeTokenHeaderName))
	if err != nil {
		if errors.Is(err, common.ErrorRateLimited) {
			s.logger.Warn(ctx, "pin verification refused", "origin", origin, "error", err)
		}
		return nil, s.fail(ctx, "resolve pin", err)
	}
	return &BucketResponse{Bucket: publicBucket(b)}, nil
}

func (s *GRPCServer) ListFiles(ctx context.Context, req *ListFilesRequest) (*ListFilesResponse, error) {
	acc, err := s.access(ctx, req.FileAccess)
	if err != nil {
		return nil, s.fail(ctx, "authorize", err)
	}
	list, err := s.buckets.ListFiles(ctx, acc)
	if err != nil {
		return nil, s.fail(ctx, "list files", err)
	}
	return &ListFilesResponse{Files: filesToMessages(list)}, nil
}

func (s *GRPCServer) UploadFiles(ctx context.Context, req *UploadFilesRequest) (*UploadFilesResponse, error) {
	acc, err := s.access(ctx, req.FileAccess)
	if err != nil {
		return nil, s.fail(ctx, "authorize", err)
	}
	if len(req.Files) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no files")
	}

	inputs := make([]models.UploadInput, 0, len(req.Files))
	for _, f := range req.Files {
		size := f.Size
		if size == 0 {
			size = int64(len(f.Content))
		}
		inputs = append(inputs, models.UploadInput{
			Name:        f.Name,
			Size:        size,
			ContentType: f.ContentType,
			Body:        bytes.NewReader(f.Content),
		})
	}

	res, err := s.buckets.UploadFiles(ctx, acc, inputs)
	if err != nil {
		return nil, s.fail(ctx, "upload files", err)
	}

	resp := &UploadFilesResponse{
		Uploaded:  filesToMessages(res.Uploaded),
		FileCount: res.Totals.Files,
		ByteSize:  res.Totals.Bytes,
	}
	for _, f := range res.Failed {
		st := status.Convert(toStatus(f.Err))
		resp.Failed = append(resp.Failed, UploadFailure{Name: f.Name, Code: st.Code().String(), Reason: st.Message()})
	}
	return resp, nil
}

func (s *GRPCServer) RenameFile(ctx context.Context, req *RenameFileRequest) (*FileResponse, error) {
	acc, err := s.access(ctx, req.FileAccess)
	if err != nil {
		return nil, s.fail(ctx, "authorize", err)
	}
	f, err := s.buckets.RenameFile(ctx, acc, req.FileID, req.Name)
	if err != nil {
		return nil, s.fail(ctx, "rename file", err)
	}
	return &FileResponse{File: fileToMessage(f)}, nil
}

func (s *GRPCServer) DeleteFile(ctx context.Context, req *FileRequest) (*Empty, error) {
	acc, err := s.access(ctx, req.FileAccess)
	if err != nil {
		return nil, s.fail(ctx, "authorize", err)
	}
	if err := s.buckets.DeleteFile(ctx, acc, req.FileID); err != nil {
		return nil, s.fail(ctx, "delete file", err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) DownloadFile(ctx context.Context, req *FileRequest) (*FileResponse, error) {
	acc, err := s.access(ctx, req.FileAccess)
	if err != nil {
		return nil, s.fail(ctx, "authorize", err)
	}
	f, err := s.buckets.DownloadFile(ctx, acc, req.FileID)
	if err != nil {
		return nil, s.fail(ctx, "download file", err)
	}
	return &FileResponse{File: fileToMessage(f)}, nil
}
