package grpc

import (
	"context"
	"io"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/logging"
	"github.com/dmitrijs2005/pindrop/internal/server/auth"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/services"
)

const testSecret = "test-secret"

type pinCall struct {
	bucketID, pin, origin, challenge string
}

// fakeService embeds the interface; unexpected calls panic.
type fakeService struct {
	Service

	bucket    *models.Bucket
	pin       string
	err       error
	ownerID   string
	pinCalls  []pinCall
	ownerCall string
	uploaded  []models.UploadInput
	result    services.UploadResult
}

func (f *fakeService) CreateContainer(_ context.Context, ownerID string, meta models.BucketMeta) (*models.Bucket, string, error) {
	f.ownerID = ownerID
	if f.err != nil {
		return nil, "", f.err
	}
	b := *f.bucket
	b.Name = meta.Name
	b.OwnerEmail = meta.OwnerEmail
	return &b, f.pin, nil
}

func (f *fakeService) GetContainer(_ context.Context, _ string) (*models.Bucket, error) {
	return f.bucket, f.err
}

func (f *fakeService) GetOwnedContainer(_ context.Context, ownerID, _ string) (*models.Bucket, error) {
	f.ownerID = ownerID
	return f.bucket, f.err
}

func (f *fakeService) ListOwnedContainers(_ context.Context, ownerID string) ([]*models.Bucket, error) {
	f.ownerID = ownerID
	return []*models.Bucket{f.bucket}, f.err
}

func (f *fakeService) ResolveByPin(_ context.Context, pin, origin, challenge string) (*models.Bucket, error) {
	f.pinCalls = append(f.pinCalls, pinCall{pin: pin, origin: origin, challenge: challenge})
	if f.err != nil {
		return nil, f.err
	}
	return f.bucket, nil
}

func (f *fakeService) AuthorizeBucket(_ context.Context, bucketID, pin, origin, challenge string) (services.Access, error) {
	f.pinCalls = append(f.pinCalls, pinCall{bucketID: bucketID, pin: pin, origin: origin, challenge: challenge})
	return services.Access{}, f.err
}

func (f *fakeService) AuthorizeOwner(_ context.Context, ownerID, _ string) (services.Access, error) {
	f.ownerCall = ownerID
	return services.Access{}, f.err
}

func (f *fakeService) ListFiles(context.Context, services.Access) ([]*models.File, error) {
	return []*models.File{{ID: "f1", Name: "a.txt", Size: 3}}, nil
}

func (f *fakeService) UploadFiles(_ context.Context, _ services.Access, in []models.UploadInput) (services.UploadResult, error) {
	f.uploaded = in
	for _, u := range in {
		_, _ = io.ReadAll(u.Body)
	}
	return f.result, nil
}

func newTestServer(svc Service) *GRPCServer {
	return NewGRPCServer("127.0.0.1:0", logging.Nop(), svc, testSecret, 0, nil)
}

func testBucket() *models.Bucket {
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &models.Bucket{
		ID: "9b2f0c8e-1f7e-4c55-9a55-3f1d2b7f0a11", Name: "docs", OwnerID: "user-1",
		OwnerEmail: "owner@example.com", Collaborators: []string{"ann@example.com"},
		CreatedAt: created, UpdatedAt: created, Active: true,
	}
}

func mustToken(id auth.Identity, validity time.Duration) string {
	tok, err := auth.GenerateToken(id, []byte(testSecret), validity)
	if err != nil {
		panic(err)
	}
	return tok
}

var errBoom = common.Unavailable("db", io.ErrUnexpectedEOF)
