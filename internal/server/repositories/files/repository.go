// Package files persists file records belonging to buckets.
package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, f *models.File) (*models.File, error)
	GetActive(ctx context.Context, bucketID, id string) (*models.File, error)
	ListActive(ctx context.Context, bucketID string) ([]*models.File, error)
	ListAll(ctx context.Context, bucketID string) ([]*models.File, error)
	Rename(ctx context.Context, bucketID, id, name string) error
	Deactivate(ctx context.Context, bucketID, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByBucket(ctx context.Context, bucketID string) (int64, error)
	RecordDownload(ctx context.Context, bucketID, id string, at time.Time) (*models.File, error)
	ActiveBytesByOwner(ctx context.Context, ownerID string) (int64, error)
}
