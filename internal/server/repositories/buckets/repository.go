// Package buckets persists bucket records.
package buckets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, b *models.Bucket) (*models.Bucket, error)
	GetByID(ctx context.Context, id string) (*models.Bucket, error)
	FindActiveByLegacyPin(ctx context.Context, pin string) (*models.Bucket, error)
	PinCandidates(ctx context.Context, afterID string, limit int) ([]models.PinCandidate, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Bucket, error)
	ListByCollaborator(ctx context.Context, email string) ([]*models.Bucket, error)
	Update(ctx context.Context, id string, patch models.BucketPatch) (*models.Bucket, error)
	Deactivate(ctx context.Context, id, reason string, at time.Time) error
	Restore(ctx context.Context, id string, at time.Time) error
	RecomputeStats(ctx context.Context, id string) (models.UsageTotals, error)
	ListExpiredActive(ctx context.Context, createdBefore time.Time) ([]string, error)
	ListStaleInactive(ctx context.Context, updatedBefore time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
}
