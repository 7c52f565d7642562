// Package services holds the bucket access service: the verbs the transport
// layer exposes, composed from the codec, governor, lifecycle monitor, quota
// accountant, blob store and repositories.
package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/logging"
	"github.com/dmitrijs2005/pindrop/internal/server/blobstore"
	"github.com/dmitrijs2005/pindrop/internal/server/governor"
	"github.com/dmitrijs2005/pindrop/internal/server/lifecycle"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/pincodec"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Governor gates PIN verification per origin.
type Governor interface {
	CheckAndRecord(ctx context.Context, origin, challengeToken string) (governor.Outcome, error)
	RecordFailure(ctx context.Context, origin string) error
}

// Lifecycle vetoes reads of buckets that are due for destruction and
// destroys buckets on request.
type Lifecycle interface {
	CheckOnRead(ctx context.Context, b *models.Bucket) (*models.Bucket, error)
	Purge(ctx context.Context, bucketID string) (lifecycle.PurgeReport, error)
	Sweep(ctx context.Context) (lifecycle.SweepReport, error)
	Now() time.Time
}

// Accountant admits uploads against the owner's quota.
type Accountant interface {
	CheckObjectSize(size int64) error
	Admit(ctx context.Context, ownerID string, incoming int64) error
}

// BlobStore stores file content.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (blobstore.Location, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key, filename string) (string, error)
}

// BucketCache holds recently read buckets. Every write path here updates or
// drops the entry.
type BucketCache interface {
	Get(id string) (*models.Bucket, bool)
	Put(b *models.Bucket)
	Forget(id string)
}

const (
	maxNameLength = 255
	scanPageSize  = 500
	createRetries = 2
)

type BucketService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	codec       *pincodec.Codec
	governor    Governor
	lifecycle   Lifecycle
	quota       Accountant
	blobs       BlobStore
	cache       BucketCache
	logger      logging.Logger

	createBackoff time.Duration
}

func NewBucketService(db dbx.DBTX, rm repomanager.RepositoryManager, codec *pincodec.Codec, gov Governor,
	life Lifecycle, quota Accountant, blobs BlobStore, cache BucketCache, logger logging.Logger) *BucketService {
	return &BucketService{
		db:            db,
		repomanager:   rm,
		codec:         codec,
		governor:      gov,
		lifecycle:     life,
		quota:         quota,
		blobs:         blobs,
		cache:         cache,
		logger:        logger.With("module", "buckets"),
		createBackoff: 50 * time.Millisecond,
	}
}

// backend passes through the caller-facing error kinds and wraps everything
// else as a retryable backend failure.
func backend(op string, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrorRateLimited),
		errors.Is(err, common.ErrorBackendUnavailable):
		return err
	default:
		return common.Unavailable(op, err)
	}
}

func validName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", common.Validationf("%s name is required", kind)
	}
	if len(name) > maxNameLength {
		return "", common.Validationf("%s name is longer than %d characters", kind, maxNameLength)
	}
	return name, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = normalizeEmail(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// loadBucket fetches a bucket by id through the cache, applying the lazy
// lifecycle check. Inactive buckets inside their grace period are returned.
func (s *BucketService) loadBucket(ctx context.Context, id string) (*models.Bucket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	b, ok := s.cache.Get(id)
	if !ok {
		var err error
		b, err = s.repomanager.Buckets(s.db).GetByID(ctx, id)
		if err != nil {
			return nil, backend("get bucket", err)
		}
	}

	b, err := s.lifecycle.CheckOnRead(ctx, b)
	if err != nil {
		s.cache.Forget(id)
		return nil, err
	}
	s.cache.Put(b)
	return b, nil
}
