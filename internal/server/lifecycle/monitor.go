package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/logging"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/orphans"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/repomanager"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const purgeConcurrency = 4

// BlobDeleter is the part of the blob store a purge needs.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached copies of a bucket.
type Invalidator interface {
	Forget(id string)
}

// PurgeReport describes one bucket purge.
type PurgeReport struct {
	BucketID     string
	FilesDeleted int64
	Orphans      []orphans.Orphan
}

// SweepReport summarises one sweep pass.
type SweepReport struct {
	Candidates   int
	Purged       int
	FilesDeleted int64
	Orphans      int
}

type Monitor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       BlobDeleter
	orphans     orphans.Reporter
	cache       Invalidator
	logger      logging.Logger
	now         func() time.Time
	concurrency int
}

// NewMonitor wires a Monitor. cache may be nil; a nil reporter logs orphans.
func NewMonitor(db *sql.DB, rm repomanager.RepositoryManager, blobs BlobDeleter, reporter orphans.Reporter,
	cache Invalidator, logger logging.Logger) *Monitor {
	if reporter == nil {
		reporter = orphans.NewLogReporter(logger)
	}
	return &Monitor{
		db:          db,
		repomanager: rm,
		blobs:       blobs,
		orphans:     reporter,
		cache:       cache,
		logger:      logger.With("module", "lifecycle"),
		now:         time.Now,
		concurrency: purgeConcurrency,
	}
}

// Now is the clock the monitor judges lifecycle state with.
func (m *Monitor) Now() time.Time {
	return m.now()
}

// CheckOnRead returns b unchanged unless it is due for purging, in which case
// it is purged inline and ErrorNotFound is returned. Purge failures are logged;
// the caller sees NotFound either way.
func (m *Monitor) CheckOnRead(ctx context.Context, b *models.Bucket) (*models.Bucket, error) {
	if !PurgeDue(b, m.now()) {
		return b, nil
	}
	if _, err := m.Purge(ctx, b.ID); err != nil {
		m.logger.Error(ctx, "lazy purge failed", "bucket_id", b.ID, "error", err)
	}
	return nil, common.ErrorNotFound
}

// Purge destroys a bucket: every blob first, collecting failures as orphans,
// then all file records and the bucket record in one transaction.
func (m *Monitor) Purge(ctx context.Context, bucketID string) (PurgeReport, error) {
	rep := PurgeReport{BucketID: bucketID}

	files, err := m.repomanager.Files(m.db).ListAll(ctx, bucketID)
	if err != nil {
		return rep, common.Unavailable("list files", err)
	}

	rep.Orphans = m.deleteBlobs(ctx, bucketID, files)
	if len(rep.Orphans) > 0 {
		if err := m.orphans.Report(ctx, rep.Orphans); err != nil {
			m.logger.Warn(ctx, "orphan report failed", "bucket_id", bucketID, "error", err)
		}
	}

	err = dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := m.repomanager.Files(tx).DeleteByBucket(ctx, bucketID)
		if err != nil {
			return err
		}
		rep.FilesDeleted = n
		if err := m.repomanager.Buckets(tx).Delete(ctx, bucketID); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return nil
	})
	if m.cache != nil {
		m.cache.Forget(bucketID)
	}
	if err != nil {
		return rep, common.Unavailable("delete records", err)
	}

	m.logger.Info(ctx, "bucket purged", "bucket_id", bucketID, "files", rep.FilesDeleted, "orphans", len(rep.Orphans))
	return rep, nil
}

// deleteBlobs removes every file's blob with bounded concurrency. A failure
// never stops the others; it becomes an orphan.
func (m *Monitor) deleteBlobs(ctx context.Context, bucketID string, files []*models.File) []orphans.Orphan {
	var (
		mu     sync.Mutex
		result []orphans.Orphan
		errs   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, f := range files {
		g.Go(func() error {
			err := m.blobs.Delete(gctx, f.StorageKey)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			errs = multierr.Append(errs, err)
			result = append(result, orphans.Orphan{
				BucketID:   bucketID,
				FileID:     f.ID,
				StorageKey: f.StorageKey,
				Error:      err.Error(),
				ReportedAt: m.now(),
			})
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		m.logger.Debug(ctx, "blob deletions failed", "bucket_id", bucketID, "count", len(multierr.Errors(errs)))
	}
	return result
}

// Sweep purges every expired active bucket and every soft-deleted bucket past
// its grace period. A failing bucket is logged and skipped.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	now := m.now()
	repo := m.repomanager.Buckets(m.db)

	expired, err := repo.ListExpiredActive(ctx, now.Add(-ExpiryAge))
	if err != nil {
		return rep, common.Unavailable("list expired buckets", err)
	}
	stale, err := repo.ListStaleInactive(ctx, now.Add(-InactiveGrace))
	if err != nil {
		return rep, common.Unavailable("list inactive buckets", err)
	}

	seen := make(map[string]struct{}, len(expired)+len(stale))
	var ids []string
	for _, id := range append(expired, stale...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	rep.Candidates = len(ids)

	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		pr, err := m.Purge(ctx, id)
		rep.Orphans += len(pr.Orphans)
		if err != nil {
			m.logger.Error(ctx, "sweep purge failed", "bucket_id", id, "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		rep.Purged++
		rep.FilesDeleted += pr.FilesDeleted
	}

	m.logger.Info(ctx, "sweep finished",
		"candidates", rep.Candidates,
		"purged", rep.Purged,
		"files", rep.FilesDeleted,
		"orphans", rep.Orphans,
	)
	return rep, errs
}
