// Package orphans reports blobs that could not be deleted so they can be
// reconciled later.
package orphans

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/logging"
)

// Orphan is a blob left behind by a purge.
type Orphan struct {
	BucketID   string    `json:"bucket_id"`
	FileID     string    `json:"file_id"`
	StorageKey string    `json:"storage_key"`
	Error      string    `json:"error"`
	ReportedAt time.Time `json:"reported_at"`
}

type Reporter interface {
	Report(ctx context.Context, orphans []Orphan) error
}

// LogReporter writes one warning per orphan.
type LogReporter struct {
	logger logging.Logger
}

func NewLogReporter(logger logging.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("module", "orphans")}
}

func (r *LogReporter) Report(ctx context.Context, orphans []Orphan) error {
	for _, o := range orphans {
		r.logger.Warn(ctx, "orphaned blob",
			"bucket_id", o.BucketID,
			"file_id", o.FileID,
			"storage_key", o.StorageKey,
			"error", o.Error,
		)
	}
	return nil
}
