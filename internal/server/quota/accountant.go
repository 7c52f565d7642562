// Package quota admits uploads against the per-owner storage cap.
package quota

import (
	"context"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/repomanager"
	"github.com/dustin/go-humanize"
)

// Accountant computes usage on demand from the live file set; the per-bucket
// totals kept for display are never consulted.
type Accountant struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	capBytes    int64
	maxObject   int64
}

func NewAccountant(db dbx.DBTX, rm repomanager.RepositoryManager, capBytes, maxObject int64) *Accountant {
	return &Accountant{db: db, repomanager: rm, capBytes: capBytes, maxObject: maxObject}
}

func (a *Accountant) Cap() int64 { return a.capBytes }

// TotalUsed sums the active files of the owner's active buckets.
func (a *Accountant) TotalUsed(ctx context.Context, ownerID string) (int64, error) {
	n, err := a.repomanager.Files(a.db).ActiveBytesByOwner(ctx, ownerID)
	if err != nil {
		return 0, common.Unavailable("usage", err)
	}
	return n, nil
}

// CheckObjectSize applies the per-object ceiling.
func (a *Accountant) CheckObjectSize(size int64) error {
	if size < 0 {
		return common.Validationf("invalid file size %d", size)
	}
	if size > a.maxObject {
		return common.Validationf("file is %s, the limit is %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(a.maxObject)))
	}
	return nil
}

// Admit rejects incoming bytes that would push ownerID over the cap. ownerID
// is the bucket owner, whoever the uploader is.
func (a *Accountant) Admit(ctx context.Context, ownerID string, incoming int64) error {
	if err := a.CheckObjectSize(incoming); err != nil {
		return err
	}
	used, err := a.TotalUsed(ctx, ownerID)
	if err != nil {
		return err
	}
	if used+incoming > a.capBytes {
		return common.Validationf("storage quota exceeded: %s used of %s, upload needs %s",
			humanize.IBytes(uint64(used)), humanize.IBytes(uint64(a.capBytes)), humanize.IBytes(uint64(incoming)))
	}
	return nil
}
