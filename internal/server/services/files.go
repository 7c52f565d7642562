package services

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/server/blobstore"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// UploadFailure is one rejected input of an UploadFiles call.
type UploadFailure struct {
	Name string
	Err  error
}

// UploadResult reports what an UploadFiles call stored. Totals are the
// bucket's recomputed stats and are zero when nothing was stored.
type UploadResult struct {
	Uploaded []*models.File
	Failed   []UploadFailure
	Totals   models.UsageTotals
}

// Err combines the per-file failures, or returns nil.
func (r UploadResult) Err() error {
	var errs error
	for _, f := range r.Failed {
		errs = multierr.Append(errs, f.Err)
	}
	return errs
}

// UploadFiles stores each input independently: one rejected file never stops
// the others. Inputs run in order so each quota check sees the bytes the
// previous ones added. The quota charged is the bucket owner's.
func (s *BucketService) UploadFiles(ctx context.Context, acc Access, inputs []models.UploadInput) (UploadResult, error) {
	var res UploadResult
	b := acc.Bucket()
	if b == nil {
		return res, common.ErrorUnauthorized
	}

	for _, in := range inputs {
		f, err := s.uploadOne(ctx, b, acc.Actor(), in)
		if err != nil {
			s.logger.Warn(ctx, "upload rejected", "bucket_id", b.ID, "name", in.Name, "error", err)
			res.Failed = append(res.Failed, UploadFailure{Name: in.Name, Err: err})
			continue
		}
		res.Uploaded = append(res.Uploaded, f)
	}

	if len(res.Uploaded) > 0 {
		res.Totals = s.recomputeStats(ctx, b.ID)
	}
	return res, nil
}

func (s *BucketService) uploadOne(ctx context.Context, b *models.Bucket, uploaderID string, in models.UploadInput) (*models.File, error) {
	name, err := validName("file", in.Name)
	if err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, common.Validationf("file %q has no content", name)
	}
	if err := s.quota.CheckObjectSize(in.Size); err != nil {
		return nil, err
	}
	if err := s.quota.Admit(ctx, b.OwnerID, in.Size); err != nil {
		return nil, err
	}

	// Read one byte past the declared size so a lying client is caught
	// before the blob is stored and the quota check is bypassed.
	data, err := io.ReadAll(io.LimitReader(in.Body, in.Size+1))
	if err != nil {
		return nil, common.Validationf("read %q: %v", name, err)
	}
	if int64(len(data)) != in.Size {
		return nil, common.Validationf("file %q is not %d bytes long", name, in.Size)
	}

	key := blobstore.NewStorageKey(b.ID, s.lifecycle.Now())
	loc, err := s.blobs.Put(ctx, key, bytes.NewReader(data), in.Size, in.ContentType)
	if err != nil {
		return nil, common.Unavailable("store blob", err)
	}

	f, err := s.repomanager.Files(s.db).Create(ctx, &models.File{
		BucketID:    b.ID,
		Name:        name,
		Size:        in.Size,
		ContentType: in.ContentType,
		UploaderID:  uploaderID,
		StorageKey:  key,
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn(ctx, "orphaned blob", "bucket_id", b.ID, "storage_key", key, "error", derr)
		}
		return nil, backend("create file", err)
	}
	f.URL = loc.URL
	return f, nil
}

// recomputeStats refreshes the bucket's display totals. They are a cache, so
// a failure is logged and otherwise ignored.
func (s *BucketService) recomputeStats(ctx context.Context, bucketID string) models.UsageTotals {
	defer s.cache.Forget(bucketID)
	t, err := s.repomanager.Buckets(s.db).RecomputeStats(ctx, bucketID)
	if err != nil {
		s.logger.Warn(ctx, "recompute stats failed", "bucket_id", bucketID, "error", err)
	}
	return t
}

func (s *BucketService) ListFiles(ctx context.Context, acc Access) ([]*models.File, error) {
	b := acc.Bucket()
	if b == nil {
		return nil, common.ErrorUnauthorized
	}
	list, err := s.repomanager.Files(s.db).ListActive(ctx, b.ID)
	if err != nil {
		return nil, backend("list files", err)
	}
	return list, nil
}

func (s *BucketService) RenameFile(ctx context.Context, acc Access, fileID, name string) (*models.File, error) {
	b := acc.Bucket()
	if b == nil {
		return nil, common.ErrorUnauthorized
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, common.ErrorNotFound
	}
	name, err := validName("file", name)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Files(s.db)
	if err := repo.Rename(ctx, b.ID, fileID, name); err != nil {
		return nil, backend("rename file", err)
	}
	f, err := repo.GetActive(ctx, b.ID, fileID)
	if err != nil {
		return nil, backend("get file", err)
	}
	return f, nil
}

// DeleteFile hides the file, removes its blob and then its record. If the
// blob cannot be removed the record stays hidden so the bucket's purge
// retries the blob later.
func (s *BucketService) DeleteFile(ctx context.Context, acc Access, fileID string) error {
	b := acc.Bucket()
	if b == nil {
		return common.ErrorUnauthorized
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return common.ErrorNotFound
	}

	repo := s.repomanager.Files(s.db)
	f, err := repo.GetActive(ctx, b.ID, fileID)
	if err != nil {
		return backend("get file", err)
	}
	if err := repo.Deactivate(ctx, b.ID, fileID); err != nil {
		return backend("deactivate file", err)
	}
	defer s.recomputeStats(ctx, b.ID)

	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		s.logger.Warn(ctx, "blob delete failed, file kept hidden", "bucket_id", b.ID, "file_id", fileID, "error", err)
		return nil
	}
	if err := repo.Delete(ctx, fileID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "file record delete failed", "bucket_id", b.ID, "file_id", fileID, "error", err)
	}
	return nil
}

// DownloadFile counts a download and returns the file with a short-lived URL.
func (s *BucketService) DownloadFile(ctx context.Context, acc Access, fileID string) (*models.File, error) {
	b := acc.Bucket()
	if b == nil {
		return nil, common.ErrorUnauthorized
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, common.ErrorNotFound
	}

	f, err := s.repomanager.Files(s.db).RecordDownload(ctx, b.ID, fileID, s.lifecycle.Now())
	if err != nil {
		return nil, backend("record download", err)
	}
	url, err := s.blobs.PresignGet(ctx, f.StorageKey, f.Name)
	if err != nil {
		return nil, common.Unavailable("presign download", err)
	}
	f.URL = url
	return f, nil
}
