package services

import (
	"context"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/server/lifecycle"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/sethvargo/go-retry"
)

// CreateContainer issues a fresh PIN and persists a bucket protected by it.
// The PIN is returned once here; afterwards only RevealPin can show it.
func (s *BucketService) CreateContainer(ctx context.Context, ownerID string, meta models.BucketMeta) (*models.Bucket, string, error) {
	name, err := validName("bucket", meta.Name)
	if err != nil {
		return nil, "", err
	}

	pin, err := s.codec.GeneratePin()
	if err != nil {
		return nil, "", common.ErrorInternal
	}
	cred, err := s.codec.Protect(pin)
	if err != nil {
		return nil, "", common.ErrorInternal
	}

	in := &models.Bucket{
		Name:          name,
		Description:   meta.Description,
		OwnerID:       ownerID,
		OwnerEmail:    normalizeEmail(meta.OwnerEmail),
		Collaborators: normalizeEmails(meta.Collaborators),
		Color:         meta.Color,
		Icon:          meta.Icon,
		Credential:    cred,
	}

	var created *models.Bucket
	backoff := retry.WithMaxRetries(createRetries, retry.NewExponential(s.createBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := s.repomanager.Buckets(s.db).Create(ctx, in)
		if err != nil {
			s.logger.Warn(ctx, "create bucket failed", "owner_id", ownerID, "error", err)
			return retry.RetryableError(err)
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, "", backend("create bucket", err)
	}

	s.cache.Put(created)
	s.logger.Info(ctx, "bucket created", "bucket_id", created.ID, "owner_id", ownerID)
	return created, pin, nil
}

// GetContainer returns an active bucket by id. Absent, soft-deleted and
// expired buckets all read as ErrorNotFound.
func (s *BucketService) GetContainer(ctx context.Context, id string) (*models.Bucket, error) {
	b, err := s.loadBucket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, common.ErrorNotFound
	}
	return b, nil
}

// GetOwnedContainer returns the owner's bucket, including a soft-deleted one
// still inside its grace period. Another owner's bucket reads as not found.
func (s *BucketService) GetOwnedContainer(ctx context.Context, ownerID, id string) (*models.Bucket, error) {
	b, err := s.loadBucket(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return b, nil
}

// RevealPin shows the owner their bucket's PIN.
func (s *BucketService) RevealPin(ctx context.Context, ownerID, id string) (string, error) {
	b, err := s.GetOwnedContainer(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	pin, err := s.codec.Display(b.Credential)
	if err != nil {
		s.logger.Error(ctx, "stored pin unreadable", "bucket_id", id, "error", err)
		return "", common.ErrorNotFound
	}
	return pin, nil
}

func (s *BucketService) UpdateContainer(ctx context.Context, ownerID, id string, patch models.BucketPatch) (*models.Bucket, error) {
	b, err := s.GetOwnedContainer(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, common.ErrorNotFound
	}

	if patch.Name != nil {
		name, err := validName("bucket", *patch.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if patch.Collaborators != nil {
		c := normalizeEmails(*patch.Collaborators)
		patch.Collaborators = &c
	}

	updated, err := s.repomanager.Buckets(s.db).Update(ctx, id, patch)
	if err != nil {
		s.cache.Forget(id)
		return nil, backend("update bucket", err)
	}
	s.cache.Put(updated)
	return updated, nil
}

// DeactivateContainer soft-deletes a bucket. It stays restorable by its owner
// for lifecycle.InactiveGrace and is purged afterwards.
func (s *BucketService) DeactivateContainer(ctx context.Context, ownerID, id string) error {
	b, err := s.GetOwnedContainer(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !b.Active {
		return common.ErrorNotFound
	}

	defer s.cache.Forget(id)
	if err := s.repomanager.Buckets(s.db).Deactivate(ctx, id, models.DeletionReasonOwner, s.lifecycle.Now()); err != nil {
		return backend("deactivate bucket", err)
	}
	s.logger.Info(ctx, "bucket deactivated", "bucket_id", id)
	return nil
}

// RestoreContainer undoes a soft delete while the grace period lasts.
// Restoring an active bucket is a no-op.
func (s *BucketService) RestoreContainer(ctx context.Context, ownerID, id string) (*models.Bucket, error) {
	b, err := s.GetOwnedContainer(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if b.Active {
		return b, nil
	}

	defer s.cache.Forget(id)
	repo := s.repomanager.Buckets(s.db)
	if err := repo.Restore(ctx, id, s.lifecycle.Now()); err != nil {
		return nil, backend("restore bucket", err)
	}
	restored, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, backend("get bucket", err)
	}
	return restored, nil
}

// DeleteContainer destroys a bucket and all its files immediately.
func (s *BucketService) DeleteContainer(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetOwnedContainer(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.lifecycle.Purge(ctx, id); err != nil {
		return backend("purge bucket", err)
	}
	return nil
}

// ListOwnedContainers lists the owner's buckets, soft-deleted ones included.
// Buckets due for purge are left out.
func (s *BucketService) ListOwnedContainers(ctx context.Context, ownerID string) ([]*models.Bucket, error) {
	list, err := s.repomanager.Buckets(s.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, backend("list buckets", err)
	}
	return s.visible(list), nil
}

// ListSharedContainers lists active buckets naming email as a collaborator.
func (s *BucketService) ListSharedContainers(ctx context.Context, email string) ([]*models.Bucket, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	list, err := s.repomanager.Buckets(s.db).ListByCollaborator(ctx, email)
	if err != nil {
		return nil, backend("list shared buckets", err)
	}
	return s.visible(list), nil
}

func (s *BucketService) visible(list []*models.Bucket) []*models.Bucket {
	now := s.lifecycle.Now()
	out := list[:0]
	for _, b := range list {
		if lifecycle.PurgeDue(b, now) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Sweep runs one lifecycle pass over every bucket.
func (s *BucketService) Sweep(ctx context.Context) (lifecycle.SweepReport, error) {
	return s.lifecycle.Sweep(ctx)
}
