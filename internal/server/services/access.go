package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/pincodec"
)

// Access is proof that the caller may work with a bucket's files. It is only
// produced by AuthorizeBucket and AuthorizeOwner.
type Access struct {
	bucket *models.Bucket
	actor  string
}

func (a Access) Bucket() *models.Bucket { return a.bucket }

// Actor is the owner id for owner access and empty for PIN holders.
func (a Access) Actor() string { return a.actor }

// ResolveByPin finds the active bucket a PIN opens. The governor is consulted
// before any lookup; a lookup that finds nothing, or finds a bucket that turns
// out to be expired, is recorded as a failure for origin.
func (s *BucketService) ResolveByPin(ctx context.Context, pin, origin, challengeToken string) (*models.Bucket, error) {
	candidate, err := s.gate(ctx, pin, origin, challengeToken)
	if err != nil {
		return nil, err
	}

	b, err := s.findByPin(ctx, candidate)
	if err == nil {
		b, err = s.lifecycle.CheckOnRead(ctx, b)
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.recordFailure(ctx, origin)
		}
		return nil, err
	}

	s.cache.Put(b)
	return b, nil
}

// AuthorizeBucket checks pin against one bucket. A mismatch counts against
// origin exactly like a failed ResolveByPin.
func (s *BucketService) AuthorizeBucket(ctx context.Context, bucketID, pin, origin, challengeToken string) (Access, error) {
	candidate, err := s.gate(ctx, pin, origin, challengeToken)
	if err != nil {
		return Access{}, err
	}

	b, err := s.loadBucket(ctx, bucketID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return Access{}, err
	}
	if err != nil || !b.Active || !s.codec.Match(candidate, b.Credential) {
		s.recordFailure(ctx, origin)
		return Access{}, common.ErrorNotFound
	}
	return Access{bucket: b}, nil
}

// AuthorizeOwner grants the owner access to one of their active buckets.
func (s *BucketService) AuthorizeOwner(ctx context.Context, ownerID, bucketID string) (Access, error) {
	b, err := s.GetOwnedContainer(ctx, ownerID, bucketID)
	if err != nil {
		return Access{}, err
	}
	if !b.Active {
		return Access{}, common.ErrorNotFound
	}
	return Access{bucket: b, actor: ownerID}, nil
}

// gate validates the PIN shape and asks the governor for permission. A
// malformed PIN is rejected without touching the ledger.
func (s *BucketService) gate(ctx context.Context, pin, origin, challengeToken string) (string, error) {
	candidate := pincodec.Normalize(pin)
	if !pincodec.Valid(candidate) {
		return "", common.Validationf("malformed PIN")
	}

	out, err := s.governor.CheckAndRecord(ctx, origin, challengeToken)
	if err != nil {
		return "", err
	}
	if err := out.Err(); err != nil {
		return "", err
	}
	return candidate, nil
}

func (s *BucketService) recordFailure(ctx context.Context, origin string) {
	if err := s.governor.RecordFailure(ctx, origin); err != nil {
		s.logger.Error(ctx, "record pin failure", "origin", origin, "error", err)
	}
}

// findByPin tries the legacy plaintext equality lookup first and then scans
// the verification hashes of active protected buckets, page by page.
func (s *BucketService) findByPin(ctx context.Context, candidate string) (*models.Bucket, error) {
	repo := s.repomanager.Buckets(s.db)

	b, err := repo.FindActiveByLegacyPin(ctx, candidate)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, backend("legacy pin lookup", err)
	}

	after := ""
	for {
		page, err := repo.PinCandidates(ctx, after, scanPageSize)
		if err != nil {
			return nil, backend("pin scan", err)
		}
		for _, c := range page {
			if !s.codec.Verify(candidate, c.Hash) {
				continue
			}
			b, err := repo.GetByID(ctx, c.BucketID)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return nil, backend("get bucket", err)
			}
			if b.Active {
				return b, nil
			}
		}
		if len(page) < scanPageSize {
			return nil, common.ErrorNotFound
		}
		after = page[len(page)-1].BucketID
	}
}
