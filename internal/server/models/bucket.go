// Package models defines server-side data models persisted in the database.
package models

import "time"

// Bucket is a PIN-addressable container of files owned by one user.
type Bucket struct {
	ID            string
	Name          string
	Description   string
	OwnerID       string
	OwnerEmail    string
	Collaborators []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Active        bool

	// FileCount and ByteSize are recomputed from the live file set after every
	// file mutation; they are a display cache, never the quota source of truth.
	FileCount int64
	ByteSize  int64

	Credential Credential

	// Set when the bucket leaves the Active state.
	DeletedAt      *time.Time
	DeletionReason string

	// Cosmetic.
	Color string
	Icon  string
}

// BucketMeta carries the caller-editable attributes of a bucket.
type BucketMeta struct {
	Name          string
	Description   string
	OwnerEmail    string
	Collaborators []string
	Color         string
	Icon          string
}

// BucketPatch is a partial update; nil fields are left untouched.
type BucketPatch struct {
	Name          *string
	Description   *string
	Collaborators *[]string
	Color         *string
	Icon          *string
}

// Deletion reasons recorded on a bucket.
const (
	DeletionReasonOwner   = "owner"
	DeletionReasonExpired = "expired"
)

// PinCandidate is the verify-only projection of a protected bucket used by
// the fallback PIN scan. It deliberately carries no encrypted blob.
type PinCandidate struct {
	BucketID string
	Hash     []byte
}
