// Package lifecycle computes bucket lifecycle state and destroys buckets whose
// time is up, either lazily on read or in a periodic sweep.
package lifecycle

import (
	"time"

	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

const (
	// ExpiryAge is the age at which an active bucket is destroyed outright.
	ExpiryAge = 7 * 24 * time.Hour
	// InactiveGrace is how long a soft-deleted bucket survives.
	InactiveGrace = 24 * time.Hour
)

// State is derived from a bucket's flags and timestamps, never stored.
type State int

const (
	Active State = iota
	// Expired is an active bucket past ExpiryAge.
	Expired
	// Inactive is a soft-deleted bucket still inside its grace period.
	Inactive
	// GraceElapsed is a soft-deleted bucket past InactiveGrace.
	GraceElapsed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	case Inactive:
		return "inactive"
	case GraceElapsed:
		return "grace_elapsed"
	default:
		return "unknown"
	}
}

func StateOf(b *models.Bucket, now time.Time) State {
	if b.Active {
		if now.Sub(b.CreatedAt) >= ExpiryAge {
			return Expired
		}
		return Active
	}
	if now.Sub(b.UpdatedAt) >= InactiveGrace {
		return GraceElapsed
	}
	return Inactive
}

// PurgeDue reports whether the bucket must be destroyed now.
func PurgeDue(b *models.Bucket, now time.Time) bool {
	switch StateOf(b, now) {
	case Expired, GraceElapsed:
		return true
	default:
		return false
	}
}

// RestoreDeadline is the last moment a soft-deleted bucket can be restored.
func RestoreDeadline(b *models.Bucket) time.Time {
	return b.UpdatedAt.Add(InactiveGrace)
}
