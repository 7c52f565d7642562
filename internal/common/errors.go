// Package common defines shared constants and sentinel errors used across
// the pindrop server and its admin tooling. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal           = errors.New("internal error")
	ErrorUnauthorized       = errors.New("unauthorized")
	ErrorForbidden          = errors.New("forbidden")
	ErrorBackendUnavailable = errors.New("backend unavailable")

	// Caller input that can be shown back verbatim (malformed PIN, oversize file, quota).
	ErrorValidation = errors.New("validation error")

	// Attempt governor escalation; see RateLimitError.
	ErrorRateLimited = errors.New("rate limited")

	// Stored credential blob could not be opened.
	ErrorDecryption = errors.New("decryption error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// RateLimitError is returned when PIN verification is refused before any
// bucket is looked at. Challenge is set when a verified challenge token would
// let the call proceed; otherwise the origin is locked out for RetryAfter.
type RateLimitError struct {
	Challenge  bool
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Challenge {
		return "rate limited: challenge required"
	}
	return fmt.Sprintf("rate limited: locked out, retry in %d minutes", e.MinutesLeft())
}

// Is makes errors.Is(err, ErrorRateLimited) hold for every RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrorRateLimited
}

// MinutesLeft rounds RetryAfter up to whole minutes, never below one.
func (e *RateLimitError) MinutesLeft() int {
	m := int(math.Ceil(e.RetryAfter.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

// Validationf builds an error wrapping ErrorValidation with a caller-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorValidation, fmt.Sprintf(format, args...))
}

// Unavailable wraps a backend failure so callers can match ErrorBackendUnavailable
// while the original cause stays in the chain for logging.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrorBackendUnavailable, op, err)
}
