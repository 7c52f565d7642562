// Package governor rate-limits PIN verification per client origin.
//
// The asset protected is the PIN space, not any one bucket, so counting is
// keyed by origin only. Every call that reaches bucket verification is an
// attempt; a verification that matches nothing is additionally a failure.
// Lockout is driven by attempts, challenge escalation by failures.
package governor

import (
	"context"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/logging"
)

const (
	// Period is the trailing window counted for every origin.
	Period = time.Hour
	// LockoutThreshold attempts within Period lock an origin out.
	LockoutThreshold = 10
	// ChallengeThreshold failures within Period require a solved challenge.
	ChallengeThreshold = 3
)

// Decision is the state of an origin at the time of a check.
type Decision int

const (
	Allowed Decision = iota
	ChallengeRequired
	LockedOut
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case ChallengeRequired:
		return "challenge_required"
	case LockedOut:
		return "locked_out"
	default:
		return "unknown"
	}
}

// Outcome is the answer to a check. RetryAfter is set for LockedOut only.
type Outcome struct {
	Decision   Decision
	RetryAfter time.Duration
}

// Err converts a refusing outcome into a *common.RateLimitError.
func (o Outcome) Err() error {
	switch o.Decision {
	case ChallengeRequired:
		return &common.RateLimitError{Challenge: true}
	case LockedOut:
		return &common.RateLimitError{RetryAfter: o.RetryAfter}
	default:
		return nil
	}
}

// Counts is the in-window view of one origin.
type Counts struct {
	Attempts      int
	Failures      int
	OldestAttempt time.Time
}

// Ledger stores timestamped attempts and failures per origin. Entries older
// than Period before now are pruned and never counted. Implementations must
// be safe for concurrent use.
type Ledger interface {
	Counts(ctx context.Context, origin string, now time.Time) (Counts, error)
	AddAttempt(ctx context.Context, origin string, at time.Time) error
	AddFailure(ctx context.Context, origin string, at time.Time) error
}

// ChallengeVerifier checks a solved challenge token with an external service.
type ChallengeVerifier interface {
	Verify(ctx context.Context, token, origin string) (bool, error)
}

// Governor decides whether an origin may verify a PIN right now.
type Governor struct {
	ledger   Ledger
	verifier ChallengeVerifier
	logger   logging.Logger
	now      func() time.Time
}

func New(ledger Ledger, verifier ChallengeVerifier, logger logging.Logger) *Governor {
	return &Governor{
		ledger:   ledger,
		verifier: verifier,
		logger:   logger.With("module", "governor"),
		now:      time.Now,
	}
}

// Status reports the current decision for origin without recording anything
// and without consulting the challenge verifier.
func (g *Governor) Status(ctx context.Context, origin string) (Outcome, error) {
	now := g.now()
	counts, err := g.ledger.Counts(ctx, originKey(origin), now)
	if err != nil {
		return Outcome{}, common.Unavailable("attempt ledger", err)
	}
	return decide(counts, now), nil
}

// CheckAndRecord gates one verification. An Allowed outcome has already been
// recorded as an attempt. A refused outcome records nothing: a missing or
// invalid challenge token does not consume an attempt.
func (g *Governor) CheckAndRecord(ctx context.Context, origin, challengeToken string) (Outcome, error) {
	key := originKey(origin)
	now := g.now()

	counts, err := g.ledger.Counts(ctx, key, now)
	if err != nil {
		return Outcome{}, common.Unavailable("attempt ledger", err)
	}

	out := decide(counts, now)
	switch out.Decision {
	case LockedOut:
		g.logger.Warn(ctx, "origin locked out", "origin", key, "attempts", counts.Attempts, "retry_after", out.RetryAfter)
		return out, nil
	case ChallengeRequired:
		if !g.challengeSolved(ctx, key, challengeToken) {
			return out, nil
		}
	}

	if err := g.ledger.AddAttempt(ctx, key, now); err != nil {
		return Outcome{}, common.Unavailable("attempt ledger", err)
	}
	return Outcome{Decision: Allowed}, nil
}

// RecordFailure counts a verification that matched no bucket.
func (g *Governor) RecordFailure(ctx context.Context, origin string) error {
	if err := g.ledger.AddFailure(ctx, originKey(origin), g.now()); err != nil {
		return common.Unavailable("attempt ledger", err)
	}
	return nil
}

func (g *Governor) challengeSolved(ctx context.Context, origin, token string) bool {
	if token == "" {
		return false
	}
	ok, err := g.verifier.Verify(ctx, token, origin)
	if err != nil {
		g.logger.Warn(ctx, "challenge verification failed", "origin", origin, "error", err)
		return false
	}
	return ok
}

func decide(c Counts, now time.Time) Outcome {
	if c.Attempts >= LockoutThreshold {
		retry := c.OldestAttempt.Add(Period).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Outcome{Decision: LockedOut, RetryAfter: retry}
	}
	if c.Failures >= ChallengeThreshold {
		return Outcome{Decision: ChallengeRequired}
	}
	return Outcome{Decision: Allowed}
}

// originKey folds unresolved origins into one shared bucket.
func originKey(origin string) string {
	if origin == "" {
		return common.UnknownOrigin
	}
	return origin
}
