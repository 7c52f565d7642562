package governor

import (
	"context"
	"sync"
	"time"
)

type window struct {
	attempts []time.Time
	failures []time.Time
}

// MemoryLedger keeps the ledger in process memory. Horizontally scaled
// deployments get one independent ledger per process; use RedisLedger there.
type MemoryLedger struct {
	mu      sync.Mutex
	origins map[string]*window
	period  time.Duration
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{origins: make(map[string]*window), period: Period}
}

func (m *MemoryLedger) Counts(_ context.Context, origin string, now time.Time) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.prune(origin, now)
	if w == nil {
		return Counts{}, nil
	}
	c := Counts{Attempts: len(w.attempts), Failures: len(w.failures)}
	if len(w.attempts) > 0 {
		c.OldestAttempt = w.attempts[0]
	}
	return c, nil
}

func (m *MemoryLedger) AddAttempt(_ context.Context, origin string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.get(origin, at)
	w.attempts = insertSorted(w.attempts, at)
	return nil
}

func (m *MemoryLedger) AddFailure(_ context.Context, origin string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.get(origin, at)
	w.failures = insertSorted(w.failures, at)
	return nil
}

func (m *MemoryLedger) get(origin string, now time.Time) *window {
	if w := m.prune(origin, now); w != nil {
		return w
	}
	w := &window{}
	m.origins[origin] = w
	return w
}

// prune drops expired entries for origin and forgets the origin entirely once
// nothing is left. Caller holds mu.
func (m *MemoryLedger) prune(origin string, now time.Time) *window {
	w, ok := m.origins[origin]
	if !ok {
		return nil
	}
	cutoff := now.Add(-m.period)
	w.attempts = dropBefore(w.attempts, cutoff)
	w.failures = dropBefore(w.failures, cutoff)
	if len(w.attempts) == 0 && len(w.failures) == 0 {
		delete(m.origins, origin)
		return nil
	}
	return w
}

// dropBefore removes the prefix of ts at or before cutoff; ts is sorted.
func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func insertSorted(ts []time.Time, t time.Time) []time.Time {
	i := len(ts)
	for i > 0 && ts[i-1].After(t) {
		i--
	}
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = t
	return ts
}
