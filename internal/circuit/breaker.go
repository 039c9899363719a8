// Package circuit implements a failure-windowed restart-suppression breaker
// with half-open probing. It generalizes the teacher's two-state breaker
// (internal/provider/circuit/breaker.go: closed/cooldown only) to the
// three-state closed/open/half-open model the process supervisor requires.
package circuit

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config mirrors the parameters named in spec §4.2.
type Config struct {
	FailureThreshold int
	WindowMs         int64
	RecoveryTimeMs   int64
	SuccessThreshold int
}

// Breaker tracks failures within a sliding window and successes during a
// half-open probe, guarding whether the process supervisor may attempt a
// restart.
type Breaker struct {
	mu sync.Mutex
	cfg Config

	state State

	failures      []time.Time
	openedAt      time.Time
	probeSuccesses int

	now func() time.Time
}

// New constructs a Breaker starting closed.
func New(cfg Config) *Breaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// State returns the current state, evaluating any pending open→half_open
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()
	return b.state
}

// Allow reports whether a restart attempt may proceed right now: true when
// closed or half-open. Beyond the open→half_open transition it changes no
// state; while half-open it returns true on every call, so the number of
// probes in flight at once is not limited. The caller reports each outcome
// via RecordSuccess/RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()
	return b.state != Open
}

func (b *Breaker) maybeEnterHalfOpenLocked() {
	if b.state != Open {
		return
	}
	if b.now().Sub(b.openedAt).Milliseconds() >= b.cfg.RecoveryTimeMs {
		b.state = HalfOpen
		b.probeSuccesses = 0
	}
}

// RecordSuccess reports a successful spawn+ready signal. In half-open, this
// accumulates probe successes until SuccessThreshold closes the breaker; in
// closed, it simply trims the failure window (a healthy run between
// failures does not reset the counter mid-window per spec, so we only prune
// entries that fell outside WindowMs).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()

	switch b.state {
	case HalfOpen:
		b.probeSuccesses++
		if b.probeSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = nil
			b.probeSuccesses = 0
		}
	case Closed:
		b.pruneLocked()
	}
}

// RecordFailure reports a spawn error or quick-exit. half_open → open
// immediately on the first failure; closed accumulates into the sliding
// window and opens once FailureThreshold is reached within WindowMs.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()

	now := b.now()
	switch b.state {
	case HalfOpen:
		b.open(now)
	case Closed:
		b.failures = append(b.failures, now)
		b.pruneLocked()
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.open(now)
		}
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.failures = nil
	b.probeSuccesses = 0
}

func (b *Breaker) pruneLocked() {
	cutoff := b.now().Add(-time.Duration(b.cfg.WindowMs) * time.Millisecond)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

// Reset forces the breaker back to closed, clearing all counters. Used when
// an operator explicitly resets a session's supervisor.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = nil
	b.probeSuccesses = 0
}

// FailureCount reports the number of failures currently counted within the
// sliding window, for metrics/tests.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.failures)
}
