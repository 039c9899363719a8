package circuit

import (
	"testing"
	"time"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	clock := b.now()
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, WindowMs: 10000, RecoveryTimeMs: 1000, SuccessThreshold: 1})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("expected still closed after 2 failures")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected open after reaching threshold")
	}
	if b.Allow() {
		t.Fatalf("expected Allow() false while open")
	}
}

func TestBreakerHalfOpenProbeCycle(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, WindowMs: 10000, RecoveryTimeMs: 500, SuccessThreshold: 2})

	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected open")
	}

	*clock = clock.Add(600 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("expected half_open after recovery time elapsed")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected immediate re-open on half-open failure")
	}

	*clock = clock.Add(600 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("expected half_open again")
	}
	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Fatalf("expected still half_open after 1 of 2 required successes")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Fatalf("expected closed after success threshold met")
	}
}

func TestBreakerWindowExpiry(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 2, WindowMs: 1000, RecoveryTimeMs: 500, SuccessThreshold: 1})

	b.RecordFailure()
	*clock = clock.Add(1100 * time.Millisecond)
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatalf("expected first failure to have aged out of the window")
	}
}
