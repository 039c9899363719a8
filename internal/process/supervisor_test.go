package process

import (
	"context"
	"testing"
	"time"

	"github.com/beamcode/beamcode/internal/circuit"
)

func breakerCfg() circuit.Config {
	return circuit.Config{FailureThreshold: 2, WindowMs: 10000, RecoveryTimeMs: 1000, SuccessThreshold: 1}
}

func TestSupervisorSpawnAndStdout(t *testing.T) {
	s := New(breakerCfg())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := s.Spawn(ctx, "sess-1", Config{Command: "sh", Args: []string{"-c", "echo hello"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Kill()

	sawStdout := false
	sawExited := false
	timeout := time.After(3 * time.Second)
	for !sawExited {
		select {
		case ev := <-s.Events():
			switch ev.Type {
			case EventStdout:
				if ev.Line == "hello" {
					sawStdout = true
				}
			case EventExited:
				sawExited = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for process lifecycle events")
		}
	}
	if !sawStdout {
		t.Fatal("expected to observe stdout line 'hello'")
	}
}

func TestSupervisorEnvSanitation(t *testing.T) {
	env := sanitizedEnviron([]string{"SECRET_TOKEN"})
	for _, kv := range env {
		if len(kv) >= len(SelfEntrypointVar) && kv[:len(SelfEntrypointVar)] == SelfEntrypointVar {
			t.Fatalf("expected %s stripped from child environment", SelfEntrypointVar)
		}
	}
}

func TestSupervisorCircuitBreakerRefusesRestart(t *testing.T) {
	s := New(circuit.Config{FailureThreshold: 1, WindowMs: 10000, RecoveryTimeMs: 60000, SuccessThreshold: 1})
	ctx := context.Background()

	// A command that fails to even start trips the breaker immediately.
	if _, err := s.Spawn(ctx, "sess-2", Config{Command: "/nonexistent-binary-xyz"}); err == nil {
		t.Fatal("expected spawn of nonexistent binary to fail")
	}

	if _, err := s.Spawn(ctx, "sess-2", Config{Command: "sh", Args: []string{"-c", "true"}}); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestProcessStopEscalatesToKill(t *testing.T) {
	s := New(breakerCfg())
	ctx := context.Background()
	p, err := s.Spawn(ctx, "sess-3", Config{Command: "sh", Args: []string{"-c", "trap '' TERM; sleep 30"}, KillGracePeriod: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected kill escalation well under 2s, took %v", elapsed)
	}
}
