package state

import (
	"testing"

	"github.com/beamcode/beamcode/internal/unified"
)

type nopTeamBuffer struct{}

func (nopTeamBuffer) Observe(msg unified.Message, team *Team) *Team { return team }

func TestReduceSessionInitOverwritesFields(t *testing.T) {
	s := SessionState{Model: "old-model"}
	msg := unified.New(unified.TypeSessionInit, unified.RoleSystem)
	msg.Metadata = map[string]any{"model": "claude-sonnet-4-5", "cwd": "/tmp"}

	next, changed := Reduce(s, msg, nopTeamBuffer{})
	if !changed {
		t.Fatal("expected changed=true")
	}
	if next.Model != "claude-sonnet-4-5" || next.Cwd != "/tmp" {
		t.Fatalf("unexpected state: %+v", next)
	}
}

func TestReduceNoChangeReturnsSameValue(t *testing.T) {
	s := SessionState{Model: "m"}
	msg := unified.New(unified.TypeKeepAlive, unified.RoleSystem)

	next, changed := Reduce(s, msg, nopTeamBuffer{})
	if changed {
		t.Fatal("expected no change for keep_alive")
	}
	if next.Model != s.Model {
		t.Fatalf("expected unchanged state returned")
	}
}

func TestReduceResultComputesContextPercent(t *testing.T) {
	s := SessionState{}
	msg := unified.New(unified.TypeResult, unified.RoleAssistant)
	msg.Metadata = map[string]any{
		"num_turns": 1,
		"modelUsage": ModelUsage{Model: "x", InputTokens: 50, OutputTokens: 50, ContextWindow: 200},
	}

	next, changed := Reduce(s, msg, nopTeamBuffer{})
	if !changed {
		t.Fatal("expected changed")
	}
	if next.ContextUsedPercent != 50 {
		t.Fatalf("expected 50%%, got %d", next.ContextUsedPercent)
	}
	if next.LastStatus != "idle" {
		t.Fatalf("expected lastStatus idle after result, got %q", next.LastStatus)
	}
}

func TestReduceStatusChangeCompacting(t *testing.T) {
	s := SessionState{}
	msg := unified.New(unified.TypeStatusChange, unified.RoleSystem)
	msg.Metadata = map[string]any{"status": "compacting"}

	next, changed := Reduce(s, msg, nopTeamBuffer{})
	if !changed || !next.IsCompacting {
		t.Fatalf("expected is_compacting=true, got %+v changed=%v", next, changed)
	}
}
