package capability

import (
	"testing"

	"github.com/beamcode/beamcode/internal/state"
)

func TestResolveDeliversToBegin(t *testing.T) {
	tr := New()
	reqID, done := tr.Begin("sess-1", "req-1")
	if reqID != "req-1" {
		t.Fatalf("expected req-1, got %q", reqID)
	}
	tr.Resolve("sess-1", "req-1", state.Capabilities{Commands: []state.CommandInfo{{Name: "/help"}}})

	res := <-done
	if res.Synthesized || res.TimedOut {
		t.Fatalf("expected a real resolution, got %+v", res)
	}
	if len(res.Capabilities.Commands) != 1 || res.Capabilities.Commands[0].Name != "/help" {
		t.Fatalf("unexpected capabilities: %+v", res.Capabilities)
	}
}

func TestDuplicateBeginReturnsSamePending(t *testing.T) {
	tr := New()
	reqID1, done1 := tr.Begin("sess-1", "req-1")
	reqID2, done2 := tr.Begin("sess-1", "req-2")
	if reqID1 != reqID2 {
		t.Fatalf("expected the second Begin to rejoin the first, got %q vs %q", reqID1, reqID2)
	}
	if done1 != done2 {
		t.Fatal("expected the same channel for both Begin calls")
	}
}

func TestResolveWithStaleRequestIDIgnored(t *testing.T) {
	tr := New()
	_, done := tr.Begin("sess-1", "req-1")
	tr.Resolve("sess-1", "req-stale", state.Capabilities{})

	select {
	case <-done:
		t.Fatal("expected no resolution from a stale requestID")
	default:
	}
}

func TestTimeoutSynthesizesFromFallback(t *testing.T) {
	tr := New()
	_, done := tr.Begin("sess-1", "req-1")
	fallback := SynthesizeFromSlashCommands([]string{"/compact", "/clear"})
	res := tr.Timeout("sess-1", fallback)
	if !res.Synthesized || !res.TimedOut {
		t.Fatalf("expected synthesized timeout result, got %+v", res)
	}
	if len(res.Capabilities.Commands) != 2 {
		t.Fatalf("expected 2 synthesized commands, got %d", len(res.Capabilities.Commands))
	}

	delivered := <-done
	if !delivered.TimedOut {
		t.Fatal("expected the pending channel to also receive the timeout result")
	}
}
