package permission

import "testing"

func TestTrackAndResolve(t *testing.T) {
	tr := New()
	tr.Track("sess-1", Request{RequestID: "req-1", ToolName: "bash"})

	req, ok := tr.Resolve("sess-1", "req-1")
	if !ok || req.ToolName != "bash" {
		t.Fatalf("expected to resolve req-1, got %+v ok=%v", req, ok)
	}

	if _, ok := tr.Resolve("sess-1", "req-1"); ok {
		t.Fatal("expected second resolve of the same request to fail")
	}
}

func TestPendingListsOutstanding(t *testing.T) {
	tr := New()
	tr.Track("sess-1", Request{RequestID: "req-1"})
	tr.Track("sess-1", Request{RequestID: "req-2"})
	tr.Track("sess-2", Request{RequestID: "req-3"})

	pending := tr.Pending("sess-1")
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending for sess-1, got %d", len(pending))
	}
}

func TestCancelSessionDropsAll(t *testing.T) {
	tr := New()
	tr.Track("sess-1", Request{RequestID: "req-1"})
	tr.CancelSession("sess-1")
	if len(tr.Pending("sess-1")) != 0 {
		t.Fatal("expected no pending requests after CancelSession")
	}
}
