package turnqueue

import "testing"

func TestEnqueueReplacesPrior(t *testing.T) {
	q := New()
	q.Enqueue(Entry{ConsumerID: "c1", Text: "first"})
	q.Enqueue(Entry{ConsumerID: "c2", Text: "second"})

	e, ok := q.Peek()
	if !ok || e.ConsumerID != "c2" || e.Text != "second" {
		t.Fatalf("expected the second enqueue to win, got %+v", e)
	}
}

func TestUpdateRequiresAuthor(t *testing.T) {
	q := New()
	q.Enqueue(Entry{ConsumerID: "c1", Text: "first"})

	if err := q.Update("c2", "hacked"); err != ErrNotAuthor {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}
	if err := q.Update("c1", "edited"); err != nil {
		t.Fatalf("expected author update to succeed, got %v", err)
	}
	e, _ := q.Peek()
	if e.Text != "edited" {
		t.Fatalf("expected edited text, got %q", e.Text)
	}
}

func TestCancelRequiresAuthor(t *testing.T) {
	q := New()
	q.Enqueue(Entry{ConsumerID: "c1", Text: "first"})

	if err := q.Cancel("c2"); err != ErrNotAuthor {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}
	if err := q.Cancel("c1"); err != nil {
		t.Fatalf("expected author cancel to succeed, got %v", err)
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("expected queue to be empty after cancel")
	}
}

func TestTakeForAutoSend(t *testing.T) {
	q := New()
	if _, ok := q.TakeForAutoSend(); ok {
		t.Fatal("expected no entry on empty queue")
	}
	q.Enqueue(Entry{ConsumerID: "c1", Text: "go"})
	e, ok := q.TakeForAutoSend()
	if !ok || e.Text != "go" {
		t.Fatalf("unexpected take result: %+v ok=%v", e, ok)
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("expected queue empty after take")
	}
}
