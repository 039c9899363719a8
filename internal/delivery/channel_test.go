package delivery

import "testing"

func msgOfType(typ string) SequencedMessage {
	return SequencedMessage{Payload: map[string]any{"type": typ}}
}

// TestE7ConsumerDeliveryBackpressure implements spec scenario E7 verbatim.
func TestE7ConsumerDeliveryBackpressure(t *testing.T) {
	ch := New(Config{
		HighWaterMark: 2,
		MaxQueueSize:  100,
		CriticalTypes: map[string]bool{
			"result":             true,
			"permission_request": true,
			"session_init":       true,
			"error":              true,
		},
	})

	if !ch.Enqueue(msgOfType("stream_event")) {
		t.Fatal("expected first enqueue to succeed")
	}
	if !ch.Enqueue(msgOfType("stream_event")) {
		t.Fatal("expected second enqueue to succeed")
	}
	if ch.QueueSize() != 2 {
		t.Fatalf("expected queue size 2, got %d", ch.QueueSize())
	}

	if ok := ch.Enqueue(msgOfType("stream_event")); !ok {
		t.Fatal("expected silent drop to still report true")
	}
	if ch.QueueSize() != 2 {
		t.Fatalf("expected queue still size 2 after silent drop, got %d", ch.QueueSize())
	}

	if !ch.Enqueue(msgOfType("permission_request")) {
		t.Fatal("expected critical type to be enqueued despite HWM")
	}
	if ch.QueueSize() != 3 {
		t.Fatalf("expected queue size 3 after critical enqueue, got %d", ch.QueueSize())
	}

	drained := ch.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained messages, got %d", len(drained))
	}
	if drained[2].Payload["type"] != "permission_request" {
		t.Fatalf("expected FIFO order with permission_request last")
	}
	if ch.QueueSize() != 0 {
		t.Fatalf("expected empty queue after drain")
	}
}

func TestHardCeilingDropsEvenCritical(t *testing.T) {
	ch := New(Config{HighWaterMark: 1, MaxQueueSize: 1})
	if !ch.Enqueue(msgOfType("result")) {
		t.Fatal("expected first critical enqueue to succeed")
	}
	if ch.Enqueue(msgOfType("result")) {
		t.Fatal("expected hard ceiling to reject even critical types")
	}
}

func TestIsOverflowing(t *testing.T) {
	ch := New(Config{HighWaterMark: 1, MaxQueueSize: 10})
	if ch.IsOverflowing() {
		t.Fatal("expected not overflowing when empty")
	}
	ch.Enqueue(msgOfType("stream_event"))
	if !ch.IsOverflowing() {
		t.Fatal("expected overflowing at high water mark")
	}
}
