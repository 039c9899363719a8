// Package delivery implements the bounded, overflow-aware per-consumer
// outbound queue, generalizing the teacher's internal/realtime.Client fixed
// 64-slot channel (internal/realtime/client.go) to the spec's two-tier
// high-water-mark / hard-ceiling backpressure model with critical-type
// preservation.
package delivery

import (
	"sync"

	"github.com/beamcode/beamcode/internal/unified"
)

// SequencedMessage wraps an outbound payload with replay metadata.
type SequencedMessage struct {
	Seq       int64          `json:"seq"`
	MessageID string         `json:"message_id"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// DefaultCriticalTypes is the default critical-type set named in spec §4.7.
func DefaultCriticalTypes() map[string]bool {
	return map[string]bool{
		string(unified.TypePermissionRequest): true,
		string(unified.TypeResult):            true,
		string(unified.TypeSessionInit):        true,
		"error":                                true,
	}
}

// Config parameterizes one Channel.
type Config struct {
	HighWaterMark int
	MaxQueueSize  int
	CriticalTypes map[string]bool
}

// Channel is a bounded FIFO of SequencedMessage for exactly one consumer
// socket.
type Channel struct {
	mu    sync.Mutex
	cfg   Config
	items []SequencedMessage
}

// New constructs a Channel. Zero-valued CriticalTypes falls back to
// DefaultCriticalTypes.
func New(cfg Config) *Channel {
	if cfg.CriticalTypes == nil {
		cfg.CriticalTypes = DefaultCriticalTypes()
	}
	return &Channel{cfg: cfg}
}

func (c *Channel) payloadType(msg SequencedMessage) string {
	if t, ok := msg.Payload["type"].(string); ok {
		return t
	}
	return ""
}

// Enqueue applies the two-tier backpressure policy described in spec §4.7:
//   - queue.size >= maxQueueSize: hard drop, return false (even critical).
//   - queue.size >= highWaterMark and non-critical type: silent drop,
//     return true (the caller's send did not fail, the message just never
//     reaches the transport).
//   - otherwise: append, return true.
func (c *Channel) Enqueue(msg SequencedMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(c.items)
	if size >= c.cfg.MaxQueueSize {
		return false
	}
	if size >= c.cfg.HighWaterMark && !c.cfg.CriticalTypes[c.payloadType(msg)] {
		return true
	}
	c.items = append(c.items, msg)
	return true
}

// Drain returns all enqueued messages in FIFO order and empties the queue.
func (c *Channel) Drain() []SequencedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = nil
	return out
}

// QueueSize reports the number of messages currently buffered.
func (c *Channel) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// IsOverflowing reports whether the queue is at or above the high water
// mark.
func (c *Channel) IsOverflowing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) >= c.cfg.HighWaterMark
}
