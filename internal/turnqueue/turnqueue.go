// Package turnqueue implements the bridge's single-slot turn queue (spec
// §4.5): at most one queued message per session, mutable only by the
// consumer who authored it, auto-sent the moment the backend goes idle.
// Grounded on the same mutex-guarded-single-slot idiom as
// internal/ratelimit.Bucket, specialized from internal/queue.Queue's
// unbounded multi-item FIFO because spec §4.5 is deliberately narrower: it
// holds exactly one pending turn, not a backlog.
package turnqueue

import (
	"errors"
	"sync"
)

// ErrNotAuthor is returned by Update/Cancel when the caller did not author
// the currently queued message.
var ErrNotAuthor = errors.New("turnqueue: caller is not the author of the queued message")

// ErrEmpty is returned by Update/Cancel when nothing is queued.
var ErrEmpty = errors.New("turnqueue: no message queued")

// Entry is the one slot's contents.
type Entry struct {
	ConsumerID string
	Text       string
}

// Queue holds at most one Entry for a session.
type Queue struct {
	mu    sync.Mutex
	entry *Entry
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue replaces whatever was queued (if anything) with a new Entry,
// matching spec §4.5's "queueing while already queued replaces the prior
// queued message" rule — the queue has exactly one slot, last writer wins,
// regardless of whether the replaced entry belonged to a different consumer.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := e
	q.entry = &entry
}

// Update edits the queued message's text in place, only if consumerID
// authored it.
func (q *Queue) Update(consumerID, text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entry == nil {
		return ErrEmpty
	}
	if q.entry.ConsumerID != consumerID {
		return ErrNotAuthor
	}
	q.entry.Text = text
	return nil
}

// Cancel clears the queued message, only if consumerID authored it.
func (q *Queue) Cancel(consumerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entry == nil {
		return ErrEmpty
	}
	if q.entry.ConsumerID != consumerID {
		return ErrNotAuthor
	}
	q.entry = nil
	return nil
}

// Peek reports the currently queued entry, if any, without clearing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entry == nil {
		return Entry{}, false
	}
	return *q.entry, true
}

// TakeForAutoSend removes and returns the queued entry, called when the
// backend transitions to idle (spec §4.5's autoSendQueuedMessage).
func (q *Queue) TakeForAutoSend() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entry == nil {
		return Entry{}, false
	}
	e := *q.entry
	q.entry = nil
	return e, true
}
