// Package capability implements the bridge's capability handshake (spec
// §4.3): an async request/response correlated by requestId, bounded by
// initializeTimeoutMs, with a best-effort synthesis fallback from whatever
// slash_commands the session already observed via session_init when the
// adapter never answers. Grounded on the teacher's control_request/
// control_response correlation style in internal/provider/common/claudews
// (the same pendingPermission-by-id bookkeeping shape used there for
// permission prompts, applied here to a single in-flight handshake instead
// of a map of many).
package capability

import (
	"sync"
	"time"

	"github.com/beamcode/beamcode/internal/state"
)

// DefaultTimeout is spec §5's initializeTimeoutMs default.
const DefaultTimeout = 3 * time.Second

// Result is the outcome of a handshake attempt.
type Result struct {
	Capabilities state.Capabilities
	Synthesized  bool // true if assembled from session_init fallback data, not a real response
	TimedOut     bool
}

// Tracker manages one in-flight handshake per session at a time. A second
// Begin call while one is outstanding is a no-op that returns the same
// pending result, matching spec §4.3's "duplicate request" rule.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	requestID string
	done      chan Result
	once      sync.Once
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{pending: make(map[string]*pendingRequest)}
}

// Begin starts (or rejoins) the handshake for sessionID, returning the
// requestId the caller should stamp into its outbound control_request and a
// channel that resolves exactly once with the final Result.
func (t *Tracker) Begin(sessionID, requestID string) (string, <-chan Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[sessionID]; ok {
		return p.requestID, p.done
	}
	p := &pendingRequest{requestID: requestID, done: make(chan Result, 1)}
	t.pending[sessionID] = p
	return requestID, p.done
}

// Resolve completes the handshake for sessionID with a real adapter
// response. A response whose requestID doesn't match the in-flight one, or
// for a session with no in-flight handshake, is ignored (duplicate/stale).
func (t *Tracker) Resolve(sessionID, requestID string, caps state.Capabilities) {
	t.mu.Lock()
	p, ok := t.pending[sessionID]
	if ok {
		delete(t.pending, sessionID)
	}
	t.mu.Unlock()
	if !ok || p.requestID != requestID {
		return
	}
	p.once.Do(func() {
		p.done <- Result{Capabilities: caps}
	})
}

// Timeout fires after initializeTimeoutMs elapses with no Resolve call. It
// completes the handshake with the caller-supplied fallback (e.g. one built
// by SynthesizeFromSlashCommands), marked Synthesized and TimedOut, rather
// than leaving the session with none.
func (t *Tracker) Timeout(sessionID string, fallback state.Capabilities) Result {
	t.mu.Lock()
	p, ok := t.pending[sessionID]
	if ok {
		delete(t.pending, sessionID)
	}
	t.mu.Unlock()

	res := Result{Capabilities: fallback, Synthesized: true, TimedOut: true}
	if ok {
		p.once.Do(func() {
			p.done <- res
		})
	}
	return res
}

// SynthesizeFromSlashCommands builds a fallback Capabilities from a session's
// already-observed slash command names, per spec §4.3's degraded path.
func SynthesizeFromSlashCommands(names []string) state.Capabilities {
	cmds := make([]state.CommandInfo, 0, len(names))
	for _, n := range names {
		cmds = append(cmds, state.CommandInfo{Name: n})
	}
	return state.Capabilities{Commands: cmds}
}

// Cancel discards any in-flight handshake for sessionID without resolving
// it, used when the session itself is closing.
func (t *Tracker) Cancel(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, sessionID)
}
