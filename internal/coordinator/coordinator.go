// Package coordinator implements the session coordinator (spec §4.11): the
// bridge's only public API surface — create, delete, list, and fetch
// sessions — generalized from the teacher's internal/session package-level
// registry pattern (session.go's Manager-less but snapshot-returning shape,
// combined with snapshot_manager.go's id-keyed map-with-mutex idiom) into a
// bridge.Bridge-keyed registry instead of the teacher's provider-process
// registry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/bridge"
	"github.com/beamcode/beamcode/internal/snapshot"
	"github.com/beamcode/beamcode/internal/state"
)

// ErrUnknownAdapter is returned by CreateSession for an unregistered
// adapter name.
var ErrUnknownAdapter = errors.New("coordinator: unknown adapter")

// CreateSessionOptions parameterizes CreateSession (spec §4.11).
type CreateSessionOptions struct {
	AdapterName    string
	AdapterOptions map[string]any
	Resume         bool
	Cwd            string
	Model          string

	// ResumeSessionID, when set alongside Resume, reuses a prior session id
	// instead of minting a new one so its snapshot.Store entry (if any) can
	// be found and restored.
	ResumeSessionID string
}

// Snapshot is the read-only view returned by ListSessions/GetSession.
type Snapshot struct {
	SessionID   string
	AdapterName string
	State       state.SessionState
}

// Coordinator owns the registry of live Bridges, one per session.
type Coordinator struct {
	adapters map[string]backend.Adapter

	bridgeFactory func(cfg bridge.Config) *bridge.Bridge
	snapshotStore *snapshot.Store

	mu      sync.Mutex
	entries map[string]*entry
	counter int64

	stopped atomic.Bool
}

type entry struct {
	b           *bridge.Bridge
	adapterName string
}

// Config parameterizes a Coordinator.
type Config struct {
	Adapters map[string]backend.Adapter

	// BridgeFactory overrides how a Bridge is constructed, primarily for
	// tests; nil uses bridge.New directly.
	BridgeFactory func(cfg bridge.Config) *bridge.Bridge

	// SnapshotStore, if set, is handed to every Bridge so session state
	// survives a coordinator restart (spec §4.11's supplemented
	// snapshot-based resume).
	SnapshotStore *snapshot.Store
}

// New constructs a Coordinator.
func New(cfg Config) *Coordinator {
	factory := cfg.BridgeFactory
	if factory == nil {
		factory = bridge.New
	}
	return &Coordinator{
		adapters:      cfg.Adapters,
		bridgeFactory: factory,
		snapshotStore: cfg.SnapshotStore,
		entries:       make(map[string]*entry),
	}
}

func (c *Coordinator) nextSessionID() string {
	n := atomic.AddInt64(&c.counter, 1)
	return fmt.Sprintf("sess-%d", n)
}

// CreateSession starts a new bridge-owned session against the named
// adapter, returning its id.
func (c *Coordinator) CreateSession(ctx context.Context, opts CreateSessionOptions) (string, error) {
	if c.stopped.Load() {
		return "", errors.New("coordinator: stopped")
	}
	adapter, ok := c.adapters[opts.AdapterName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAdapter, opts.AdapterName)
	}

	sessionID := c.nextSessionID()
	if opts.Resume && opts.ResumeSessionID != "" {
		sessionID = opts.ResumeSessionID
	}
	b := c.bridgeFactory(bridge.Config{
		SessionID: sessionID,
		Adapter:   adapter,
		Connect: backend.ConnectOptions{
			SessionID:      sessionID,
			Resume:         opts.Resume,
			AdapterOptions: opts.AdapterOptions,
		},
		SnapshotStore: c.snapshotStore,
	})

	if err := b.Start(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[sessionID] = &entry{b: b, adapterName: opts.AdapterName}
	c.mu.Unlock()

	return sessionID, nil
}

// DeleteSession tears a session's bridge down and removes it from the
// registry, reporting false if sessionID was never registered (or was
// already deleted).
func (c *Coordinator) DeleteSession(sessionID string) bool {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	delete(c.entries, sessionID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	_ = e.b.Close()
	if c.snapshotStore != nil {
		_ = c.snapshotStore.Delete(sessionID)
	}
	return true
}

// ListSessions returns a Snapshot of every registered session.
func (c *Coordinator) ListSessions() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, Snapshot{SessionID: id, AdapterName: e.adapterName, State: e.b.State()})
	}
	return out
}

// GetSession returns one session's Snapshot, ok=false if unknown.
func (c *Coordinator) GetSession(sessionID string) (Snapshot, bool) {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{SessionID: sessionID, AdapterName: e.adapterName, State: e.b.State()}, true
}

// Bridge exposes the underlying bridge.Bridge for a session so a transport
// layer can attach/detach consumers and route inbound frames, ok=false if
// unknown.
func (c *Coordinator) Bridge(sessionID string) (*bridge.Bridge, bool) {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.b, true
}

// Stop tears every session down and marks the Coordinator unusable for
// further CreateSession calls.
func (c *Coordinator) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	for _, e := range entries {
		_ = e.b.Close()
	}
}
