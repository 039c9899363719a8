// Package backend defines the adapter contract every native agent protocol
// normalizes into, grounded on the teacher's internal/session.Session
// interface (session.go) generalized from a domain.Event channel to a
// unified.Message stream.
package backend

import (
	"context"
	"errors"

	"github.com/beamcode/beamcode/internal/unified"
)

// Capabilities describes what an adapter supports, per spec §4.1.
type Capabilities struct {
	Streaming    bool
	Permissions  bool
	SlashCommands bool
	Availability string // "local" | "remote"
	Teams        bool

	// SupportsSlashPassthrough, referenced by spec §4.4's PassthroughHandler,
	// is a sixth field beside the base capability set; adapters that don't
	// care leave it false.
	SupportsSlashPassthrough bool
}

// ConnectOptions parameterizes Connect.
type ConnectOptions struct {
	SessionID      string
	Resume         bool
	AdapterOptions map[string]any
}

// Errors surfaced by the contract, per spec §7.
var (
	ErrSessionClosed       = errors.New("backend: session closed")
	ErrCapabilityNotSupported = errors.New("backend: capability not supported")
)

// BackendCapabilityError is returned by SendRaw on adapters that don't
// support a raw bypass.
type BackendCapabilityError struct {
	Adapter string
	Op      string
}

func (e *BackendCapabilityError) Error() string {
	return "backend: " + e.Adapter + " does not support " + e.Op
}

// Session is a bidirectional handle to one live agent session through an
// adapter (spec §4.1's BackendSession).
type Session interface {
	SessionID() string

	// Send synchronously enqueues msg for delivery to the native agent. It
	// MUST NOT block on I/O; errors surface on the Messages() stream as a
	// result{is_error:true} rather than being returned here in the common
	// case — Send only returns an error for programmer-visible misuse
	// (e.g. after Close).
	Send(msg unified.Message) error

	// SendRaw is an optional adapter-specific bypass. Adapters that don't
	// support it return a *BackendCapabilityError.
	SendRaw(raw string) error

	// Messages returns the adapter's normalized output stream. It is a
	// lazy, single-subscriber sequence: call it once and range over the
	// returned channel until it closes.
	Messages() <-chan unified.Message

	// Close is idempotent. After Close, Send returns ErrSessionClosed and
	// Messages() closes.
	Close() error
}

// Adapter is the per-protocol factory, the contract's `connect` operation.
type Adapter interface {
	Capabilities() Capabilities
	Connect(ctx context.Context, opts ConnectOptions) (Session, error)
}
