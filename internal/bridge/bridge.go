// Package bridge implements the session orchestrator (spec §4.10): the
// component that owns one live backend.Session plus every attached consumer,
// running the inbound pipeline (admission -> parse -> normalize -> route)
// and the outbound pipeline (reduce -> translate -> per-consumer enqueue ->
// drain) between them. Grounded on the teacher's internal/session.Session
// (session.go) as the per-session owning object and internal/session/
// stream.go's multi-subscriber fan-out, recomposed here around
// internal/delivery's bounded, critical-type-aware queue instead of the
// teacher's unbounded broadcast channel, since spec §4.7 requires
// back-pressure semantics the teacher's Stream type does not have.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/capability"
	"github.com/beamcode/beamcode/internal/delivery"
	"github.com/beamcode/beamcode/internal/event"
	"github.com/beamcode/beamcode/internal/gatekeeper"
	"github.com/beamcode/beamcode/internal/permission"
	"github.com/beamcode/beamcode/internal/slashcommand"
	"github.com/beamcode/beamcode/internal/snapshot"
	"github.com/beamcode/beamcode/internal/state"
	"github.com/beamcode/beamcode/internal/turnqueue"
	"github.com/beamcode/beamcode/internal/unified"
)

// Consumer is the bridge's view of one attached wire connection. Deliver is
// called synchronously while the bridge broadcasts an outbound message and
// must not block indefinitely; any error it returns detaches the consumer,
// matching spec §4.10's "exhaustive consumer failure -> consumer removal".
type Consumer struct {
	ID       string
	Identity gatekeeper.Identity
	Deliver  func(payload map[string]any) error
}

// Config parameterizes one Bridge.
type Config struct {
	SessionID  string
	Adapter    backend.Adapter
	Connect    backend.ConnectOptions
	TeamBuffer state.TeamBuffer

	DeliveryConfig delivery.Config
	SlashChain     *slashcommand.Chain

	Events *event.Bus

	// SnapshotStore, if set, persists SessionState after every reducer
	// change and is consulted for an initial state when Connect.Resume is
	// set (spec §4.11's snapshot-based resume, supplementing the original
	// spec's adapter-level Resume option with a bridge-level one).
	SnapshotStore *snapshot.Store
}

// Bridge owns exactly one live backend session and its attached consumers.
type Bridge struct {
	cfg Config

	mu       sync.Mutex
	backend  backend.Session
	st       state.SessionState
	seq      int64
	consumers map[string]*consumerState
	firstTurn atomic.Bool

	turns       *turnqueue.Queue
	permissions *permission.Tracker
	caps        *capability.Tracker
	run         *runState

	closeOnce sync.Once
	done      chan struct{}
}

type consumerState struct {
	Consumer
	ch     *delivery.Channel
	cancel context.CancelFunc
}

// New constructs a Bridge without connecting yet; call Start.
func New(cfg Config) *Bridge {
	if cfg.DeliveryConfig.MaxQueueSize == 0 {
		cfg.DeliveryConfig = delivery.Config{HighWaterMark: 200, MaxQueueSize: 500, CriticalTypes: delivery.DefaultCriticalTypes()}
	}
	st := state.SessionState{SessionID: cfg.SessionID}
	if cfg.Connect.Resume && cfg.SnapshotStore != nil {
		if restored, err := cfg.SnapshotStore.Load(cfg.SessionID); err == nil {
			st = restored
		}
	}
	b := &Bridge{
		cfg:         cfg,
		st:          st,
		consumers:   make(map[string]*consumerState),
		turns:       turnqueue.New(),
		permissions: permission.New(),
		caps:        capability.New(),
		run:         newRunState(),
		done:        make(chan struct{}),
	}
	return b
}

// Start connects the backend adapter and begins pumping its Messages()
// stream through the outbound pipeline.
func (b *Bridge) Start(ctx context.Context) error {
	sess, err := b.cfg.Adapter.Connect(ctx, b.cfg.Connect)
	if err != nil {
		b.run.setFailed(err)
		b.publish(event.NewBackendDisconnectedEvent(b.cfg.SessionID, err))
		return err
	}
	b.mu.Lock()
	b.backend = sess
	b.mu.Unlock()

	b.run.setActive()
	b.publish(event.NewBackendConnectedEvent(b.cfg.SessionID))
	b.publish(event.NewSessionCreatedEvent(b.cfg.SessionID, ""))

	go b.pumpOutbound()
	return nil
}

// RunState reports this bridge's backend-connection lifecycle (spec §4.11's
// supplemented run tracking), independent of the reduced SessionState.
func (b *Bridge) RunState() (RunPhase, error) {
	return b.run.get()
}

func (b *Bridge) publish(ev event.Event) {
	ev.Timestamp = time.Now()
	if b.cfg.Events != nil {
		b.cfg.Events.Publish(ev)
	}
}

// pumpOutbound is T3->T4: drain the adapter's normalized stream, reduce
// state, and fan each message out to every attached consumer.
func (b *Bridge) pumpOutbound() {
	b.mu.Lock()
	sess := b.backend
	b.mu.Unlock()
	if sess == nil {
		return
	}

	for msg := range sess.Messages() {
		b.handleOutbound(msg)
	}

	// The adapter's stream ended: the native agent process exited or the
	// connection dropped. Spec §4.10 requires surfacing this distinctly from
	// a clean session close.
	b.run.setDone()
	b.publish(event.NewBackendDisconnectedEvent(b.cfg.SessionID, nil))
}

func (b *Bridge) handleOutbound(msg unified.Message) {
	b.mu.Lock()
	next, changed := state.Reduce(b.st, msg, b.cfg.TeamBuffer)
	if changed {
		b.st = next
	}
	b.mu.Unlock()

	if changed && b.cfg.SnapshotStore != nil {
		if err := b.cfg.SnapshotStore.Save(next); err != nil {
			log.Printf("bridge: session %s snapshot save failed: %v", b.cfg.SessionID, err)
		}
	}

	if msg.Type == unified.TypeControlResponse {
		if reqID, ok := unified.Meta[string](msg, "request_id"); ok {
			if resp, ok := unified.Meta[state.Capabilities](msg, "response"); ok {
				b.caps.Resolve(b.cfg.SessionID, reqID, resp)
			}
		}
	}

	if msg.Type == unified.TypePermissionRequest {
		reqID, _ := unified.Meta[string](msg, "request_id")
		toolName, _ := unified.Meta[string](msg, "tool_name")
		b.permissions.Track(b.cfg.SessionID, permission.Request{RequestID: reqID, ToolName: toolName, Timestamp: time.Now()})
		b.publish(event.NewPermissionRequestedEvent(b.cfg.SessionID, reqID, toolName))
	}

	if msg.Type == unified.TypeResult {
		if b.firstTurn.CompareAndSwap(false, true) {
			b.publish(event.NewFirstTurnCompletedEvent(b.cfg.SessionID))
		}
		if entry, ok := b.turns.TakeForAutoSend(); ok {
			_ = b.sendUserText(entry.ConsumerID, entry.Text)
		}
	}

	b.publish(event.NewMessageOutboundEvent(b.cfg.SessionID, string(msg.Type)))
	b.broadcast(msg)
}

func (b *Bridge) nextSeq() int64 {
	return atomic.AddInt64(&b.seq, 1)
}

// broadcast implements T4: translate a unified message into the consumer
// wire envelope and enqueue it into every attached consumer's bounded
// delivery channel, draining immediately afterward.
func (b *Bridge) broadcast(msg unified.Message) {
	payload := map[string]any{
		"type":      string(msg.Type),
		"role":      string(msg.Role),
		"id":        msg.ID,
		"timestamp": msg.Timestamp,
	}
	if msg.Content != nil {
		if raw, err := json.Marshal(msg.Content); err == nil {
			var v any
			_ = json.Unmarshal(raw, &v)
			payload["content"] = v
		}
	}
	if msg.Metadata != nil {
		payload["metadata"] = msg.Metadata
	}

	sm := delivery.SequencedMessage{
		Seq:       b.nextSeq(),
		MessageID: msg.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}

	b.mu.Lock()
	states := make([]*consumerState, 0, len(b.consumers))
	for _, cs := range b.consumers {
		states = append(states, cs)
	}
	b.mu.Unlock()

	for _, cs := range states {
		cs.ch.Enqueue(sm)
		b.drainConsumer(cs)
	}
}

func (b *Bridge) drainConsumer(cs *consumerState) {
	for _, sm := range cs.ch.Drain() {
		if err := cs.Deliver(map[string]any{"seq": sm.Seq, "message_id": sm.MessageID, "timestamp": sm.Timestamp, "payload": sm.Payload}); err != nil {
			log.Printf("bridge: session %s consumer %s delivery failed, detaching: %v", b.cfg.SessionID, cs.ID, err)
			b.DetachConsumer(cs.ID)
			return
		}
	}
}

// AttachConsumer registers a newly connected consumer, per spec §4.10's
// consumer:connected event.
func (b *Bridge) AttachConsumer(c Consumer) {
	cs := &consumerState{Consumer: c, ch: delivery.New(b.cfg.DeliveryConfig)}
	b.mu.Lock()
	b.consumers[c.ID] = cs
	b.mu.Unlock()
	b.publish(event.NewConsumerConnectedEvent(b.cfg.SessionID, c.ID, c.Identity.ID))
}

// DetachConsumer removes a consumer, idempotent.
func (b *Bridge) DetachConsumer(consumerID string) {
	b.mu.Lock()
	_, existed := b.consumers[consumerID]
	delete(b.consumers, consumerID)
	b.mu.Unlock()
	if existed {
		b.publish(event.NewConsumerDisconnectedEvent(b.cfg.SessionID, consumerID))
	}
}

// HandleInbound implements the inbound pipeline (spec §4.10 step "inbound"):
// rate-limit, authorize, parse, normalize, emit message:inbound, then route
// to the slash chain, the turn queue, or directly to the backend.
func (b *Bridge) HandleInbound(ctx context.Context, gk *gatekeeper.Gatekeeper, consumerID string, identity gatekeeper.Identity, raw json.RawMessage) error {
	if !gk.Allow(identity) {
		return gatekeeper.ErrRateLimited
	}
	if err := gk.Authorize(identity); err != nil {
		return err
	}

	var env struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}

	b.publish(event.NewMessageInboundEvent(b.cfg.SessionID, consumerID, env.Type))

	switch env.Type {
	case "slash_command":
		if b.cfg.SlashChain == nil {
			return b.sendUserText(consumerID, env.Text)
		}
		cmd, args := env.Text, ""
		if idx := strings.IndexByte(env.Text, ' '); idx >= 0 {
			cmd, args = env.Text[:idx], env.Text[idx+1:]
		}
		out := b.cfg.SlashChain.Dispatch(ctx, slashcommand.Request{
			Command: cmd, Args: args, SessionID: b.cfg.SessionID, StartedAt: time.Now(),
		})
		return out.Err
	case "queue_message":
		b.turns.Enqueue(turnqueue.Entry{ConsumerID: consumerID, Text: env.Text})
		return nil
	case "update_queued_message":
		return b.turns.Update(consumerID, env.Text)
	case "cancel_queued_message":
		return b.turns.Cancel(consumerID)
	case "interrupt":
		msg := unified.New(unified.TypeInterrupt, unified.RoleUser)
		return b.send(msg)
	case "permission_response":
		var p struct {
			RequestID string `json:"request_id"`
			Reply     string `json:"reply"`
			Message   string `json:"message"`
		}
		_ = json.Unmarshal(raw, &p)
		if _, ok := b.permissions.Resolve(b.cfg.SessionID, p.RequestID); !ok {
			return nil // stale/duplicate reply, ignored
		}
		b.publish(event.NewPermissionResolvedEvent(b.cfg.SessionID, p.RequestID, p.Reply))
		msg := unified.New(unified.TypePermissionResponse, unified.RoleUser)
		msg.Metadata = map[string]any{"request_id": p.RequestID, "behavior": p.Reply, "message": p.Message}
		return b.send(msg)
	default:
		return b.sendUserText(consumerID, env.Text)
	}
}

func (b *Bridge) sendUserText(consumerID, text string) error {
	msg := unified.New(unified.TypeUserMessage, unified.RoleUser)
	msg.Content = []unified.ContentBlock{unified.Text(text)}
	return b.send(msg)
}

func (b *Bridge) send(msg unified.Message) error {
	b.mu.Lock()
	sess := b.backend
	b.mu.Unlock()
	if sess == nil {
		return backend.ErrSessionClosed
	}
	return sess.Send(msg)
}

// RequestCapabilities begins (or rejoins) the capability handshake (spec
// §4.3) and arranges for a synthesized fallback to fire after
// initializeTimeoutMs if the adapter never responds.
func (b *Bridge) RequestCapabilities(ctx context.Context, requestID string, timeout time.Duration) <-chan capability.Result {
	if timeout <= 0 {
		timeout = capability.DefaultTimeout
	}
	_, done := b.caps.Begin(b.cfg.SessionID, requestID)

	out := make(chan capability.Result, 1)
	go func() {
		select {
		case res := <-done:
			if res.Synthesized {
				b.publish(event.NewCapabilitiesTimeoutEvent(b.cfg.SessionID))
			} else {
				b.publish(event.NewCapabilitiesReadyEvent(b.cfg.SessionID, len(res.Capabilities.Commands), len(res.Capabilities.Models)))
			}
			out <- res
		case <-time.After(timeout):
			fallback := capability.SynthesizeFromSlashCommands(b.State().SlashCommands)
			res := b.caps.Timeout(b.cfg.SessionID, fallback)
			b.publish(event.NewCapabilitiesTimeoutEvent(b.cfg.SessionID))
			out <- res
		case <-ctx.Done():
		}
	}()
	return out
}

// State returns a snapshot of the current reduced SessionState.
func (b *Bridge) State() state.SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.Clone()
}

// Close tears the bridge down: closes the backend session, cancels every
// consumer, and releases tracked permissions.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.run.setDone()
		b.mu.Lock()
		sess := b.backend
		consumers := b.consumers
		b.consumers = nil
		b.mu.Unlock()

		for id := range consumers {
			b.publish(event.NewConsumerDisconnectedEvent(b.cfg.SessionID, id))
		}
		b.permissions.CancelSession(b.cfg.SessionID)
		b.caps.Cancel(b.cfg.SessionID)

		if sess != nil {
			err = sess.Close()
		}
		b.publish(event.NewSessionClosedEvent(b.cfg.SessionID, "closed"))
	})
	return err
}
