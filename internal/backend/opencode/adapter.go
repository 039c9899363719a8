// Package opencode implements spec §4.1 adapter 5: OpenCode over HTTP+SSE.
// A launcher spawns `opencode serve --port N --hostname H`, detects
// readiness from its stdout, then this adapter drives the rest of the
// session through github.com/sst/opencode-sdk-go's REST client and its
// server-sent-events stream.
//
// Grounded on the teacher's claudews adapter for the overall Connect/Send/
// dispatch shape (spawn, wait-ready, translate in a background goroutine,
// buffered output channel), generalized from a WebSocket transport to
// REST+SSE. The SDK call surface itself is grounded on the vendored source
// at _examples/telnet2-opencode/packages/sdk/go, not on that pack's own
// go-cli/client.go consumer: the two disagree (go-cli pins
// github.com/sst/opencode-sdk-go v0.19.1's older opencode.F(...)-wrapped
// param style and a SessionService.Prompt method, while the vendored
// packages/sdk/go tree — built via a local replace directive, i.e. the
// actual current source — exposes param.Opt[T]-style params and
// Session.Message.New instead of Session.Prompt). The vendored source wins
// as the authoritative current API; see DESIGN.md.
package opencode

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	opencode "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"github.com/sst/opencode-sdk-go/packages/param"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/process"
	"github.com/beamcode/beamcode/internal/unified"
)

// Config configures the OpenCode adapter.
type Config struct {
	// Bin defaults to "opencode".
	Bin         string
	WorkingDir  string
	Environment map[string]string
	Supervisor  *process.Supervisor
	DenyListEnv []string

	// Hostname defaults to "127.0.0.1".
	Hostname string
	// Port of 0 picks an arbitrary free local port.
	Port int

	// ReadyTimeout bounds how long the adapter waits for "listening on" to
	// appear in the child's stdout before giving up.
	ReadyTimeout time.Duration
}

// Adapter implements backend.Adapter for OpenCode.
type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.Bin == "" {
		cfg.Bin = "opencode"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:    true,
		Permissions:  true,
		SlashCommands: false,
		Availability: "local",
		Teams:        false,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	port := a.cfg.Port
	if port == 0 {
		p, err := freePort()
		if err != nil {
			return nil, fmt.Errorf("opencode: pick port: %w", err)
		}
		port = p
	}

	proc, err := a.cfg.Supervisor.Spawn(ctx, opts.SessionID, process.Config{
		Command:     a.cfg.Bin,
		Args:        []string{"serve", "--port", strconv.Itoa(port), "--hostname", a.cfg.Hostname},
		WorkingDir:  a.cfg.WorkingDir,
		Environment: a.cfg.Environment,
		DenyListEnv: a.cfg.DenyListEnv,
		Resume:      opts.Resume,
	})
	if err != nil {
		return nil, fmt.Errorf("opencode: spawn: %w", err)
	}

	if err := a.waitReady(ctx, opts.SessionID, proc); err != nil {
		_ = proc.Stop()
		return nil, err
	}

	baseURL := fmt.Sprintf("http://%s:%d", a.cfg.Hostname, port)
	client := opencode.NewClient(option.WithBaseURL(baseURL))

	directory := a.cfg.WorkingDir
	var upstreamID string
	if opts.Resume {
		if v, ok := opts.AdapterOptions["upstreamSessionId"].(string); ok {
			upstreamID = v
		}
	}
	if upstreamID == "" {
		created, err := client.Session.New(ctx, opencode.SessionNewParams{
			Directory: param.NewOpt(directory),
		})
		if err != nil {
			_ = proc.Stop()
			return nil, fmt.Errorf("opencode: create session: %w", err)
		}
		upstreamID = created.ID
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		sessionID:   opts.SessionID,
		upstreamID:  upstreamID,
		directory:   directory,
		client:      client,
		proc:        proc,
		cancel:      cancel,
		messages:    make(chan unified.Message, 256),
	}

	a.cfg.Supervisor.MarkReady(opts.SessionID)

	go sess.runEventLoop(sessCtx)

	init := unified.New(unified.TypeSessionInit, unified.RoleSystem)
	init.Metadata = map[string]any{"upstream_session_id": upstreamID}
	sess.emit(init)

	return sess, nil
}

// waitReady blocks until "listening on" appears on the child's stdout (the
// supervisor's own line-scanning, since this adapter does not set
// RawStdout) or ReadyTimeout elapses.
func (a *Adapter) waitReady(ctx context.Context, sessionKey string, proc *process.Process) error {
	deadline := time.After(a.cfg.ReadyTimeout)
	events := a.cfg.Supervisor.Events()
	for {
		select {
		case ev := <-events:
			if ev.SessionKey != sessionKey {
				continue
			}
			switch ev.Type {
			case process.EventStdout:
				if strings.Contains(ev.Line, "listening on") {
					return nil
				}
			case process.EventExited:
				return fmt.Errorf("opencode: process exited before becoming ready")
			}
		case <-deadline:
			return fmt.Errorf("opencode: timed out waiting for ready signal")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Session is a live OpenCode REST+SSE session.
type Session struct {
	sessionID  string
	upstreamID string
	directory  string

	client *opencode.Client
	proc   *process.Process
	cancel context.CancelFunc

	messages chan unified.Message

	closeOnce sync.Once
}

var _ backend.Session = (*Session)(nil)

func (s *Session) SessionID() string { return s.sessionID }

func (s *Session) emit(msg unified.Message) {
	select {
	case s.messages <- msg:
	default:
		log.Printf("opencode: session %s output channel full, dropping message", s.sessionID)
	}
}

func (s *Session) Messages() <-chan unified.Message { return s.messages }

// Send implements T2. user_message -> POST /session/:id/message,
// interrupt -> POST /session/:id/abort, permission_response ->
// POST /session/:id/permissions/:permissionID, per spec §4.1.
func (s *Session) Send(msg unified.Message) error {
	switch msg.Type {
	case unified.TypeUserMessage:
		var parts []opencode.SessionMessageNewParamsPartUnion
		for _, b := range msg.Content {
			if b.Text == nil {
				continue
			}
			parts = append(parts, opencode.SessionMessageNewParamsPartUnion{
				OfSessionMessageNewsPartTextPartInput: &opencode.SessionMessageNewParamsPartTextPartInput{
					Text: b.Text.Text,
				},
			})
		}
		go func() {
			_, err := s.client.Session.Message.New(context.Background(), s.upstreamID, opencode.SessionMessageNewParams{
				Parts:     parts,
				Directory: param.NewOpt(s.directory),
			})
			if err != nil {
				log.Printf("opencode: session %s send message: %v", s.sessionID, err)
			}
		}()
		return nil

	case unified.TypeInterrupt:
		go func() {
			if _, err := s.client.Session.Abort(context.Background(), s.upstreamID, opencode.SessionAbortParams{
				Directory: param.NewOpt(s.directory),
			}); err != nil {
				log.Printf("opencode: session %s abort: %v", s.sessionID, err)
			}
		}()
		return nil

	case unified.TypePermissionResponse:
		permissionID, _ := unified.Meta[string](msg, "request_id")
		if permissionID == "" {
			return fmt.Errorf("opencode: permission_response missing request_id")
		}
		reply, _ := unified.Meta[string](msg, "behavior")
		response := mapReply(reply)
		go func() {
			if _, err := s.client.Session.RespondToPermission(context.Background(), permissionID, opencode.SessionRespondToPermissionParams{
				ID:        s.upstreamID,
				Response:  response,
				Directory: param.NewOpt(s.directory),
			}); err != nil {
				log.Printf("opencode: session %s respond to permission: %v", s.sessionID, err)
			}
		}()
		return nil

	default:
		log.Printf("opencode: session %s ignoring unsupported type %q for native send", s.sessionID, msg.Type)
		return nil
	}
}

// mapReply translates the spec's reply vocabulary ("once"|"always"|"never")
// to the SDK's ("once"|"always"|"reject"); OpenCode has no "never" concept
// of its own, so BeamCode's "never" is treated as a one-shot reject.
func mapReply(reply string) opencode.SessionRespondToPermissionParamsResponse {
	switch reply {
	case "always":
		return opencode.SessionRespondToPermissionParamsResponseAlways
	case "never":
		return opencode.SessionRespondToPermissionParamsResponseReject
	default:
		return opencode.SessionRespondToPermissionParamsResponseOnce
	}
}

func (s *Session) SendRaw(raw string) error {
	return &backend.BackendCapabilityError{Adapter: "opencode", Op: "SendRaw"}
}

// runEventLoop implements T3, consuming the server's SSE stream and
// translating each event variant into a UnifiedMessage. Reconnection is not
// attempted here: a stream error surfaces as a result message with
// is_error=true and the supervisor's own circuit breaker governs whether
// the bridge respawns the process at all.
func (s *Session) runEventLoop(ctx context.Context) {
	stream := s.client.Event.ListStreaming(ctx, opencode.EventListParams{
		Directory: param.NewOpt(s.directory),
	})

	for stream.Next() {
		evt := stream.Current()
		s.translate(evt)
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		u := unified.New(unified.TypeResult, unified.RoleSystem)
		u.Metadata = map[string]any{"is_error": true, "error_message": err.Error()}
		s.emit(u)
	}
}

func (s *Session) translate(evt opencode.EventUnion) {
	switch evt.Type {
	case "server.connected":
		u := unified.New(unified.TypeSessionInit, unified.RoleSystem)
		s.emit(u)

	case "message.part.updated":
		v := evt.AsEventEventMessagePartUpdated()
		text := v.Properties.Delta
		if text == "" {
			text = v.Properties.Part.Text
		}
		if text == "" {
			return
		}
		u := unified.New(unified.TypeStreamEvent, unified.RoleAssistant)
		u.Content = []unified.ContentBlock{unified.Text(text)}
		s.emit(u)

	case "message.updated":
		u := unified.New(unified.TypeAssistant, unified.RoleAssistant)
		s.emit(u)

	case "permission.updated":
		v := evt.AsEventEventPermissionUpdated()
		u := unified.New(unified.TypePermissionRequest, unified.RoleSystem)
		u.Metadata = map[string]any{
			"request_id": v.Properties.ID,
			"title":      v.Properties.Title,
			"tool_name":  v.Properties.Type,
		}
		s.emit(u)

	case "session.status":
		v := evt.AsEventEventSessionStatus()
		u := unified.New(unified.TypeStatusChange, unified.RoleSystem)
		u.Metadata = map[string]any{"status": v.Properties}
		s.emit(u)

	case "session.idle":
		u := unified.New(unified.TypeResult, unified.RoleSystem)
		u.Metadata = map[string]any{"is_error": false}
		s.emit(u)

	case "session.error":
		v := evt.AsEventEventSessionError()
		u := unified.New(unified.TypeResult, unified.RoleSystem)
		u.Metadata = map[string]any{"is_error": true, "error_message": fmt.Sprintf("%v", v.Properties)}
		s.emit(u)

	default:
		// Unrecognized event kinds (lsp diagnostics, todo updates, workflow
		// steps, file edits) have no unified equivalent in this spec's
		// translation boundary and are dropped rather than guessed at.
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.proc != nil {
			_ = s.proc.Stop()
		}
		close(s.messages)
	})
	return nil
}
