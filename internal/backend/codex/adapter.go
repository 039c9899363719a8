package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/circuit"
	"github.com/beamcode/beamcode/internal/jsonrpc"
	"github.com/beamcode/beamcode/internal/ndjson"
	"github.com/beamcode/beamcode/internal/process"
	"github.com/beamcode/beamcode/internal/unified"
)

// DefaultReadyTimeout mirrors claudews's default process readiness window.
const DefaultReadyTimeout = 15 * time.Second

// Config configures one Codex adapter instance.
type Config struct {
	CodexBin     string // defaults to "codex"
	ReadyTimeout time.Duration
	Supervisor   *process.Supervisor
	DenyListEnv  []string
}

// Adapter implements backend.Adapter for the Codex local-WebSocket protocol.
type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.CodexBin == "" {
		cfg.CodexBin = "codex"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = process.New(circuit.Config{FailureThreshold: 3, WindowMs: 60000, RecoveryTimeMs: 30000, SuccessThreshold: 1})
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: false,
		Availability:  "local",
		Teams:         false,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	srv, err := newWSServer()
	if err != nil {
		return nil, err
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	go srv.Serve(serveCtx)

	sess := &Session{
		sessionID: opts.SessionID,
		server:    srv,
		cancel:    cancel,
		messages:  make(chan unified.Message, 256),
	}

	args := []string{"--ws-url", fmt.Sprintf("ws://%s", srv.Addr())}
	if opts.Resume {
		args = append(args, "--resume")
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, a.cfg.ReadyTimeout)
	defer readyCancel()

	proc, err := a.cfg.Supervisor.Spawn(serveCtx, opts.SessionID, process.Config{
		Command:     a.cfg.CodexBin,
		Args:        args,
		DenyListEnv: a.cfg.DenyListEnv,
		Resume:      opts.Resume,
	})
	if err != nil {
		cancel()
		_ = srv.Close()
		return nil, err
	}
	sess.proc = proc

	conn, err := srv.WaitForConn(readyCtx)
	if err != nil {
		cancel()
		_ = proc.Kill()
		_ = srv.Close()
		return nil, fmt.Errorf("codex: process did not connect within %s: %w", a.cfg.ReadyTimeout, err)
	}
	a.cfg.Supervisor.MarkReady(opts.SessionID)

	sess.conn = conn
	go sess.readLoop(serveCtx)
	go conn.StartPing(serveCtx)

	return sess, nil
}

// Session is a live Codex local-WebSocket backend session.
type Session struct {
	sessionID string
	server    *wsServer
	proc      *process.Process
	conn      *wsConn
	cancel    context.CancelFunc

	messages chan unified.Message

	mu              sync.Mutex
	pendingOutbound [][]byte

	closeOnce sync.Once
}

var _ backend.Session = (*Session)(nil)

func (s *Session) SessionID() string { return s.sessionID }

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.messages)
	var buf ndjson.LineBuffer

	for {
		raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var lines []string
		if ndjson.IsSingleJSONObject(raw) {
			lines = []string{string(raw)}
		} else {
			lines = buf.Feed(raw)
		}
		for _, line := range lines {
			s.dispatch([]byte(line))
		}
	}
}

func (s *Session) emit(msg unified.Message) {
	select {
	case s.messages <- msg:
	default:
		log.Printf("codex: session %s output channel full, dropping message", s.sessionID)
	}
}

// dispatch implements T3 (native JSON-RPC notification → UnifiedMessage).
// Unrecognized methods are dropped and logged, matching claudews's T3
// invariant for unrecognized native types.
func (s *Session) dispatch(line []byte) {
	env, err := jsonrpc.Decode(line)
	if err != nil {
		log.Printf("codex: session %s malformed envelope: %v", s.sessionID, err)
		s.emitErrorResult(fmt.Sprintf("malformed envelope: %v", err))
		return
	}
	if !env.IsRequest() {
		// A bare response to one of our own outbound requests; BeamCode's
		// outbound calls today are all fire-and-forget notifications, so
		// there is nothing to correlate a response against yet.
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.emitErrorResult(err.Error())
		return
	}

	switch req.Method {
	case MethodSessionConfigured:
		var p SessionConfiguredParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeSessionInit, unified.RoleSystem).WithRaw(line)
		u.Metadata = map[string]any{"model": p.Model, "cwd": p.Cwd, "tools": p.Tools, "sandbox": p.Sandbox}
		s.emit(u)

	case MethodAgentMessage:
		var p AgentMessageParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeAssistant, unified.RoleAssistant).WithRaw(line)
		u.Content = []unified.ContentBlock{unified.Text(p.Text)}
		s.emit(u)

	case MethodAgentMessageDelta:
		var p AgentMessageDeltaParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeStreamEvent, unified.RoleAssistant).WithRaw(line)
		u.Content = []unified.ContentBlock{unified.Text(p.Delta)}
		s.emit(u)

	case MethodToolCall:
		var p ToolCallParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeToolProgress, unified.RoleAssistant).WithRaw(line)
		u.Metadata = map[string]any{"tool_use_id": p.CallID, "tool_name": p.Name, "input": p.Input}
		s.emit(u)

	case MethodToolCallUpdate:
		var p ToolCallUpdateParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeToolProgress, unified.RoleAssistant).WithRaw(line)
		u.Metadata = map[string]any{"tool_use_id": p.CallID, "status": p.Status, "output": p.Output}
		s.emit(u)

	case MethodPermissionRequest:
		var p PermissionRequestParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypePermissionRequest, unified.RoleAssistant).WithRaw(line)
		u.Metadata = map[string]any{
			"request_id":  p.RequestID,
			"tool_name":   p.ToolName,
			"input":       p.Input,
			"description": p.Description,
		}
		s.emit(u)

	case MethodTurnComplete:
		var p TurnCompleteParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeResult, unified.RoleSystem).WithRaw(line)
		u.Metadata = map[string]any{
			"is_error":      p.IsError,
			"error_message": p.ErrorMessage,
			"duration_ms":   p.DurationMs,
			"modelUsage": map[string]any{
				"inputTokens":  p.InputTokens,
				"outputTokens": p.OutputTokens,
			},
		}
		s.emit(u)

	case MethodStatusChange:
		var p StatusChangeParams
		_ = json.Unmarshal(req.Params, &p)
		u := unified.New(unified.TypeStatusChange, unified.RoleSystem).WithRaw(line)
		u.Metadata = map[string]any{"status": p.Status}
		s.emit(u)

	default:
		log.Printf("codex: session %s dropping unrecognized native method %q", s.sessionID, req.Method)
	}
}

func (s *Session) emitErrorResult(message string) {
	u := unified.New(unified.TypeResult, unified.RoleSystem)
	u.Metadata = map[string]any{"is_error": true, "error_message": message}
	s.emit(u)
}

// Send implements T2 (UnifiedMessage → native JSON-RPC notification).
func (s *Session) Send(msg unified.Message) error {
	switch msg.Type {
	case unified.TypeUserMessage:
		text := ""
		for _, b := range msg.Content {
			if b.Text != nil {
				text += b.Text.Text
			}
		}
		return s.notify(MethodUserMessage, UserMessageParams{Text: text})

	case unified.TypeInterrupt:
		return s.notify(MethodInterrupt, struct{}{})

	case unified.TypePermissionResponse:
		requestID, _ := unified.Meta[string](msg, "request_id")
		behavior, _ := unified.Meta[string](msg, "behavior")
		message, _ := unified.Meta[string](msg, "message")
		return s.notify(MethodPermissionReply, PermissionResponseParams{
			RequestID: requestID,
			Approved:  behavior == "allow",
			Message:   message,
		})

	default:
		log.Printf("codex: session %s ignoring unsupported type %q for native send", s.sessionID, msg.Type)
		return nil
	}
}

func (s *Session) notify(method string, params any) error {
	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := jsonrpc.Encode(req)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

func (s *Session) writeRaw(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.pendingOutbound = append(s.pendingOutbound, data)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return conn.Send(data)
}

func (s *Session) SendRaw(raw string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return backend.ErrSessionClosed
	}
	return conn.Send([]byte(raw))
}

func (s *Session) Messages() <-chan unified.Message { return s.messages }

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.proc != nil {
			err = s.proc.Stop()
		}
		_ = s.server.Close()
	})
	return err
}
