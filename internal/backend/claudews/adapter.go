package claudews

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/circuit"
	"github.com/beamcode/beamcode/internal/ndjson"
	"github.com/beamcode/beamcode/internal/process"
	"github.com/beamcode/beamcode/internal/unified"
)

// DefaultReadyTimeout is how long Connect waits for the `claude --sdk-url`
// process to dial back into the embedded server, per spec §5's default
// process readiness timeout.
const DefaultReadyTimeout = 15 * time.Second

// PermissionHandler lets the caller intercept a can_use_tool control_request
// before it is surfaced as a permission_request UnifiedMessage. Most callers
// pass nil, which auto-emits the UnifiedMessage and lets the bridge's
// permission tracker (component 17) own the round trip.
type PermissionHandler func(req CanUseToolRequest) (allow bool, updatedInput json.RawMessage)

// Config configures one Claude SDK-URL adapter instance.
type Config struct {
	ClaudeBin       string // defaults to "claude"
	ReadyTimeout    time.Duration
	Supervisor      *process.Supervisor
	PermissionHandler PermissionHandler
	DenyListEnv     []string
}

// Adapter implements backend.Adapter for the Claude SDK-URL protocol.
type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.ClaudeBin == "" {
		cfg.ClaudeBin = "claude"
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
		SlashCommands: true,
		Availability:  "local",
		Teams:         true,
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
		sessionID:   opts.SessionID,
		server:      srv,
		cancel:      cancel,
		messages:    make(chan unified.Message, 256),
		permHandler: a.cfg.PermissionHandler,
		pendingOutbound: nil,
	}

	args := []string{"--sdk-url", fmt.Sprintf("ws://%s", srv.Addr())}
	if opts.Resume {
		args = append(args, "--resume")
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, a.cfg.ReadyTimeout)
	defer readyCancel()

	proc, err := a.cfg.Supervisor.Spawn(serveCtx, opts.SessionID, process.Config{
		Command:     a.cfg.ClaudeBin,
		Args:        args,
		DenyListEnv: a.cfg.DenyListEnv,
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
		return nil, fmt.Errorf("claudews: process did not connect within %s: %w", a.cfg.ReadyTimeout, err)
	}
	a.cfg.Supervisor.MarkReady(opts.SessionID)

	sess.conn = conn
	go sess.readLoop(serveCtx)
	go conn.StartPing(serveCtx)

	return sess, nil
}

// Session is a live Claude SDK-URL backend session.
type Session struct {
	sessionID string
	server    *wsServer
	proc      *process.Process
	conn      *wsConn
	cancel    context.CancelFunc

	messages    chan unified.Message
	permHandler PermissionHandler

	mu              sync.Mutex
	pendingOutbound [][]byte // queued before conn attaches

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
		log.Printf("claudews: session %s output channel full, dropping message", s.sessionID)
	}
}

// dispatch implements T3 (native → UnifiedMessage). Unrecognized types are
// dropped and logged per spec §4.1; recognized-but-malformed payloads emit
// a result{is_error:true}.
func (s *Session) dispatch(line []byte) {
	typ, err := decodeEnvelope(line)
	if err != nil {
		log.Printf("claudews: session %s malformed envelope: %v", s.sessionID, err)
		s.emitErrorResult(fmt.Sprintf("malformed envelope: %v", err))
		return
	}

	switch typ {
	case "system":
		var m SystemInitMessage
		if err := json.Unmarshal(line, &m); err != nil {
			s.emitErrorResult(err.Error())
			return
		}
		u := unified.New(unified.TypeSessionInit, unified.RoleSystem).WithRaw(line)
		u.Metadata = map[string]any{
			"model": m.Model, "cwd": m.Cwd, "tools": m.Tools,
			"permissionMode": m.PermissionMode, "claude_code_version": m.ClaudeCodeVersion,
			"agents": m.Agents, "slash_commands": m.SlashCommands, "skills": m.Skills,
		}
		s.emit(u)

	case "assistant":
		var m AssistantMessage
		_ = json.Unmarshal(line, &m)
		u := unified.New(unified.TypeAssistant, unified.RoleAssistant).WithRaw(line)
		u.Metadata = map[string]any{"message": json.RawMessage(m.Message)}
		s.emit(u)

	case "stream_event":
		var m StreamEvent
		_ = json.Unmarshal(line, &m)
		u := unified.New(unified.TypeStreamEvent, unified.RoleAssistant).WithRaw(line)
		u.Metadata = map[string]any{"event": json.RawMessage(m.Event)}
		s.emit(u)

	case "result":
		var m ResultMessage
		if err := json.Unmarshal(line, &m); err != nil {
			s.emitErrorResult(err.Error())
			return
		}
		u := unified.New(unified.TypeResult, unified.RoleSystem).WithRaw(line)
		u.Metadata = map[string]any{
			"is_error": m.IsError, "num_turns": m.NumTurns, "total_cost_usd": m.TotalCostUSD,
			"duration_ms": m.DurationMs, "duration_api_ms": m.DurationAPIMs,
			"total_lines_added": m.TotalLinesAdded, "total_lines_removed": m.TotalLinesRemoved,
			"error_message": m.ErrorMessage,
		}
		s.emit(u)

	case "control_request":
		var cr ControlRequest
		if err := json.Unmarshal(line, &cr); err != nil {
			s.emitErrorResult(err.Error())
			return
		}
		var req CanUseToolRequest
		if err := json.Unmarshal(cr.Request, &req); err == nil && req.Subtype == "can_use_tool" {
			s.handleCanUseTool(cr.RequestID, req, line)
			return
		}
		log.Printf("claudews: session %s ignoring unrecognized control_request subtype", s.sessionID)

	case "control_response":
		u := unified.New(unified.TypeControlResponse, unified.RoleSystem).WithRaw(line)
		var payload struct {
			Response struct {
				Subtype   string          `json:"subtype"`
				RequestID string          `json:"request_id"`
				Response  json.RawMessage `json:"response"`
			} `json:"response"`
		}
		_ = json.Unmarshal(line, &payload)
		u.Metadata = map[string]any{
			"subtype":    payload.Response.Subtype,
			"request_id": payload.Response.RequestID,
			"response":   payload.Response.Response,
		}
		s.emit(u)

	case "tool_progress":
		var m ToolProgressMessage
		_ = json.Unmarshal(line, &m)
		u := unified.New(unified.TypeToolProgress, unified.RoleAssistant).WithRaw(line)
		u.Metadata = map[string]any{"tool_use_id": m.ToolUseID, "progress": json.RawMessage(m.Progress)}
		s.emit(u)

	case "tool_use_summary":
		s.emit(unified.New(unified.TypeToolUseSummary, unified.RoleAssistant).WithRaw(line))

	case "auth_status":
		s.emit(unified.New(unified.TypeAuthStatus, unified.RoleSystem).WithRaw(line))

	case "keep_alive":
		s.emit(unified.New(unified.TypeKeepAlive, unified.RoleSystem).WithRaw(line))

	default:
		log.Printf("claudews: session %s dropping unrecognized native type %q", s.sessionID, typ)
	}
}

func (s *Session) emitErrorResult(message string) {
	u := unified.New(unified.TypeResult, unified.RoleSystem)
	u.Metadata = map[string]any{"is_error": true, "error_message": message}
	s.emit(u)
}

func (s *Session) handleCanUseTool(requestID string, req CanUseToolRequest, raw []byte) {
	if s.permHandler != nil {
		allow, updatedInput := s.permHandler(req)
		var resp ControlResponse
		var err error
		if allow {
			resp, err = AllowResponse(requestID, updatedInput)
		} else {
			resp, err = DenyResponse(requestID, "")
		}
		if err == nil {
			s.writeJSON(resp)
		}
		return
	}

	u := unified.New(unified.TypePermissionRequest, unified.RoleAssistant).WithRaw(raw)
	u.Metadata = map[string]any{
		"request_id":  requestID,
		"tool_name":   req.ToolName,
		"input":       req.Input,
		"suggestions": req.Suggestions,
		"description": req.Description,
		"tool_use_id": req.ToolUseID,
		"agent_id":    req.AgentID,
	}
	s.emit(u)
}

// Send implements T2 (UnifiedMessage → native).
func (s *Session) Send(msg unified.Message) error {
	switch msg.Type {
	case unified.TypeUserMessage:
		content := ""
		for _, b := range msg.Content {
			if b.Text != nil {
				content += b.Text.Text
			}
		}
		um, err := NewUserMessage(s.sessionID, content)
		if err != nil {
			return err
		}
		return s.writeJSON(um)

	case unified.TypeInterrupt:
		req, err := InterruptRequest(uuid.NewString())
		if err != nil {
			return err
		}
		return s.writeJSON(req)

	case unified.TypePermissionResponse:
		requestID, _ := unified.Meta[string](msg, "request_id")
		behavior, _ := unified.Meta[string](msg, "behavior")
		updatedInput, _ := unified.Meta[json.RawMessage](msg, "updated_input")
		var resp ControlResponse
		var err error
		if behavior == "allow" {
			resp, err = AllowResponse(requestID, updatedInput)
		} else {
			message, _ := unified.Meta[string](msg, "message")
			resp, err = DenyResponse(requestID, message)
		}
		if err != nil {
			return err
		}
		return s.writeJSON(resp)

	case unified.TypeConfigurationChange:
		if model, ok := unified.Meta[string](msg, "model"); ok {
			req, err := SetModelRequest(uuid.NewString(), model)
			if err != nil {
				return err
			}
			return s.writeJSON(req)
		}
		if mode, ok := unified.Meta[string](msg, "permissionMode"); ok {
			req, err := SetPermissionModeRequest(uuid.NewString(), mode)
			if err != nil {
				return err
			}
			return s.writeJSON(req)
		}
		log.Printf("claudews: ignoring configuration_change with no recognized field")
		return nil

	default:
		// T2 invariant: types the adapter can't express are silently
		// ignored with a warning-level trace, not an error.
		log.Printf("claudews: session %s ignoring unsupported type %q for native send", s.sessionID, msg.Type)
		return nil
	}
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

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
