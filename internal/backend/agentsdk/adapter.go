// Package agentsdk implements spec §4.1 adapter 2: the in-process "Agent
// SDK" backend with no subprocess. Grounded on the teacher's
// internal/provider/native.ADKSession, which wires google.golang.org/adk's
// runner/agent/model stack to a Gemini model; this package re-targets that
// exact wiring at the backend.Session/unified.Message contract, translating
// user_message sends into runner.Run invocations and mapping streaming
// ADK events to stream_event/assistant/result UnifiedMessages.
package agentsdk

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	adksession "google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/mcptoolset"
	"google.golang.org/genai"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/mcpregistry"
	"github.com/beamcode/beamcode/internal/unified"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultAppName = "beamcode"
	DefaultUserID  = "beamcode-user"
)

// MCPServerConfig mirrors the spec's SessionState.mcp_servers input shape.
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Config configures the in-process Agent SDK adapter.
type Config struct {
	APIKey      string
	Model       string
	ProjectID   string
	Location    string
	UseVertexAI bool
	SystemPrompt string
	MCPServers  []MCPServerConfig
}

// Adapter implements backend.Adapter for the in-process agent.
type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Streaming:    true,
		Permissions:  false,
		SlashCommands: false,
		Availability: "local",
		Teams:        false,
	}
}

func (a *Adapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	sessCtx, cancel := context.WithCancel(context.Background())

	clientCfg := &genai.ClientConfig{APIKey: a.cfg.APIKey}
	if a.cfg.UseVertexAI && a.cfg.ProjectID != "" {
		clientCfg.Project = a.cfg.ProjectID
		clientCfg.Location = a.cfg.Location
		clientCfg.APIKey = ""
	}

	llm, err := gemini.NewModel(sessCtx, a.cfg.Model, clientCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agentsdk: create model: %w", err)
	}

	sess := &Session{
		sessionID: opts.SessionID,
		cancel:    cancel,
		messages:  make(chan unified.Message, 256),
	}

	toolsets, handles, err := setupMCPToolsets(sessCtx, a.cfg.MCPServers)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agentsdk: mcp toolsets: %w", err)
	}
	sess.mcpHandles = handles

	ag, err := llmagent.New(llmagent.Config{
		Name:        fmt.Sprintf("beamcode-%s", opts.SessionID),
		Model:       llm,
		Description: "BeamCode managed in-process agent",
		Instruction: a.cfg.SystemPrompt,
		Toolsets:    toolsets,
		AfterModelCallbacks: []llmagent.AfterModelCallback{
			sess.afterModelCallback,
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agentsdk: create agent: %w", err)
	}

	sessSvc := adksession.InMemoryService()
	r, err := runner.New(runner.Config{AppName: DefaultAppName, Agent: ag, SessionService: sessSvc})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agentsdk: create runner: %w", err)
	}

	created, err := sessSvc.Create(sessCtx, &adksession.CreateRequest{AppName: DefaultAppName, UserID: DefaultUserID})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agentsdk: create adk session: %w", err)
	}

	sess.runner = r
	sess.adkUserID = DefaultUserID
	sess.adkSessID = created.Session.ID()

	init := unified.New(unified.TypeSessionInit, unified.RoleSystem)
	init.Metadata = map[string]any{"model": a.cfg.Model}
	sess.emit(init)

	return sess, nil
}

func setupMCPToolsets(ctx context.Context, servers []MCPServerConfig) ([]tool.Toolset, []*mcpHandle, error) {
	registry := mcpregistry.New()

	var toolsets []tool.Toolset
	var handles []*mcpHandle
	for _, cfg := range servers {
		if err := registry.Validate(mcpregistry.ServerConfig{Name: cfg.Name, Command: cfg.Command, Args: cfg.Args}); err != nil {
			return nil, nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
		}

		mcpCtx, mcpCancel := context.WithCancel(ctx)
		cmd := exec.CommandContext(mcpCtx, cfg.Command, cfg.Args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		ts, err := mcptoolset.New(mcptoolset.Config{Transport: &mcp.CommandTransport{Command: cmd}})
		if err != nil {
			mcpCancel()
			return nil, nil, fmt.Errorf("mcp toolset %s: %w", cfg.Name, err)
		}
		toolsets = append(toolsets, ts)
		handles = append(handles, &mcpHandle{cancel: mcpCancel})
	}
	return toolsets, handles, nil
}

type mcpHandle struct {
	cancel context.CancelFunc
}

// Session is a live in-process Agent SDK session.
type Session struct {
	sessionID string
	cancel    context.CancelFunc

	runner     *runner.Runner
	adkUserID  string
	adkSessID  string
	mcpHandles []*mcpHandle

	messages chan unified.Message

	mu        sync.Mutex
	lastUsage map[string]any
	closeOnce sync.Once
}

var _ backend.Session = (*Session)(nil)

func (s *Session) SessionID() string { return s.sessionID }

func (s *Session) emit(msg unified.Message) {
	select {
	case s.messages <- msg:
	default:
		log.Printf("agentsdk: session %s output channel full, dropping message", s.sessionID)
	}
}

func (s *Session) Messages() <-chan unified.Message { return s.messages }

// Send implements T2. Only user_message and interrupt have native meaning
// for this adapter; everything else is silently ignored per spec §4.1's T2
// invariant.
func (s *Session) Send(msg unified.Message) error {
	switch msg.Type {
	case unified.TypeUserMessage:
		text := ""
		for _, b := range msg.Content {
			if b.Text != nil {
				text += b.Text.Text
			}
		}
		go s.runPrompt(text)
		return nil
	case unified.TypeInterrupt:
		// The ADK runner has no native step-level cancel short of tearing
		// the whole session down; BeamCode treats interrupt as a no-op for
		// this adapter rather than closing the session, matching T2's
		// "silently ignored" rule for types an adapter cannot express.
		log.Printf("agentsdk: session %s interrupt has no native effect", s.sessionID)
		return nil
	default:
		log.Printf("agentsdk: session %s ignoring unsupported type %q for native send", s.sessionID, msg.Type)
		return nil
	}
}

func (s *Session) runPrompt(text string) {
	userMsg := genai.NewContentFromText(text, "user")
	var assembled string

	for event, err := range s.runner.Run(context.Background(), s.adkUserID, s.adkSessID, userMsg, agent.RunConfig{
		StreamingMode: agent.StreamingModeSSE,
	}) {
		if err != nil {
			u := unified.New(unified.TypeResult, unified.RoleSystem)
			u.Metadata = map[string]any{"is_error": true, "error_message": err.Error()}
			s.emit(u)
			return
		}
		if event == nil {
			continue
		}
		if event.Content != nil {
			for _, part := range event.Content.Parts {
				if part.Text == "" {
					continue
				}
				if event.Partial {
					u := unified.New(unified.TypeStreamEvent, unified.RoleAssistant)
					u.Content = []unified.ContentBlock{unified.Text(part.Text)}
					s.emit(u)
				} else {
					assembled += part.Text
				}
			}
		}
	}

	if assembled != "" {
		u := unified.New(unified.TypeAssistant, unified.RoleAssistant)
		u.Content = []unified.ContentBlock{unified.Text(assembled)}
		s.emit(u)
	}

	s.mu.Lock()
	usage := s.lastUsage
	s.mu.Unlock()

	result := unified.New(unified.TypeResult, unified.RoleSystem)
	result.Metadata = map[string]any{"is_error": false, "num_turns": 1}
	if usage != nil {
		if mu, ok := usage["modelUsage"]; ok {
			result.Metadata["modelUsage"] = mu
		}
	}
	s.emit(result)
}

func (s *Session) afterModelCallback(ctx agent.CallbackContext, resp *model.LLMResponse, err error) (*model.LLMResponse, error) {
	if err != nil || resp == nil || resp.UsageMetadata == nil {
		return resp, err
	}
	u := unified.New(unified.TypeResult, unified.RoleSystem)
	u.Metadata = map[string]any{
		"modelUsage": map[string]any{
			"inputTokens":  int64(resp.UsageMetadata.PromptTokenCount),
			"outputTokens": int64(resp.UsageMetadata.CandidatesTokenCount),
		},
	}
	// Usage lands alongside the turn's own result message rather than as a
	// second one; stash it for the next runPrompt's result emission instead
	// of emitting here, since AfterModelCallback fires per model call, not
	// per turn, and a turn may call the model several times (tool loops).
	s.mu.Lock()
	s.lastUsage = u.Metadata
	s.mu.Unlock()
	return resp, err
}

func (s *Session) SendRaw(raw string) error {
	return &backend.BackendCapabilityError{Adapter: "agentsdk", Op: "SendRaw"}
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		for _, h := range s.mcpHandles {
			h.cancel()
		}
		close(s.messages)
	})
	return err
}
