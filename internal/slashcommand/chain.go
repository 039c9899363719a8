// Package slashcommand implements the bridge's chain-of-responsibility slash
// command dispatch (spec §4.4): LocalHandler, AdapterNativeHandler,
// PassthroughHandler, UnsupportedHandler, tried in that order until one
// claims the command. Grounded on the teacher's provider factory pattern
// (internal/provider/factory.go) of trying capability-gated strategies in a
// fixed priority order and falling back to an explicit unsupported case
// rather than silently dropping the request.
package slashcommand

import (
	"context"
	"time"
)

// Request is one slash command invocation carried through the chain.
type Request struct {
	Command       string
	Args          string
	RequestID     string
	SlashRequestID string
	TraceID       string
	StartedAt     time.Time
	SessionID     string
}

// Outcome is what a Handler reports back up the chain.
type Outcome struct {
	Handled bool
	Output  string
	Err     error
}

// Handler is one link in the chain. Handled=false means "not my command,
// try the next handler"; Handled=true (with or without Err) ends the chain.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req Request) Outcome
}

// Chain tries each Handler in order and reports slash_command:executed or
// slash_command:failed via the onResult callback, matching spec §4.4's
// required event emission regardless of which handler claimed the command.
type Chain struct {
	handlers []Handler
	onResult func(req Request, handlerName string, outcome Outcome)
}

// New builds a Chain from handlers in priority order. Callers normally pass
// LocalHandler, AdapterNativeHandler, PassthroughHandler, UnsupportedHandler
// in that order, the last of which always claims so the chain never falls
// through silently.
func New(onResult func(req Request, handlerName string, outcome Outcome), handlers ...Handler) *Chain {
	return &Chain{handlers: handlers, onResult: onResult}
}

// Dispatch runs req through the chain, returning the claiming handler's
// Outcome. It never returns Handled=false: the caller's final handler in the
// chain is expected to be an UnsupportedHandler that always claims.
func (c *Chain) Dispatch(ctx context.Context, req Request) Outcome {
	for _, h := range c.handlers {
		out := h.Handle(ctx, req)
		if out.Handled {
			if c.onResult != nil {
				c.onResult(req, h.Name(), out)
			}
			return out
		}
	}
	out := Outcome{Handled: true, Err: errUnclaimed(req.Command)}
	if c.onResult != nil {
		c.onResult(req, "(none)", out)
	}
	return out
}

type unclaimedError struct{ command string }

func (e *unclaimedError) Error() string { return "slashcommand: no handler claimed " + e.command }

func errUnclaimed(command string) error { return &unclaimedError{command: command} }

// LocalCommand is one command the LocalHandler can execute without the
// adapter's involvement, e.g. a bridge-native "/help".
type LocalCommand struct {
	Name string
	Run  func(ctx context.Context, req Request) (string, error)
}

// LocalHandler claims commands BeamCode itself implements, bypassing the
// backend entirely — spec §4.4's first link in the chain.
type LocalHandler struct {
	commands map[string]LocalCommand
}

func NewLocalHandler(cmds ...LocalCommand) *LocalHandler {
	m := make(map[string]LocalCommand, len(cmds))
	for _, c := range cmds {
		m[c.Name] = c
	}
	return &LocalHandler{commands: m}
}

func (h *LocalHandler) Name() string { return "local" }

func (h *LocalHandler) Handle(ctx context.Context, req Request) Outcome {
	cmd, ok := h.commands[req.Command]
	if !ok {
		return Outcome{Handled: false}
	}
	out, err := cmd.Run(ctx, req)
	return Outcome{Handled: true, Output: out, Err: err}
}

// NativeSender is the narrow backend.Session surface AdapterNativeHandler
// needs: the ability to push a unified message that the adapter will
// translate into its own slash-command-equivalent native call.
type NativeSender interface {
	SendSlashCommand(ctx context.Context, command, args string) error
}

// AdapterNativeHandler claims a command the adapter declares native support
// for (spec §4.1's Capabilities.SlashCommands), translating it through the
// adapter's own mechanism (e.g. Claude CLI's control_request "slash_command"
// subtype) rather than emulating it locally.
type AdapterNativeHandler struct {
	supportsSlashCommands bool
	known                 map[string]bool
	sender                NativeSender
}

func NewAdapterNativeHandler(supportsSlashCommands bool, known []string, sender NativeSender) *AdapterNativeHandler {
	m := make(map[string]bool, len(known))
	for _, n := range known {
		m[n] = true
	}
	return &AdapterNativeHandler{supportsSlashCommands: supportsSlashCommands, known: m, sender: sender}
}

func (h *AdapterNativeHandler) Name() string { return "adapter_native" }

func (h *AdapterNativeHandler) Handle(ctx context.Context, req Request) Outcome {
	if !h.supportsSlashCommands || !h.known[req.Command] {
		return Outcome{Handled: false}
	}
	if err := h.sender.SendSlashCommand(ctx, req.Command, req.Args); err != nil {
		return Outcome{Handled: true, Err: err}
	}
	return Outcome{Handled: true}
}

// PassthroughHandler claims any command when the adapter has no native slash
// support but does accept raw text, forwarding "/command args" as a plain
// user message — spec §4.4's emulation path for adapters like OpenCode/ACP
// that have no first-class slash concept.
type PassthroughHandler struct {
	supportsPassthrough bool
	sendText            func(ctx context.Context, text string) error
}

func NewPassthroughHandler(supportsPassthrough bool, sendText func(ctx context.Context, text string) error) *PassthroughHandler {
	return &PassthroughHandler{supportsPassthrough: supportsPassthrough, sendText: sendText}
}

func (h *PassthroughHandler) Name() string { return "passthrough" }

func (h *PassthroughHandler) Handle(ctx context.Context, req Request) Outcome {
	if !h.supportsPassthrough {
		return Outcome{Handled: false}
	}
	text := req.Command
	if req.Args != "" {
		text += " " + req.Args
	}
	if err := h.sendText(ctx, text); err != nil {
		return Outcome{Handled: true, Err: err}
	}
	return Outcome{Handled: true}
}

// UnsupportedHandler is the chain's terminal link: it always claims,
// reporting a clear error rather than letting the command vanish silently.
type UnsupportedHandler struct{}

func (UnsupportedHandler) Name() string { return "unsupported" }

func (UnsupportedHandler) Handle(ctx context.Context, req Request) Outcome {
	return Outcome{Handled: true, Err: errUnclaimed(req.Command)}
}
