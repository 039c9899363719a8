// Package codex implements backend adapter 6 (spec §4.1.6): a WebSocket
// server embedded in the bridge that a spawned `codex` agent process dials
// back into, framing every message as JSON-RPC 2.0 over the connection
// rather than claudews's bespoke envelope types. Reuses internal/jsonrpc
// for the envelope/codec and mirrors claudews's embedded-server adapter
// shape; spec.md describes this adapter only as "local WebSocket to a
// Codex agent; messages normalize analogously" to adapter 1, so the
// specific method names below are BeamCode's own reasonable rendering of
// that normalization rather than a literally-documented wire format — see
// DESIGN.md's open-question note.
package codex

import "encoding/json"

// Outbound (BeamCode -> codex) method names.
const (
	MethodUserMessage      = "session/userMessage"
	MethodInterrupt        = "session/interrupt"
	MethodPermissionReply  = "session/permissionResponse"
	MethodSetConfiguration = "session/setConfiguration"
)

// Inbound (codex -> BeamCode) method names.
const (
	MethodSessionConfigured  = "session/configured"
	MethodAgentMessage       = "agent/message"
	MethodAgentMessageDelta  = "agent/messageDelta"
	MethodToolCall           = "tool/call"
	MethodToolCallUpdate     = "tool/callUpdate"
	MethodPermissionRequest  = "session/permissionRequest"
	MethodTurnComplete       = "turn/complete"
	MethodStatusChange       = "session/statusChange"
)

// UserMessageParams is the outbound payload for MethodUserMessage.
type UserMessageParams struct {
	Text string `json:"text"`
}

// PermissionResponseParams is the outbound payload for MethodPermissionReply.
type PermissionResponseParams struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Message   string `json:"message,omitempty"`
}

// SessionConfiguredParams is the inbound payload for MethodSessionConfigured,
// Codex's rough equivalent of claudews's "system" init message.
type SessionConfiguredParams struct {
	Model   string   `json:"model"`
	Cwd     string   `json:"cwd"`
	Tools   []string `json:"tools"`
	Sandbox string   `json:"sandbox"`
}

// AgentMessageParams is the inbound payload for a complete assistant turn.
type AgentMessageParams struct {
	Text string `json:"text"`
}

// AgentMessageDeltaParams is the inbound payload for a streamed token chunk.
type AgentMessageDeltaParams struct {
	Delta string `json:"delta"`
}

// ToolCallParams is the inbound payload for a tool invocation notification.
type ToolCallParams struct {
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
}

// ToolCallUpdateParams is the inbound payload for tool progress/result.
type ToolCallUpdateParams struct {
	CallID string          `json:"callId"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
}

// PermissionRequestParams is the inbound payload asking BeamCode to approve
// a tool call.
type PermissionRequestParams struct {
	RequestID   string          `json:"requestId"`
	ToolName    string          `json:"toolName"`
	Input       json.RawMessage `json:"input"`
	Description string          `json:"description,omitempty"`
}

// TurnCompleteParams is the inbound payload ending a turn, Codex's
// equivalent of claudews's "result" message.
type TurnCompleteParams struct {
	IsError      bool   `json:"isError"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	DurationMs   int64  `json:"durationMs"`
}

// StatusChangeParams is the inbound payload for a bare status transition.
type StatusChangeParams struct {
	Status string `json:"status"`
}
