// Package claudews implements backend adapter 1 (spec §4.1.1): a WebSocket
// server embedded in the bridge that the `claude --sdk-url` CLI dials back
// into. Wire structs here are adapted nearly verbatim from the teacher's
// internal/provider/common/claudews/protocol.go for bit-exact compatibility
// with the CLI, per spec §6's "Adapter native wire formats."
package claudews

import "encoding/json"

// UserMessage is the bit-exact outbound "user" frame from spec §6.
type UserMessage struct {
	Type            string          `json:"type"`
	Message         UserMessageBody `json:"message"`
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	SessionID       string          `json:"session_id"`
}

type UserMessageBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// NewUserMessage builds the spec §6 Claude CLI user frame for plain text
// content.
func NewUserMessage(sessionID, content string) (UserMessage, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return UserMessage{}, err
	}
	return UserMessage{
		Type:      "user",
		Message:   UserMessageBody{Role: "user", Content: raw},
		SessionID: sessionID,
	}, nil
}

type KeepAlive struct {
	Type string `json:"type"`
}

type SystemInitMessage struct {
	Type              string           `json:"type"`
	Subtype           string           `json:"subtype"`
	Model             string           `json:"model"`
	Cwd               string           `json:"cwd"`
	Tools             []string         `json:"tools"`
	PermissionMode    string           `json:"permissionMode"`
	ClaudeCodeVersion string           `json:"claude_code_version"`
	MCPServers        []MCPServerInfo  `json:"mcp_servers"`
	Agents            []string         `json:"agents"`
	SlashCommands     []string         `json:"slash_commands"`
	Skills            []string         `json:"skills"`
}

type MCPServerInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type AssistantMessage struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type StreamEvent struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

type ResultUsage struct {
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`
	ContextWindow int64 `json:"context_window"`
}

type ResultMessage struct {
	Type               string                 `json:"type"`
	Subtype            string                 `json:"subtype"`
	IsError            bool                   `json:"is_error"`
	NumTurns           int                    `json:"num_turns"`
	TotalCostUSD        float64               `json:"total_cost_usd"`
	DurationMs         int64                  `json:"duration_ms"`
	DurationAPIMs      int64                  `json:"duration_api_ms"`
	TotalLinesAdded    int64                  `json:"total_lines_added"`
	TotalLinesRemoved  int64                  `json:"total_lines_removed"`
	ModelUsage         map[string]ResultUsage `json:"modelUsage"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
}

type SystemStatusMessage struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	PermissionMode string `json:"permissionMode,omitempty"`
}

type ToolProgressMessage struct {
	Type    string          `json:"type"`
	ToolUseID string        `json:"tool_use_id"`
	Progress json.RawMessage `json:"progress"`
}

// ControlRequest is the bit-exact inbound/outbound control_request frame
// from spec §6.
type ControlRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

type CanUseToolRequest struct {
	Subtype      string          `json:"subtype"`
	ToolName     string          `json:"tool_name"`
	Input        json.RawMessage `json:"input"`
	Suggestions  json.RawMessage `json:"suggestions,omitempty"`
	Description  string          `json:"description,omitempty"`
	ToolUseID    string          `json:"tool_use_id"`
	AgentID      string          `json:"agent_id,omitempty"`
}

// ControlResponse is the bit-exact control_response frame from spec §6.
type ControlResponse struct {
	Type     string                 `json:"type"`
	Response ControlResponsePayload `json:"response"`
}

type ControlResponsePayload struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ToolPermissionBehavior is "allow" or "deny".
type ToolPermissionBehavior string

const (
	BehaviorAllow ToolPermissionBehavior = "allow"
	BehaviorDeny  ToolPermissionBehavior = "deny"
)

type permissionResponseBody struct {
	Behavior          ToolPermissionBehavior `json:"behavior"`
	UpdatedInput       json.RawMessage       `json:"updatedInput,omitempty"`
	UpdatedPermissions json.RawMessage       `json:"updatedPermissions,omitempty"`
	Message            string                `json:"message,omitempty"`
}

// AllowResponse builds the control_response for a permission allow.
func AllowResponse(requestID string, updatedInput json.RawMessage) (ControlResponse, error) {
	body, err := json.Marshal(permissionResponseBody{Behavior: BehaviorAllow, UpdatedInput: updatedInput})
	if err != nil {
		return ControlResponse{}, err
	}
	return ControlResponse{
		Type: "control_response",
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  body,
		},
	}, nil
}

// DenyResponse builds the control_response for a permission denial.
func DenyResponse(requestID, message string) (ControlResponse, error) {
	body, err := json.Marshal(permissionResponseBody{Behavior: BehaviorDeny, Message: message})
	if err != nil {
		return ControlResponse{}, err
	}
	return ControlResponse{
		Type: "control_response",
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  body,
		},
	}, nil
}

type InterruptPayload struct {
	Subtype string `json:"subtype"`
}

// InterruptRequest builds the bit-exact control_request for an interrupt.
func InterruptRequest(requestID string) (ControlRequest, error) {
	raw, err := json.Marshal(InterruptPayload{Subtype: "interrupt"})
	if err != nil {
		return ControlRequest{}, err
	}
	return ControlRequest{Type: "control_request", RequestID: requestID, Request: raw}, nil
}

type setModelPayload struct {
	Subtype string `json:"subtype"`
	Model   string `json:"model"`
}

// SetModelRequest builds the control_request for set_model.
func SetModelRequest(requestID, model string) (ControlRequest, error) {
	raw, err := json.Marshal(setModelPayload{Subtype: "set_model", Model: model})
	if err != nil {
		return ControlRequest{}, err
	}
	return ControlRequest{Type: "control_request", RequestID: requestID, Request: raw}, nil
}

type setPermissionModePayload struct {
	Subtype string `json:"subtype"`
	Mode    string `json:"mode"`
}

// SetPermissionModeRequest builds the control_request for set_permission_mode.
func SetPermissionModeRequest(requestID, mode string) (ControlRequest, error) {
	raw, err := json.Marshal(setPermissionModePayload{Subtype: "set_permission_mode", Mode: mode})
	if err != nil {
		return ControlRequest{}, err
	}
	return ControlRequest{Type: "control_request", RequestID: requestID, Request: raw}, nil
}

// envelope sniffs the outer "type" of an inbound NDJSON line for dispatch.
type envelope struct {
	Type string `json:"type"`
}

func decodeEnvelope(line []byte) (string, error) {
	var e envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return "", err
	}
	return e.Type, nil
}
