// Package unified defines the canonical internal message representation that
// every backend adapter normalizes into and every consumer-facing translation
// boundary normalizes out of.
package unified

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Type enumerates the recognized UnifiedMessage kinds. Three values are
// reserved for adapter-internal forward extension and carry no fixed meaning
// in the core; adapters may use them freely for experimentation and the
// bridge forwards them transparently like any other unrecognized-but-tagged
// message.
type Type string

const (
	TypeSessionInit         Type = "session_init"
	TypeStatusChange        Type = "status_change"
	TypeAssistant           Type = "assistant"
	TypeUserMessage         Type = "user_message"
	TypeResult              Type = "result"
	TypeStreamEvent         Type = "stream_event"
	TypePermissionRequest   Type = "permission_request"
	TypePermissionResponse  Type = "permission_response"
	TypeInterrupt           Type = "interrupt"
	TypeToolProgress        Type = "tool_progress"
	TypeToolUseSummary      Type = "tool_use_summary"
	TypeAuthStatus          Type = "auth_status"
	TypeConfigurationChange Type = "configuration_change"
	TypeSessionLifecycle    Type = "session_lifecycle"
	TypeControlResponse     Type = "control_response"
	TypeKeepAlive           Type = "keep_alive"
	TypeAdapterReserved1    Type = "adapter_reserved_1"
	TypeAdapterReserved2    Type = "adapter_reserved_2"
	TypeAdapterReserved3    Type = "adapter_reserved_3"
)

// Role mirrors the wire-level author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentBlock is a tagged union; exactly one field is non-nil for any given
// instance. Marshaling emits only the populated variant's fields plus "type".
type ContentBlock struct {
	Text       *TextBlock       `json:"-"`
	ToolUse    *ToolUseBlock    `json:"-"`
	ToolResult *ToolResultBlock `json:"-"`
	Thinking   *ThinkingBlock   `json:"-"`
	Code       *CodeBlock       `json:"-"`
	Image      *ImageBlock      `json:"-"`
	Refusal    *RefusalBlock    `json:"-"`
}

type TextBlock struct {
	Text string `json:"text"`
}

type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type ThinkingBlock struct {
	Thinking     string `json:"thinking"`
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type ImageBlock struct {
	Source ImageSource `json:"source"`
}

type RefusalBlock struct {
	Refusal string `json:"refusal"`
}

// Text is a convenience constructor for the overwhelmingly common case.
func Text(s string) ContentBlock {
	return ContentBlock{Text: &TextBlock{Text: s}}
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch {
	case b.Text != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			TextBlock
		}{"text", *b.Text})
	case b.ToolUse != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			ToolUseBlock
		}{"tool_use", *b.ToolUse})
	case b.ToolResult != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			ToolResultBlock
		}{"tool_result", *b.ToolResult})
	case b.Thinking != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			ThinkingBlock
		}{"thinking", *b.Thinking})
	case b.Code != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			CodeBlock
		}{"code", *b.Code})
	case b.Image != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			ImageBlock
		}{"image", *b.Image})
	case b.Refusal != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			RefusalBlock
		}{"refusal", *b.Refusal})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"unknown"})
	}
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case "text":
		var v TextBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.Text = &v
	case "tool_use":
		var v ToolUseBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.ToolUse = &v
	case "tool_result":
		var v ToolResultBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.ToolResult = &v
	case "thinking":
		var v ThinkingBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.Thinking = &v
	case "code":
		var v CodeBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.Code = &v
	case "image":
		var v ImageBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.Image = &v
	case "refusal":
		var v RefusalBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		b.Refusal = &v
	}
	return nil
}

// Message is the single canonical internal message representation. Metadata
// is an open string-keyed bag; adapters stash whatever provider-specific
// scalars/objects they need there rather than growing this struct.
type Message struct {
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Type      Type                   `json:"type"`
	Role      Role                   `json:"role"`
	Content   []ContentBlock         `json:"content,omitempty"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
	Raw       json.RawMessage        `json:"-"`
}

// New builds a Message with a fresh id. Callers stamp Timestamp separately
// since the core does not depend on wall-clock monotonicity across sessions.
func New(typ Type, role Role) Message {
	return Message{
		ID:   uuid.NewString(),
		Type: typ,
		Role: role,
	}
}

// WithRaw returns a copy of m carrying the adapter's original wire bytes,
// useful for debugging and for passthrough re-serialization.
func (m Message) WithRaw(raw []byte) Message {
	m.Raw = raw
	return m
}

// Meta fetches a metadata value with a type assertion, returning ok=false on
// absence or type mismatch, mirroring the teacher's typed domain.Event
// accessor pattern.
func Meta[T any](m Message, key string) (T, bool) {
	var zero T
	if m.Metadata == nil {
		return zero, false
	}
	v, ok := m.Metadata[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
