package claudews

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewUserMessageWireFormat(t *testing.T) {
	msg, err := NewUserMessage("sess-1", "hello world")
	if err != nil {
		t.Fatalf("NewUserMessage: %v", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"type":"user"`) || !strings.Contains(s, `"role":"user"`) ||
		!strings.Contains(s, `"session_id":"sess-1"`) || !strings.Contains(s, `"parent_tool_use_id":null`) {
		t.Fatalf("unexpected wire format: %s", s)
	}
}

func TestAllowResponseWireFormat(t *testing.T) {
	resp, err := AllowResponse("r1", json.RawMessage(`{"command":"ls -a"}`))
	if err != nil {
		t.Fatalf("AllowResponse: %v", err)
	}
	if resp.Response.Subtype != "success" || resp.Response.RequestID != "r1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	var body permissionResponseBody
	if err := json.Unmarshal(resp.Response.Response, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Behavior != BehaviorAllow {
		t.Fatalf("expected allow behavior, got %q", body.Behavior)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	typ, err := decodeEnvelope([]byte(`{"type":"result","is_error":false}`))
	if err != nil || typ != "result" {
		t.Fatalf("expected type result, got %q err=%v", typ, err)
	}
}
