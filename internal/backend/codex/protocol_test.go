package codex

import (
	"encoding/json"
	"testing"

	"github.com/beamcode/beamcode/internal/jsonrpc"
	"github.com/beamcode/beamcode/internal/unified"
)

func TestDispatchAgentMessage(t *testing.T) {
	s := &Session{sessionID: "sess-1", messages: make(chan unified.Message, 4)}

	req, err := jsonrpc.NewNotification(MethodAgentMessage, AgentMessageParams{Text: "hello"})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.dispatch(line)

	select {
	case m := <-s.messages:
		if m.Type != unified.TypeAssistant {
			t.Fatalf("expected assistant type, got %q", m.Type)
		}
		if len(m.Content) != 1 || m.Content[0].Text == nil || m.Content[0].Text.Text != "hello" {
			t.Fatalf("unexpected content: %+v", m.Content)
		}
	default:
		t.Fatal("expected a message to be emitted")
	}
}

func TestDispatchTurnComplete(t *testing.T) {
	s := &Session{sessionID: "sess-1", messages: make(chan unified.Message, 4)}

	req, err := jsonrpc.NewNotification(MethodTurnComplete, TurnCompleteParams{
		IsError: false, InputTokens: 10, OutputTokens: 20,
	})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.dispatch(line)

	m := <-s.messages
	if m.Type != unified.TypeResult {
		t.Fatalf("expected result type, got %q", m.Type)
	}
	if isErr, _ := unified.Meta[bool](m, "is_error"); isErr {
		t.Fatalf("expected is_error=false")
	}
}

func TestDispatchUnrecognizedMethodDropped(t *testing.T) {
	s := &Session{sessionID: "sess-1", messages: make(chan unified.Message, 4)}

	req, err := jsonrpc.NewNotification("totally/unknown", struct{}{})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.dispatch(line)

	select {
	case m := <-s.messages:
		t.Fatalf("expected no message, got %+v", m)
	default:
	}
}

func TestSendUserMessageQueuesWhenDisconnected(t *testing.T) {
	s := &Session{sessionID: "sess-1", messages: make(chan unified.Message, 4)}
	msg := unified.New(unified.TypeUserMessage, unified.RoleUser)
	msg.Content = []unified.ContentBlock{unified.Text("hi")}

	if err := s.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(s.pendingOutbound) != 1 {
		t.Fatalf("expected one queued outbound frame, got %d", len(s.pendingOutbound))
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(s.pendingOutbound[0], &req); err != nil {
		t.Fatalf("unmarshal queued frame: %v", err)
	}
	if req.Method != MethodUserMessage {
		t.Fatalf("expected method %q, got %q", MethodUserMessage, req.Method)
	}
}
