package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/unified"
)

type fakeSession struct {
	sent     []unified.Message
	messages chan unified.Message
}

func newFakeSession() *fakeSession {
	return &fakeSession{messages: make(chan unified.Message, 16)}
}

func (f *fakeSession) SessionID() string { return "sess-1" }
func (f *fakeSession) Send(msg unified.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeSession) SendRaw(raw string) error                 { return nil }
func (f *fakeSession) Messages() <-chan unified.Message          { return f.messages }
func (f *fakeSession) Close() error                              { close(f.messages); return nil }

type fakeAdapter struct {
	session *fakeSession
}

func (a *fakeAdapter) Capabilities() backend.Capabilities { return backend.Capabilities{} }
func (a *fakeAdapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	return a.session, nil
}

func TestBridgeBroadcastsOutboundToConsumers(t *testing.T) {
	sess := newFakeSession()
	b := New(Config{SessionID: "sess-1", Adapter: &fakeAdapter{session: sess}})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	delivered := make(chan map[string]any, 4)
	b.AttachConsumer(Consumer{
		ID: "c1",
		Deliver: func(payload map[string]any) error {
			delivered <- payload
			return nil
		},
	})

	sess.messages <- unified.Message{Type: unified.TypeAssistant, Role: unified.RoleAssistant, Content: []unified.ContentBlock{unified.Text("hi")}}

	select {
	case p := <-delivered:
		if p["payload"] == nil {
			t.Fatalf("expected a payload, got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHandleInboundUserMessageSendsToBackend(t *testing.T) {
	sess := newFakeSession()
	b := New(Config{SessionID: "sess-1", Adapter: &fakeAdapter{session: sess}})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	raw, _ := json.Marshal(map[string]string{"type": "chat", "text": "hello"})
	err := b.HandleInbound(context.Background(), testGatekeeper(), "c1", testIdentity(), raw)
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(sess.sent) != 1 || sess.sent[0].Type != unified.TypeUserMessage {
		t.Fatalf("expected one user message sent, got %+v", sess.sent)
	}
}

func TestQueueThenAutoSendOnIdle(t *testing.T) {
	sess := newFakeSession()
	b := New(Config{SessionID: "sess-1", Adapter: &fakeAdapter{session: sess}})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	raw, _ := json.Marshal(map[string]string{"type": "queue_message", "text": "queued turn"})
	if err := b.HandleInbound(context.Background(), testGatekeeper(), "c1", testIdentity(), raw); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(sess.sent) != 0 {
		t.Fatalf("expected nothing sent yet, got %+v", sess.sent)
	}

	sess.messages <- unified.Message{Type: unified.TypeResult, Metadata: map[string]any{"is_error": false}}
	time.Sleep(50 * time.Millisecond)

	if len(sess.sent) != 1 || sess.sent[0].Content[0].Text.Text != "queued turn" {
		t.Fatalf("expected the queued turn to auto-send, got %+v", sess.sent)
	}
}
