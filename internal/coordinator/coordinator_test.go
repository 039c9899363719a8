package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/unified"
)

type fakeSession struct {
	messages chan unified.Message
}

func (f *fakeSession) SessionID() string                       { return "s" }
func (f *fakeSession) Send(msg unified.Message) error            { return nil }
func (f *fakeSession) SendRaw(raw string) error                 { return nil }
func (f *fakeSession) Messages() <-chan unified.Message          { return f.messages }
func (f *fakeSession) Close() error                              { close(f.messages); return nil }

type fakeAdapter struct{}

func (fakeAdapter) Capabilities() backend.Capabilities { return backend.Capabilities{} }
func (fakeAdapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	return &fakeSession{messages: make(chan unified.Message)}, nil
}

func TestCreateListGetDeleteSession(t *testing.T) {
	c := New(Config{Adapters: map[string]backend.Adapter{"fake": fakeAdapter{}}})

	id, err := c.CreateSession(context.Background(), CreateSessionOptions{AdapterName: "fake"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if snaps := c.ListSessions(); len(snaps) != 1 || snaps[0].SessionID != id {
		t.Fatalf("unexpected list result: %+v", snaps)
	}

	if _, ok := c.GetSession(id); !ok {
		t.Fatal("expected GetSession to find the created session")
	}

	if !c.DeleteSession(id) {
		t.Fatal("expected DeleteSession to succeed")
	}
	if c.DeleteSession(id) {
		t.Fatal("expected second DeleteSession to report false")
	}
	if _, ok := c.GetSession(id); ok {
		t.Fatal("expected GetSession to fail after delete")
	}
}

func TestCreateSessionUnknownAdapter(t *testing.T) {
	c := New(Config{Adapters: map[string]backend.Adapter{}})
	if _, err := c.CreateSession(context.Background(), CreateSessionOptions{AdapterName: "missing"}); !errors.Is(err, ErrUnknownAdapter) {
		t.Fatalf("expected ErrUnknownAdapter wrapped, got %v", err)
	}
}

func TestStopClosesAllSessions(t *testing.T) {
	c := New(Config{Adapters: map[string]backend.Adapter{"fake": fakeAdapter{}}})
	id, err := c.CreateSession(context.Background(), CreateSessionOptions{AdapterName: "fake"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	c.Stop()
	if _, ok := c.GetSession(id); ok {
		t.Fatal("expected no sessions after Stop")
	}
	if _, err := c.CreateSession(context.Background(), CreateSessionOptions{AdapterName: "fake"}); err == nil {
		t.Fatal("expected CreateSession to fail after Stop")
	}
}
