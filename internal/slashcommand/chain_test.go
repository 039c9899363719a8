package slashcommand

import (
	"context"
	"testing"
)

func TestLocalHandlerClaims(t *testing.T) {
	local := NewLocalHandler(LocalCommand{
		Name: "/help",
		Run: func(ctx context.Context, req Request) (string, error) {
			return "usage: ...", nil
		},
	})
	var recorded []string
	chain := New(func(req Request, handlerName string, outcome Outcome) {
		recorded = append(recorded, handlerName)
	}, local, UnsupportedHandler{})

	out := chain.Dispatch(context.Background(), Request{Command: "/help"})
	if !out.Handled || out.Err != nil || out.Output != "usage: ..." {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(recorded) != 1 || recorded[0] != "local" {
		t.Fatalf("expected local handler recorded, got %v", recorded)
	}
}

func TestFallsThroughToPassthrough(t *testing.T) {
	local := NewLocalHandler()
	var sentText string
	passthrough := NewPassthroughHandler(true, func(ctx context.Context, text string) error {
		sentText = text
		return nil
	})
	chain := New(nil, local, passthrough, UnsupportedHandler{})

	out := chain.Dispatch(context.Background(), Request{Command: "/compact", Args: "now"})
	if !out.Handled || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if sentText != "/compact now" {
		t.Fatalf("expected passthrough text, got %q", sentText)
	}
}

func TestUnsupportedHandlerAlwaysClaims(t *testing.T) {
	chain := New(nil, UnsupportedHandler{})
	out := chain.Dispatch(context.Background(), Request{Command: "/whatever"})
	if !out.Handled || out.Err == nil {
		t.Fatalf("expected a claimed-but-failed outcome, got %+v", out)
	}
}
