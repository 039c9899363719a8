package gatekeeper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEmptyTokenAdmitsAnonymousObserver(t *testing.T) {
	g := New(Config{})
	id, err := g.Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Observer {
		t.Fatal("expected anonymous identity to be an observer")
	}
	if err := g.Authorize(id); err != ErrForbidden {
		t.Fatalf("expected observer to be forbidden from sending, got %v", err)
	}
}

func TestSynchronousAuthFailurePropagatesImmediately(t *testing.T) {
	wantErr := errors.New("bad token")
	g := New(Config{
		Authenticate: func(ctx context.Context, token string) (Identity, error) {
			return Identity{}, wantErr
		},
		AuthTimeout: time.Second,
	})
	_, err := g.Authenticate(context.Background(), "tok")
	if err != wantErr {
		t.Fatalf("expected immediate propagation of %v, got %v", wantErr, err)
	}
}

func TestAuthTimeout(t *testing.T) {
	g := New(Config{
		Authenticate: func(ctx context.Context, token string) (Identity, error) {
			<-ctx.Done()
			return Identity{}, ctx.Err()
		},
		AuthTimeout: 10 * time.Millisecond,
	})
	_, err := g.Authenticate(context.Background(), "tok")
	if err != ErrAuthTimeout {
		t.Fatalf("expected ErrAuthTimeout, got %v", err)
	}
}

func TestRateLimitExhaustsBurst(t *testing.T) {
	g := New(Config{BurstSize: 2, TokensPerSecond: 0.001})
	id := Identity{ID: "c1"}
	if !g.Allow(id) || !g.Allow(id) {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if g.Allow(id) {
		t.Fatal("expected 3rd request to be rate limited")
	}
}
