// Package gatekeeper implements the bridge's consumer admission path (spec
// §4.6): authenticate (sync-throw or async-racing-a-timeout), authorize
// against an observer-denied set, and per-consumer rate limiting. Grounded
// on the teacher's provider readiness-timeout race idiom (the same
// context.WithTimeout-vs-channel pattern used by every backend adapter's
// Connect to bound process/dial readiness), applied here to bound how long
// an async Authenticator may take.
package gatekeeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beamcode/beamcode/internal/ratelimit"
)

// DefaultAuthTimeout is spec §5's authTimeoutMs default.
const DefaultAuthTimeout = 5 * time.Second

// Identity is what a successful authentication resolves to.
type Identity struct {
	ID       string
	Observer bool // true if this consumer may only watch, never send
}

var (
	ErrUnauthenticated = errors.New("gatekeeper: authentication failed")
	ErrAuthTimeout      = errors.New("gatekeeper: authentication timed out")
	ErrForbidden        = errors.New("gatekeeper: operation not permitted for this identity")
	ErrRateLimited      = errors.New("gatekeeper: rate limit exceeded")
)

// Authenticator validates a connecting consumer's credentials. It may
// return synchronously (typical token-lookup failures throw immediately) or
// block; Gatekeeper races it against authTimeoutMs either way.
type Authenticator func(ctx context.Context, token string) (Identity, error)

// anonCounter backs the anon-N monotonic fallback identity, per spec §4.6's
// "no credentials supplied" path — a consumer that supplies nothing is not
// rejected outright, it is admitted as an anonymous observer.
var anonCounter int64

func nextAnonID() string {
	n := atomic.AddInt64(&anonCounter, 1)
	return "anon-" + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Gatekeeper admits or rejects consumer connections and rate-limits their
// inbound traffic once admitted.
type Gatekeeper struct {
	authenticate Authenticator
	authTimeout  time.Duration

	deniedObservers map[string]bool

	burstSize       int
	tokensPerSecond float64

	mu      sync.Mutex
	buckets map[string]*ratelimit.Bucket
}

// Config parameterizes a Gatekeeper.
type Config struct {
	Authenticate    Authenticator
	AuthTimeout     time.Duration
	DeniedObservers []string // identity IDs Authorize refuses to let send, whatever their Observer flag
	BurstSize       int
	TokensPerSecond float64
}

// New constructs a Gatekeeper.
func New(cfg Config) *Gatekeeper {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 20
	}
	if cfg.TokensPerSecond <= 0 {
		cfg.TokensPerSecond = 5
	}
	denied := make(map[string]bool, len(cfg.DeniedObservers))
	for _, id := range cfg.DeniedObservers {
		denied[id] = true
	}
	return &Gatekeeper{
		authenticate:    cfg.Authenticate,
		authTimeout:     cfg.AuthTimeout,
		deniedObservers: denied,
		burstSize:       cfg.BurstSize,
		tokensPerSecond: cfg.TokensPerSecond,
		buckets:         make(map[string]*ratelimit.Bucket),
	}
}

// Authenticate admits a connecting consumer. An empty token always succeeds
// as an anonymous observer rather than being rejected. A non-empty token is
// handed to the configured Authenticator, raced against authTimeoutMs; a
// synchronous error from Authenticator propagates immediately without
// waiting out the timeout.
func (g *Gatekeeper) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{ID: nextAnonID(), Observer: true}, nil
	}
	if g.authenticate == nil {
		return Identity{}, ErrUnauthenticated
	}

	type result struct {
		id  Identity
		err error
	}
	ch := make(chan result, 1)
	go func() {
		id, err := g.authenticate(ctx, token)
		ch <- result{id, err}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, g.authTimeout)
	defer cancel()

	select {
	case r := <-ch:
		if r.err != nil {
			return Identity{}, r.err
		}
		return r.id, nil
	case <-timeoutCtx.Done():
		return Identity{}, ErrAuthTimeout
	}
}

// Authorize reports whether identity may perform a send (non-observer
// action). Observers on the denied list, or any identity flagged Observer,
// may not send.
func (g *Gatekeeper) Authorize(id Identity) error {
	if id.Observer {
		return ErrForbidden
	}
	if g.deniedObservers[id.ID] {
		return ErrForbidden
	}
	return nil
}

// Allow applies per-consumer rate limiting, lazily creating a bucket for a
// newly seen identity.
func (g *Gatekeeper) Allow(id Identity) bool {
	g.mu.Lock()
	b, ok := g.buckets[id.ID]
	if !ok {
		b = ratelimit.New(g.burstSize, g.tokensPerSecond)
		g.buckets[id.ID] = b
	}
	g.mu.Unlock()
	return b.Allow()
}

// Forget drops a disconnected consumer's rate-limit state.
func (g *Gatekeeper) Forget(id Identity) {
	g.mu.Lock()
	delete(g.buckets, id.ID)
	g.mu.Unlock()
}
