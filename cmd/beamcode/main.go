// Command beamcode is the bridge's minimal entrypoint: it wires every
// backend adapter into a coordinator.Coordinator and mounts a chi router
// exposing a health endpoint and the consumer-facing WebSocket upgrade
// route, matching cmd/orbitmesh/main.go's shape (chi.NewRouter with
// Logger/Recoverer middleware, signal.NotifyContext-driven graceful
// shutdown). The wire protocol the WebSocket route speaks (spec §6) is out
// of this file's scope beyond the minimal framing needed to exercise the
// coordinator end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/beamcode/beamcode/internal/backend"
	"github.com/beamcode/beamcode/internal/backend/acp"
	"github.com/beamcode/beamcode/internal/backend/agentsdk"
	"github.com/beamcode/beamcode/internal/backend/claudews"
	"github.com/beamcode/beamcode/internal/backend/codex"
	"github.com/beamcode/beamcode/internal/backend/gemini"
	"github.com/beamcode/beamcode/internal/backend/opencode"
	"github.com/beamcode/beamcode/internal/bridge"
	"github.com/beamcode/beamcode/internal/coordinator"
	"github.com/beamcode/beamcode/internal/event"
	"github.com/beamcode/beamcode/internal/gatekeeper"
	"github.com/beamcode/beamcode/internal/snapshot"
)

const (
	defaultPort     = "8090"
	shutdownTimeout = 5 * time.Second
)

func listenAddr() string {
	if raw := strings.TrimSpace(os.Getenv("BEAMCODE_PORT")); raw != "" {
		return ":" + strings.TrimPrefix(raw, ":")
	}
	return ":" + defaultPort
}

func snapshotDir() string {
	if raw := strings.TrimSpace(os.Getenv("BEAMCODE_SNAPSHOT_DIR")); raw != "" {
		return raw
	}
	return snapshot.DefaultDir()
}

func registerAdapters() map[string]backend.Adapter {
	return map[string]backend.Adapter{
		"claude":   claudews.New(claudews.Config{}),
		"agentsdk": agentsdk.New(agentsdk.Config{}),
		"acp":      acp.New(acp.Config{}),
		"gemini":   gemini.New(gemini.Config{}),
		"opencode": opencode.New(opencode.Config{}),
		"codex":    codex.New(codex.Config{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	events := event.NewBus()
	store, err := snapshot.NewStore(snapshotDir())
	if err != nil {
		log.Fatalf("snapshot store init: %v", err)
	}
	coord := coordinator.New(coordinator.Config{Adapters: registerAdapters(), SnapshotStore: store})
	gk := gatekeeper.New(gatekeeper.Config{})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/sessions", func(w http.ResponseWriter, req *http.Request) {
		var opts coordinator.CreateSessionOptions
		if err := json.NewDecoder(req.Body).Decode(&opts); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sessionID, err := coord.CreateSession(req.Context(), opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": sessionID})
	})

	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(coord.ListSessions())
	})

	r.Delete("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		if !coord.DeleteSession(chi.URLParam(req, "id")) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/sessions/{id}/ws", func(w http.ResponseWriter, req *http.Request) {
		sessionID := chi.URLParam(req, "id")
		b, ok := coord.Bridge(sessionID)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		handleConsumerWS(w, req, b, gk)
	})

	addr := listenAddr()
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		fmt.Printf("BeamCode listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	coord.Stop()
	events.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}

	fmt.Println("BeamCode shut down cleanly")
}

var consumerCounter int64

func handleConsumerWS(w http.ResponseWriter, req *http.Request, b *bridge.Bridge, gk *gatekeeper.Gatekeeper) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	token := req.URL.Query().Get("token")
	identity, err := gk.Authenticate(req.Context(), token)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, err.Error()))
		return
	}

	consumerID := fmt.Sprintf("consumer-%d", atomic.AddInt64(&consumerCounter, 1))
	var writeErr atomic.Bool
	b.AttachConsumer(bridge.Consumer{
		ID:       consumerID,
		Identity: identity,
		Deliver: func(payload map[string]any) error {
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				writeErr.Store(true)
				return err
			}
			return nil
		},
	})
	defer b.DetachConsumer(consumerID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := b.HandleInbound(req.Context(), gk, consumerID, identity, raw); err != nil {
			log.Printf("beamcode: consumer %s inbound error: %v", consumerID, err)
		}
		if writeErr.Load() {
			return
		}
	}
}
