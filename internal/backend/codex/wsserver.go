package codex

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxReadBytes = 4 << 20
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsServer listens on a random local port and accepts WebSocket upgrades
// from a spawned `codex` agent process; WaitForConn hands the first
// accepted connection to the adapter. Adapted from
// claudews's wsServer (itself grounded on the teacher's
// internal/provider/common/claudews/wsserver.go): the same embedded-server,
// dial-back shape, reused here for Codex's local WebSocket transport per
// spec §4.1 adapter 6.
type wsServer struct {
	listener net.Listener
	server   *http.Server

	mu    sync.Mutex
	conn  *wsConn
	ready chan *wsConn
}

func newWSServer() (*wsServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("codex: listen: %w", err)
	}
	s := &wsServer{listener: ln, ready: make(chan *wsConn, 1)}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.server = &http.Server{Handler: mux}
	return s, nil
}

func (s *wsServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *wsServer) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	_ = s.server.Serve(s.listener)
}

func (s *wsServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newWSConn(c)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	select {
	case s.ready <- conn:
	default:
	}
}

// WaitForConn blocks until the CLI connects or ctx is done.
func (s *wsServer) WaitForConn(ctx context.Context) (*wsConn, error) {
	select {
	case c := <-s.ready:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsServer) Close() error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
	return s.server.Close()
}

// wsConn wraps a gorilla websocket.Conn with mutex-guarded writes and a
// read-deadline-resetting pong handler.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	c.SetReadLimit(maxReadBytes)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{conn: c}
}

func (w *wsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) StartPing(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *wsConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}
