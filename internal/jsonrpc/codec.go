// Package jsonrpc implements a minimal JSON-RPC 2.0 framing codec over a
// newline-delimited byte stream, with per-session auto-incrementing request
// ids. It exists as its own package (rather than folded into the ACP
// adapter, which uses github.com/coder/acp-go-sdk's own transport) so the
// Codex adapter — reinterpreted here as a JSON-RPC-2.0-over-local-WebSocket
// transport per spec §4.1 adapter 6's "messages normalize analogously" — has
// a shared, tested codec to frame against, grounded on the envelope shapes
// in internal/provider/common/claudews/protocol.go's ControlRequest/
// ControlResponse pair.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

const Version = "2.0"

// Request is a JSON-RPC request or notification (Id nil ⇒ notification).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response, either Result or Error populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// IDGenerator hands out sequential ids starting at 1, matching spec §6's
// "Numeric ids auto-increment per session starting at 1."
type IDGenerator struct {
	counter int64
}

func (g *IDGenerator) Next() int64 {
	return atomic.AddInt64(&g.counter, 1)
}

// NewRequest builds a request with a fresh id from gen and the given method
// and JSON-marshalable params.
func NewRequest(gen *IDGenerator, method string, params any) (Request, error) {
	id := gen.Next()
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return Request{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a request with no id.
func NewNotification(method string, params any) (Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return Request{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResultResponse builds a success response.
func NewResultResponse(id int64, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("jsonrpc: marshal result: %w", err)
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response, e.g. a CodeMethodNotFound
// (-32601) reply to a request for a method the receiver does not serve.
func NewErrorResponse(id int64, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// Envelope is the minimal shape used to sniff whether a decoded line is a
// request/notification (has "method") or a response (has "id" and
// "result"/"error" but no "method").
type Envelope struct {
	Method *string         `json:"method"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// IsRequest reports whether the envelope looks like a request or
// notification rather than a response.
func (e Envelope) IsRequest() bool {
	return e.Method != nil
}

// Decode parses one line into an Envelope for dispatch.
func Decode(line []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, fmt.Errorf("jsonrpc: decode: %w", err)
	}
	return e, nil
}

// Encode serializes v followed by a trailing newline, the NDJSON framing
// spec §6 requires.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
