package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIDGeneratorStartsAtOne(t *testing.T) {
	var gen IDGenerator
	if got := gen.Next(); got != 1 {
		t.Fatalf("expected first id 1, got %d", got)
	}
	if got := gen.Next(); got != 2 {
		t.Fatalf("expected second id 2, got %d", got)
	}
}

func TestRequestEncodeDecode(t *testing.T) {
	var gen IDGenerator
	req, err := NewRequest(&gen, "session/prompt", map[string]string{"sessionId": "s1"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	line, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Fatalf("expected trailing newline")
	}

	env, err := Decode(line[:len(line)-1])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !env.IsRequest() {
		t.Fatalf("expected request envelope")
	}
}

func TestResponseDistinguishedFromRequest(t *testing.T) {
	resp := NewErrorResponse(7, CodeMethodNotFound, "Method not supported")
	line, err := Encode(resp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.IsRequest() {
		t.Fatalf("expected response envelope, not a request")
	}
	var decoded Response
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected -32601 error code, got %+v", decoded.Error)
	}
}
