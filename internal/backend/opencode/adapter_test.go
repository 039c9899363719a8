package opencode

import (
	"testing"

	opencode "github.com/sst/opencode-sdk-go"

	"github.com/beamcode/beamcode/internal/backend"
)

func TestMapReply(t *testing.T) {
	cases := []struct {
		reply string
		want  opencode.SessionRespondToPermissionParamsResponse
	}{
		{"once", opencode.SessionRespondToPermissionParamsResponseOnce},
		{"always", opencode.SessionRespondToPermissionParamsResponseAlways},
		{"never", opencode.SessionRespondToPermissionParamsResponseReject},
		{"", opencode.SessionRespondToPermissionParamsResponseOnce},
	}
	for _, c := range cases {
		if got := mapReply(c.reply); got != c.want {
			t.Errorf("mapReply(%q) = %q, want %q", c.reply, got, c.want)
		}
	}
}

func TestSendRawUnsupported(t *testing.T) {
	s := &Session{sessionID: "sess-1"}
	err := s.SendRaw("anything")
	if err == nil {
		t.Fatal("expected BackendCapabilityError")
	}
	var capErr *backend.BackendCapabilityError
	if !asCapabilityError(err, &capErr) {
		t.Fatalf("expected *backend.BackendCapabilityError, got %T", err)
	}
	if capErr.Adapter != "opencode" || capErr.Op != "SendRaw" {
		t.Fatalf("unexpected capability error: %+v", capErr)
	}
}

func asCapabilityError(err error, target **backend.BackendCapabilityError) bool {
	if e, ok := err.(*backend.BackendCapabilityError); ok {
		*target = e
		return true
	}
	return false
}
