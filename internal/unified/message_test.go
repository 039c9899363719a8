package unified

import (
	"encoding/json"
	"testing"
)

func TestContentBlockRoundTrip(t *testing.T) {
	cases := []ContentBlock{
		Text("hello"),
		{ToolUse: &ToolUseBlock{ID: "t1", Name: "Bash", Input: json.RawMessage(`{"command":"ls"}`)}},
		{ToolResult: &ToolResultBlock{ToolUseID: "t1", Content: "ok"}},
		{Thinking: &ThinkingBlock{Thinking: "pondering"}},
		{Code: &CodeBlock{Language: "go", Code: "package main"}},
		{Image: &ImageBlock{Source: ImageSource{Type: "base64", MediaType: "image/png", Data: "aGk="}}},
		{Refusal: &RefusalBlock{Refusal: "cannot help with that"}},
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got ContentBlock
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		gotData, _ := json.Marshal(got)
		wantData, _ := json.Marshal(want)
		if string(gotData) != string(wantData) {
			t.Errorf("round trip mismatch: got %s want %s", gotData, wantData)
		}
	}
}

func TestMetaTypedAccessor(t *testing.T) {
	m := New(TypePermissionRequest, RoleAssistant)
	m.Metadata = map[string]any{"tool_name": "Bash", "count": 3}

	name, ok := Meta[string](m, "tool_name")
	if !ok || name != "Bash" {
		t.Fatalf("expected tool_name=Bash, got %q ok=%v", name, ok)
	}

	if _, ok := Meta[string](m, "count"); ok {
		t.Fatalf("expected type-mismatch miss for count as string")
	}

	if _, ok := Meta[int](m, "missing"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New(TypeUserMessage, RoleUser)
	b := New(TypeUserMessage, RoleUser)
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
}
