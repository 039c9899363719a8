package ndjson

import (
	"reflect"
	"testing"
)

func TestLineBufferAcrossChunks(t *testing.T) {
	var b LineBuffer

	if lines := b.Feed([]byte(`{"a":1}` + "\n" + `{"b":2`)); !reflect.DeepEqual(lines, []string{`{"a":1}`}) {
		t.Fatalf("unexpected first batch: %v", lines)
	}

	if lines := b.Feed([]byte("}\r\n")); !reflect.DeepEqual(lines, []string{`{"b":2}`}) {
		t.Fatalf("unexpected second batch: %v", lines)
	}

	if len(b.Pending()) != 0 {
		t.Fatalf("expected no pending bytes, got %q", b.Pending())
	}
}

func TestLineBufferSkipsBlankLines(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("\n\n{\"x\":1}\n\n"))
	if !reflect.DeepEqual(lines, []string{`{"x":1}`}) {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestIsSingleJSONObject(t *testing.T) {
	cases := map[string]bool{
		`{"a":1}`:            true,
		`[1,2,3]`:            true,
		"{\"a\":1}\n{\"b\":2}": false,
		"":                   false,
		"not json":           false,
	}
	for input, want := range cases {
		if got := IsSingleJSONObject([]byte(input)); got != want {
			t.Errorf("IsSingleJSONObject(%q) = %v, want %v", input, got, want)
		}
	}
}
