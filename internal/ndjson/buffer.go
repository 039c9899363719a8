// Package ndjson assembles newline-delimited JSON lines out of arbitrarily
// chunked byte stream reads, shared by every adapter transport that speaks
// NDJSON (Claude SDK-URL, Codex); the ACP adapter frames its stdio through
// acp-go-sdk instead.
package ndjson

import "bytes"

// LineBuffer accumulates bytes across Feed calls and yields complete lines
// (without their trailing newline) as they become available. It has no
// maximum size; callers that need a cap enforce it themselves before
// calling Feed.
type LineBuffer struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and returns every complete line
// found so far, leaving any trailing partial line buffered for the next
// call. A lone '\r' immediately preceding '\n' is stripped (CRLF tolerance).
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			break
		}
		line := b.buf[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		b.buf = b.buf[idx+1:]
	}
	return lines
}

// Pending returns any bytes buffered but not yet terminated by a newline.
func (b *LineBuffer) Pending() []byte {
	return b.buf
}

// Reset discards any buffered partial line.
func (b *LineBuffer) Reset() {
	b.buf = nil
}

// IsSingleJSONObject reports whether chunk looks like exactly one complete
// JSON object/array with no embedded newline, letting a transport fast-path
// a WebSocket frame that already arrived as one whole message instead of
// routing it through the line buffer. This preserves compatibility with
// CLIs that send one JSON value per frame as well as ones that chunk NDJSON
// across frames (spec open question, §9).
func IsSingleJSONObject(chunk []byte) bool {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 {
		return false
	}
	if bytes.ContainsRune(trimmed, '\n') {
		return false
	}
	first := trimmed[0]
	return first == '{' || first == '['
}
