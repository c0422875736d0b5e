package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MalformedError describes one segment of a payload that failed to decode.
type MalformedError struct {
	Index int
	Raw   string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed frame %d (%q): %v", e.Index, e.Raw, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Split cuts a payload holding one or more back-to-back JSON objects into
// its balanced top-level {...} spans. Braces inside string literals do not
// count. An unbalanced tail is returned as a final candidate span.
func Split(payload []byte) [][]byte {
	var out [][]byte
	pos := 0
	for pos < len(payload) {
		start := bytes.IndexByte(payload[pos:], '{')
		if start < 0 {
			break
		}
		start += pos
		end := matchBrace(payload, start)
		if end < 0 {
			out = append(out, payload[start:])
			break
		}
		out = append(out, payload[start:end+1])
		pos = end + 1
	}
	return out
}

// matchBrace returns the index of the brace closing the object opened at start, or -1.
func matchBrace(p []byte, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(p); i++ {
		c := p[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Decode splits a payload and decodes every object in order. Heartbeats are
// dropped. Segments that fail to decode are reported and skipped without
// affecting the others.
func Decode(payload []byte) ([]Frame, []error) {
	var (
		frames []Frame
		errs   []error
	)
	for i, obj := range Split(payload) {
		var f Frame
		if err := json.Unmarshal(obj, &f); err != nil {
			errs = append(errs, &MalformedError{Index: i, Raw: clip(obj, 64), Err: err})
			continue
		}
		if f.IsHeartbeat() {
			continue
		}
		frames = append(frames, f)
	}
	return frames, errs
}

func clip(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
