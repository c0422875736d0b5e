package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseID(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestPrintDialogs(t *testing.T) {
	var buf bytes.Buffer
	printDialogs(&buf, map[string]any{"dialogs": []any{
		map[string]any{"id": float64(1), "name": "general", "last_message": "hi\nthere", "unread": float64(2)},
		map[string]any{"id": float64(2), "name": "random"},
	}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", buf.String())
	}
	if !strings.Contains(lines[0], "general") || !strings.Contains(lines[0], "hi there") || !strings.Contains(lines[0], "(2)") {
		t.Errorf("first line = %q", lines[0])
	}

	buf.Reset()
	printDialogs(&buf, map[string]any{})
	if buf.String() != "No dialogs.\n" {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestPrintMessagesMarks(t *testing.T) {
	var buf bytes.Buffer
	printMessages(&buf, map[string]any{
		"has_more": true,
		"messages": []any{
			map[string]any{"id": float64(3), "sender_id": float64(7), "text": "fixed", "edited": true, "read_by": []any{float64(8)}},
		},
	})
	out := buf.String()
	for _, want := range []string{"older messages available", "#3", "(edited)", "[read by 1]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestOneLineTruncates(t *testing.T) {
	long := strings.Repeat("x", 100)
	if got := []rune(oneLine(long)); len(got) != 60 {
		t.Errorf("len = %d, want 60", len(got))
	}
}
