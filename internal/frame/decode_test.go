package frame

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSplitConcatenated(t *testing.T) {
	got := Split([]byte(`{"type":"a"}{"type":"b"}`))
	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2", len(got))
	}
	if string(got[0]) != `{"type":"a"}` || string(got[1]) != `{"type":"b"}` {
		t.Errorf("got %q, %q", got[0], got[1])
	}
}

func TestSplitBraceInsideString(t *testing.T) {
	payload := `{"type":"message","message":"a } tricky { \"quoted}\" value"}{"type":"b"}`
	got := Split([]byte(payload))
	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2: %q", len(got), got)
	}
	var f Frame
	if err := json.Unmarshal(got[0], &f); err != nil {
		t.Fatalf("first span does not parse: %v", err)
	}
	if f.Text() != `a } tricky { "quoted}" value` {
		t.Errorf("text = %q", f.Text())
	}
}

func TestSplitNestedAndNoise(t *testing.T) {
	payload := "  \n{\"type\":\"message\",\"message\":{\"id\":1}}\n garbage {\"type\":\"x\"}"
	got := Split([]byte(payload))
	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2", len(got))
	}
	if string(got[0]) != `{"type":"message","message":{"id":1}}` {
		t.Errorf("got[0] = %q", got[0])
	}
}

func TestSplitUnbalancedTail(t *testing.T) {
	got := Split([]byte(`{"type":"a"}{"type":"b"`))
	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2", len(got))
	}
	if string(got[1]) != `{"type":"b"` {
		t.Errorf("tail = %q", got[1])
	}
}

func TestDecodeSkipsMalformedAndHeartbeats(t *testing.T) {
	payload := `{"type":"ping"}{"type":"message","message":{"id":3,"chat_id":42,"sender_id":7,"message":"hi","timestamp":30}}{"type":}{"type":"typing","user_id":9,"message":"true"}`
	frames, errs := Decode([]byte(payload))
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	var me *MalformedError
	if !errors.As(errs[0], &me) || me.Index != 2 {
		t.Errorf("error = %v, want MalformedError at index 2", errs[0])
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != TypeMessage || frames[1].Type != TypeTyping {
		t.Errorf("types = %s, %s", frames[0].Type, frames[1].Type)
	}
	wm, err := frames[0].WireMessage()
	if err != nil {
		t.Fatalf("WireMessage: %v", err)
	}
	if wm.ID != 3 || wm.ChatID != 42 || wm.Text != "hi" || wm.Timestamp != 30 {
		t.Errorf("wire message = %+v", wm)
	}
	if !frames[1].IsTyping() {
		t.Error("typing frame should report typing")
	}
}

func TestDecodeHistory(t *testing.T) {
	payload := `{"type":"history","messages":[{"id":1,"message":"a","timestamp":10},{"id":2,"message":"b","timestamp":"2024-01-02T03:04:05.000Z","updated_at":"1704164646000"}],"meta":{"count":2,"has_more":true}}`
	frames, errs := Decode([]byte(payload))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 || len(frames[0].Messages) != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if got := int64(frames[0].Messages[1].Timestamp); got != want {
		t.Errorf("timestamp = %d, want %d", got, want)
	}
	if frames[0].Messages[1].UpdatedAt != 1704164646000 {
		t.Errorf("updated_at = %d", frames[0].Messages[1].UpdatedAt)
	}
	if frames[0].Meta == nil || !frames[0].Meta.HasMore {
		t.Error("meta.has_more not decoded")
	}
}

func TestTypingBooleanLiteral(t *testing.T) {
	frames, _ := Decode([]byte(`{"type":"typing","user_id":1,"message":true}{"type":"typing","user_id":1,"message":"false"}`))
	if len(frames) != 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	if !frames[0].IsTyping() {
		t.Error("literal true should be typing")
	}
	if frames[1].IsTyping() {
		t.Error(`"false" should not be typing`)
	}
}

func TestWireMessageRejectsText(t *testing.T) {
	f := Frame{Type: TypeError, Message: json.RawMessage(`"boom"`)}
	if _, err := f.WireMessage(); err == nil {
		t.Error("expected error for string message")
	}
	if f.Text() != "boom" {
		t.Errorf("Text() = %q", f.Text())
	}
}

func TestOutboundFrames(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	tests := []struct {
		name string
		out  Outbound
		want string
	}{
		{"message", MessageFrame("  hello ", now), `{"type":"message","message":"hello","timestamp":1700000000123}`},
		{"typing on", TypingFrame(true), `{"type":"typing","message":"true"}`},
		{"typing off", TypingFrame(false), `{"type":"typing","message":"false"}`},
		{"read receipt", ReadReceiptFrame(5, now), `{"type":"read_receipt","message_id":5,"timestamp":1700000000123}`},
		{"edit", EditFrame(5, "new", now), `{"type":"message_edit","message":"new","message_id":5,"timestamp":1700000000123}`},
		{"delete", DeleteFrame(5, now), `{"type":"message_delete","message_id":5,"timestamp":1700000000123}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.out.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("got %s, want %s", b, tt.want)
			}
		})
	}
}
