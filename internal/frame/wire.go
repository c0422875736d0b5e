// Package frame decodes and encodes the realtime chat wire protocol.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Type identifies a protocol frame.
type Type string

const (
	TypeMessage       Type = "message"
	TypeHistory       Type = "history"
	TypeMessageSent   Type = "message_sent"
	TypeTyping        Type = "typing"
	TypeError         Type = "error"
	TypeRoomInfo      Type = "room_info"
	TypeUserJoined    Type = "user_joined"
	TypeUserLeft      Type = "user_left"
	TypeReadReceipt   Type = "read_receipt"
	TypeMessageEdit   Type = "message_edit"
	TypeMessageDelete Type = "message_delete"
)

var heartbeats = map[Type]bool{
	"ping":      true,
	"pong":      true,
	"heartbeat": true,
}

// Millis is an epoch-milliseconds instant. It decodes from a JSON number,
// a numeric string or an RFC 3339 string.
type Millis int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = Millis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		*m = Millis(t.UnixMilli())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", b, err)
	}
	*m = Millis(int64(f))
	return nil
}

// Sender is the optional sender summary embedded in a message.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// WireMessage is a chat message as carried by message and history frames.
type WireMessage struct {
	ID        int64   `json:"id"`
	ChatID    int64   `json:"chat_id"`
	SenderID  int64   `json:"sender_id"`
	Text      string  `json:"message"`
	Kind      string  `json:"type,omitempty"`
	Timestamp Millis  `json:"timestamp"`
	UpdatedAt Millis  `json:"updated_at,omitempty"`
	IsDeleted bool    `json:"is_deleted,omitempty"`
	ReadBy    []int64 `json:"read_by,omitempty"`
	Sender    *Sender `json:"sender,omitempty"`
}

// Meta carries history pagination hints.
type Meta struct {
	Count   int  `json:"count"`
	HasMore bool `json:"has_more"`
}

// Frame is one decoded inbound protocol object.
type Frame struct {
	Type      Type            `json:"type"`
	Message   json.RawMessage `json:"message,omitempty"`
	Messages  []WireMessage   `json:"messages,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	Timestamp Millis          `json:"timestamp,omitempty"`
	UserID    int64           `json:"user_id,omitempty"`
	Username  string          `json:"username,omitempty"`
	ChatID    int64           `json:"chat_id,omitempty"`
	Meta      *Meta           `json:"meta,omitempty"`
}

// IsHeartbeat reports whether the frame is transport keepalive traffic.
func (f Frame) IsHeartbeat() bool {
	return heartbeats[f.Type]
}

// WireMessage decodes the message field of a message frame.
func (f Frame) WireMessage() (WireMessage, error) {
	var wm WireMessage
	if len(f.Message) == 0 || f.Message[0] != '{' {
		return wm, fmt.Errorf("%s frame: message is not an object", f.Type)
	}
	if err := json.Unmarshal(f.Message, &wm); err != nil {
		return wm, fmt.Errorf("%s frame: %w", f.Type, err)
	}
	return wm, nil
}

// Text returns the message field as text. String values are unquoted,
// anything else is returned as raw JSON.
func (f Frame) Text() string {
	if len(f.Message) == 0 {
		return ""
	}
	if f.Message[0] == '"' {
		var s string
		if err := json.Unmarshal(f.Message, &s); err == nil {
			return s
		}
	}
	return string(f.Message)
}

// IsTyping interprets a typing frame's message field ("true", true).
func (f Frame) IsTyping() bool {
	return f.Text() == "true"
}
