package frame

import (
	"encoding/json"
	"strings"
	"time"
)

// Outbound is a client-to-server frame.
type Outbound struct {
	Type      Type   `json:"type"`
	Message   string `json:"message,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Encode marshals the frame for the wire.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// MessageFrame builds a send-message frame. Text is trimmed.
func MessageFrame(text string, now time.Time) Outbound {
	return Outbound{Type: TypeMessage, Message: strings.TrimSpace(text), Timestamp: now.UnixMilli()}
}

// TypingFrame builds a typing indicator frame.
func TypingFrame(isTyping bool) Outbound {
	msg := "false"
	if isTyping {
		msg = "true"
	}
	return Outbound{Type: TypeTyping, Message: msg}
}

// ReadReceiptFrame builds a read receipt for one message.
func ReadReceiptFrame(messageID int64, now time.Time) Outbound {
	return Outbound{Type: TypeReadReceipt, MessageID: messageID, Timestamp: now.UnixMilli()}
}

// EditFrame builds a message edit frame. Text is trimmed.
func EditFrame(messageID int64, text string, now time.Time) Outbound {
	return Outbound{Type: TypeMessageEdit, MessageID: messageID, Message: strings.TrimSpace(text), Timestamp: now.UnixMilli()}
}

// DeleteFrame builds a message delete frame.
func DeleteFrame(messageID int64, now time.Time) Outbound {
	return Outbound{Type: TypeMessageDelete, MessageID: messageID, Timestamp: now.UnixMilli()}
}
