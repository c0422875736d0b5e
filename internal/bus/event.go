package bus

import (
	"strconv"
	"strings"
	"time"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind         string
	Conversation int64
	Timestamp    time.Time
	Payload      any
}

// Global event kinds.
const (
	KindDialogsChanged = "dialogs.changed"
	// KindAuthRejected is raised by the supervisor on every auth close.
	KindAuthRejected = "auth.rejected"
	// KindUnauthorized is raised once per credential by the chat service.
	KindUnauthorized = "auth.unauthorized"
)

// Per-conversation topics. No topic is a prefix of another.
const (
	TopicMessage = "message"
	TopicHistory = "history"
	TopicStatus  = "status"
	TopicTyping  = "typing"
	TopicAck     = "ack"
	TopicRoom    = "room"
)

// ConversationNamespace returns the namespace covering every event of one conversation.
func ConversationNamespace(convID int64) string {
	return "conv." + strconv.FormatInt(convID, 10) + "."
}

// ConversationKind returns the event kind for a topic within a conversation.
func ConversationKind(convID int64, topic string) string {
	return ConversationNamespace(convID) + topic
}

// Topic returns the last dot-separated segment of an event kind.
func Topic(kind string) string {
	if i := strings.LastIndexByte(kind, '.'); i >= 0 {
		return kind[i+1:]
	}
	return kind
}
