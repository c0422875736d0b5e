package chat

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/dialog"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/realtime"
	"github.com/matheus3301/chatsync/internal/status"
	csync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/timeline"
)

// Callbacks run synchronously on the publishing goroutine, in publish order.
// They must not block and must not call back into the Service. Each On*
// method returns the unsubscribe func.

func handle[T any](b *bus.Bus, kind string, fn func(T)) func() {
	return b.Handle(kind, func(evt bus.Event) {
		if v, ok := evt.Payload.(T); ok {
			fn(v)
		}
	})
}

// OnMessage subscribes to messages created or changed in a conversation.
func (s *Service) OnMessage(convID int64, fn func(timeline.Message)) func() {
	return handle(s.bus, bus.ConversationKind(convID, bus.TopicMessage), fn)
}

// OnHistory subscribes to history merges of a conversation.
func (s *Service) OnHistory(convID int64, fn func(csync.History)) func() {
	return handle(s.bus, bus.ConversationKind(convID, bus.TopicHistory), fn)
}

// OnStatus subscribes to connection status changes of a conversation.
func (s *Service) OnStatus(convID int64, fn func(status.Change)) func() {
	return handle(s.bus, bus.ConversationKind(convID, bus.TopicStatus), fn)
}

// OnTyping subscribes to the typing set of a conversation.
func (s *Service) OnTyping(convID int64, fn func(presence.Set)) func() {
	return handle(s.bus, bus.ConversationKind(convID, bus.TopicTyping), fn)
}

// OnAck subscribes to server acknowledgements of sent messages.
func (s *Service) OnAck(convID int64, fn func(csync.Ack)) func() {
	return handle(s.bus, bus.ConversationKind(convID, bus.TopicAck), fn)
}

// OnRoom subscribes to room notices: joins, leaves, room info and errors.
func (s *Service) OnRoom(convID int64, fn func(csync.RoomEvent)) func() {
	return handle(s.bus, bus.ConversationKind(convID, bus.TopicRoom), fn)
}

// OnDialogsChanged subscribes to the ordered dialog summaries.
func (s *Service) OnDialogsChanged(fn func([]dialog.Summary)) func() {
	return handle(s.bus, bus.KindDialogsChanged, fn)
}

// OnUnauthorized subscribes to credential rejection. It fires once per
// credential.
func (s *Service) OnUnauthorized(fn func(realtime.Unauthorized)) func() {
	return handle(s.bus, bus.KindUnauthorized, fn)
}
