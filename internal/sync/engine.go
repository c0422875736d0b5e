package sync

import (
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/dialog"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/timeline"
)

// History is the payload of history events: the messages a merge applied.
type History struct {
	Conversation int64
	Messages     []timeline.Message
	HasMore      bool
}

// Ack is the payload of ack events, sent when the server confirms a message.
type Ack struct {
	Conversation int64
	MessageID    int64
	Timestamp    int64
}

// RoomEvent is the payload of room events: room_info, user_joined,
// user_left and error frames.
type RoomEvent struct {
	Conversation int64
	Type         frame.Type
	UserID       int64
	Username     string
	Text         string
}

// Engine applies inbound data to the timeline, presence and dialog state and
// publishes the resulting events. Applying and publishing are serialized, so
// subscribers see notifications in application order. Bus handlers must not
// call back into the Engine.
type Engine struct {
	timeline *timeline.Store
	presence *presence.Tracker
	dialogs  *dialog.Index
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu gosync.Mutex
}

// NewEngine creates a new sync engine.
func NewEngine(tl *timeline.Store, pr *presence.Tracker, dx *dialog.Index, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		timeline: tl,
		presence: pr,
		dialogs:  dx,
		bus:      b,
		logger:   logger.Named("sync"),
		metrics:  m,
	}
}

// HandleFrame maps one decoded frame of a conversation onto the stores.
func (e *Engine) HandleFrame(convID int64, f frame.Frame) {
	switch f.Type {
	case frame.TypeMessage, frame.TypeMessageEdit:
		wm, err := f.WireMessage()
		if err != nil {
			e.logger.Warn("dropping message frame", zap.Int64("conversation", convID), zap.Error(err))
			return
		}
		if wm.ID == 0 {
			wm.ID = f.MessageID
		}
		if _, err := e.IngestMessage(convID, ToMessage(wm)); err != nil {
			e.logger.Warn("dropping message", zap.Int64("conversation", convID), zap.Error(err))
		}

	case frame.TypeHistory:
		msgs := make([]timeline.Message, 0, len(f.Messages))
		for _, wm := range f.Messages {
			msgs = append(msgs, ToMessage(wm))
		}
		hasMore := f.Meta != nil && f.Meta.HasMore
		e.IngestHistory(convID, msgs, hasMore)

	case frame.TypeMessageDelete:
		e.apply(convID, f.MessageID, func(m *timeline.Message) { m.Deleted = true })

	case frame.TypeReadReceipt:
		if f.UserID != 0 {
			e.apply(convID, f.MessageID, func(m *timeline.Message) { m.ReadBy = append(m.ReadBy, f.UserID) })
		}

	case frame.TypeMessageSent:
		e.publish(convID, bus.TopicAck, Ack{Conversation: convID, MessageID: f.MessageID, Timestamp: int64(f.Timestamp)})

	case frame.TypeTyping:
		e.presence.Typing(convID, f.UserID, f.Username, f.IsTyping())

	case frame.TypeUserLeft, frame.TypeUserJoined, frame.TypeRoomInfo, frame.TypeError:
		if f.Type == frame.TypeUserLeft && f.UserID != 0 {
			e.presence.Typing(convID, f.UserID, f.Username, false)
		}
		if f.Type == frame.TypeError {
			e.logger.Warn("server error frame", zap.Int64("conversation", convID), zap.String("message", f.Text()))
		}
		e.publish(convID, bus.TopicRoom, RoomEvent{
			Conversation: convID,
			Type:         f.Type,
			UserID:       f.UserID,
			Username:     f.Username,
			Text:         f.Text(),
		})

	default:
		e.logger.Debug("ignoring frame", zap.Int64("conversation", convID), zap.String("type", string(f.Type)))
	}
}

// IngestMessage upserts one message. It reports whether the timeline
// changed; duplicates publish nothing.
func (e *Engine) IngestMessage(convID int64, m timeline.Message) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, changed, err := e.timeline.Upsert(convID, m)
	if err != nil {
		return false, fmt.Errorf("upsert message: %w", err)
	}
	if !changed {
		e.metrics.DuplicateDropped(1)
		return false, nil
	}
	e.metrics.UpsertApplied(1)
	e.publish(convID, bus.TopicMessage, stored)
	e.dialogs.Ensure(convID)
	e.dialogs.Recompute(e.timeline)
	return true, nil
}

// IngestHistory merges a history page into the timeline without replacing
// it and returns the messages that changed. One history event carries them.
func (e *Engine) IngestHistory(convID int64, msgs []timeline.Message, hasMore bool) []timeline.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := e.timeline.MergeHistory(convID, msgs)
	e.metrics.UpsertApplied(len(applied))
	e.metrics.DuplicateDropped(len(msgs) - len(applied))
	e.logger.Debug("history merged",
		zap.Int64("conversation", convID),
		zap.Int("received", len(msgs)),
		zap.Int("applied", len(applied)),
	)
	e.dialogs.Ensure(convID)
	if len(applied) == 0 {
		return nil
	}
	e.publish(convID, bus.TopicHistory, History{Conversation: convID, Messages: applied, HasMore: hasMore})
	e.dialogs.Recompute(e.timeline)
	return applied
}

// Mutate applies fn to a copy of a stored message and upserts the result.
// It reports whether the message exists.
func (e *Engine) Mutate(convID, msgID int64, fn func(*timeline.Message)) bool {
	return e.apply(convID, msgID, fn)
}

func (e *Engine) apply(convID, msgID int64, fn func(*timeline.Message)) bool {
	m, ok := e.timeline.Get(convID, msgID)
	if !ok {
		e.logger.Debug("update for unknown message", zap.Int64("conversation", convID), zap.Int64("message", msgID))
		return false
	}
	m.ReadBy = append([]int64(nil), m.ReadBy...)
	fn(&m)
	if _, err := e.IngestMessage(convID, m); err != nil {
		e.logger.Warn("update failed", zap.Int64("conversation", convID), zap.Error(err))
	}
	return true
}

// Refresh recomputes and republishes the dialog summaries.
func (e *Engine) Refresh() []dialog.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dialogs.Recompute(e.timeline)
}

func (e *Engine) publish(convID int64, topic string, payload any) {
	e.bus.Publish(bus.Event{
		Kind:         bus.ConversationKind(convID, topic),
		Conversation: convID,
		Timestamp:    time.Now(),
		Payload:      payload,
	})
}

// ToMessage converts a wire message. updated_at marks an edit only when it
// is strictly after the creation timestamp.
func ToMessage(wm frame.WireMessage) timeline.Message {
	m := timeline.Message{
		ID:             wm.ID,
		ConversationID: wm.ChatID,
		SenderID:       wm.SenderID,
		Text:           wm.Text,
		Timestamp:      int64(wm.Timestamp),
		Deleted:        wm.IsDeleted,
		ReadBy:         wm.ReadBy,
	}
	if m.SenderID == 0 && wm.Sender != nil {
		m.SenderID = wm.Sender.ID
	}
	if wm.UpdatedAt > wm.Timestamp {
		m.EditedAt = int64(wm.UpdatedAt)
	}
	return m
}
