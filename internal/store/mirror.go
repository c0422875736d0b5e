package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/dialog"
	csync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/timeline"
)

// Mirror copies timeline and dialog events into the database. Writes happen
// on the publishing goroutine, so the mirror is current once a publish
// returns.
type Mirror struct {
	db     *DB
	logger *zap.Logger

	mu     sync.Mutex
	unsubs []func()
}

// NewMirror creates a mirror writing to db.
func NewMirror(db *DB, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{db: db, logger: logger.Named("mirror")}
}

// Start subscribes the mirror to b.
func (m *Mirror) Start(b *bus.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs,
		b.Handle("conv.", m.onConversation),
		b.Handle(bus.KindDialogsChanged, m.onDialogs),
	)
}

// Stop unsubscribes the mirror.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func (m *Mirror) onConversation(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case timeline.Message:
		m.upsert(evt.Conversation, p)
	case csync.History:
		for _, msg := range p.Messages {
			m.upsert(evt.Conversation, msg)
		}
	}
}

func (m *Mirror) upsert(convID int64, msg timeline.Message) {
	row := FromTimeline(convID, msg)
	if err := m.db.UpsertMessage(&row); err != nil {
		m.logger.Warn("mirror message failed", zap.Int64("conversation", convID), zap.Error(err))
	}
}

func (m *Mirror) onDialogs(evt bus.Event) {
	list, ok := evt.Payload.([]dialog.Summary)
	if !ok {
		return
	}
	rows := make([]Dialog, 0, len(list))
	for _, s := range list {
		rows = append(rows, Dialog{
			ConversationID: s.ID,
			Name:           s.Name,
			LastMessageID:  s.LastMessageID,
			LastMessage:    s.LastMessage,
			LastTime:       s.LastTime,
			Unread:         s.Unread,
		})
	}
	if err := m.db.ReplaceDialogs(rows); err != nil {
		m.logger.Warn("mirror dialogs failed", zap.Error(err))
	}
}

// FromTimeline converts a timeline message to a mirror row.
func FromTimeline(convID int64, msg timeline.Message) Message {
	return Message{
		ConversationID: convID,
		MsgID:          msg.ID,
		SenderID:       msg.SenderID,
		Body:           msg.Text,
		Timestamp:      msg.Timestamp,
		EditedAt:       msg.EditedAt,
		Deleted:        msg.Deleted,
		Readers:        len(msg.ReadBy),
	}
}
