// Package dialog derives conversation list summaries from the timelines.
package dialog

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/timeline"
)

// Dialog is a known conversation as listed by the server.
type Dialog struct {
	ID   int64
	Name string
}

// Summary is one conversation list row. LastTime is zero when the
// conversation has no messages.
type Summary struct {
	ID            int64
	Name          string
	LastMessageID int64
	LastMessage   string
	LastTime      int64
	LastDeleted   bool
	Unread        int
}

// Source is the read side of the timeline store.
type Source interface {
	Last(convID int64) (timeline.Message, bool)
	Unread(convID, reader int64) int
	Conversations() []int64
}

// Index tracks known conversations and publishes their summaries.
type Index struct {
	bus *bus.Bus

	mu      sync.Mutex
	names   map[int64]string
	self    int64
	current []Summary
}

// NewIndex creates an empty index publishing on b.
func NewIndex(b *bus.Bus) *Index {
	return &Index{bus: b, names: make(map[int64]string)}
}

// SetSelf sets the reader used for unread counts.
func (x *Index) SetSelf(userID int64) {
	x.mu.Lock()
	x.self = userID
	x.mu.Unlock()
}

// SetDialogs replaces the known conversation list. Conversations that only
// exist in the timeline store stay listed.
func (x *Index) SetDialogs(dialogs []Dialog) {
	x.mu.Lock()
	x.names = make(map[int64]string, len(dialogs))
	for _, d := range dialogs {
		if d.ID > 0 {
			x.names[d.ID] = d.Name
		}
	}
	x.mu.Unlock()
}

// Ensure registers a conversation without changing its name.
func (x *Index) Ensure(convID int64) {
	x.mu.Lock()
	if _, ok := x.names[convID]; !ok {
		x.names[convID] = ""
	}
	x.mu.Unlock()
}

// Recompute derives every summary from src, publishes the ordered list and
// returns it.
func (x *Index) Recompute(src Source) []Summary {
	x.mu.Lock()
	ids := make(map[int64]struct{}, len(x.names))
	for id := range x.names {
		ids[id] = struct{}{}
	}
	for _, id := range src.Conversations() {
		ids[id] = struct{}{}
	}

	list := make([]Summary, 0, len(ids))
	for id := range ids {
		s := Summary{ID: id, Name: x.names[id]}
		if s.Name == "" {
			s.Name = "Chat " + strconv.FormatInt(id, 10)
		}
		if m, ok := src.Last(id); ok {
			s.LastMessageID = m.ID
			s.LastMessage = m.Text
			s.LastTime = m.Timestamp
			s.LastDeleted = m.Deleted
		}
		if x.self != 0 {
			s.Unread = src.Unread(id, x.self)
		}
		list = append(list, s)
	}
	Sort(list)
	x.current = list
	x.mu.Unlock()

	if x.bus != nil {
		x.bus.Publish(bus.Event{
			Kind:      bus.KindDialogsChanged,
			Timestamp: time.Now(),
			Payload:   slices.Clone(list),
		})
	}
	return list
}

// Sort orders summaries by last time descending. Conversations without
// messages go last; ties break by id.
func Sort(list []Summary) {
	slices.SortFunc(list, func(a, b Summary) int {
		aEmpty, bEmpty := a.LastMessageID == 0, b.LastMessageID == 0
		switch {
		case aEmpty != bEmpty:
			if aEmpty {
				return 1
			}
			return -1
		case a.LastTime != b.LastTime:
			if a.LastTime > b.LastTime {
				return -1
			}
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// List returns the summaries from the last Recompute.
func (x *Index) List() []Summary {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.current)
}

// Reset forgets every conversation.
func (x *Index) Reset() {
	x.mu.Lock()
	x.names = make(map[int64]string)
	x.current = nil
	x.self = 0
	x.mu.Unlock()
}
