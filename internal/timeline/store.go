// Package timeline keeps the ordered, deduplicated message history of every
// conversation.
package timeline

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// DefaultPageSize is used by Page when limit is not positive.
const DefaultPageSize = 20

// ErrInvalidID is returned for messages without a server-assigned id.
var ErrInvalidID = errors.New("timeline: message id must be positive")

// Message is one chat message. Timestamps are epoch milliseconds.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Text           string
	Timestamp      int64
	EditedAt       int64 // zero unless strictly greater than Timestamp
	Deleted        bool
	ReadBy         []int64

	// Pending marks a local edit not yet confirmed by the server. Any server
	// copy of the same message edited after PendingBase replaces it.
	Pending     bool
	PendingBase int64
}

// Edited reports whether the message carries an edit stamp.
func (m Message) Edited() bool { return m.EditedAt > m.Timestamp }

// Validate checks the message identity.
func (m Message) Validate() error {
	if m.ID <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidID, m.ID)
	}
	return nil
}

// Page is one window of a timeline.
type Page struct {
	Messages []Message
	HasMore  bool
	// Cursor is the timestamp of the oldest returned message, zero when empty.
	Cursor int64
}

// Store holds the timelines of all conversations.
type Store struct {
	mu    sync.RWMutex
	convs map[int64][]Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{convs: make(map[int64][]Message)}
}

// Upsert inserts m or overwrites the stored copy when m is newer. It returns
// the stored message and whether the timeline changed. Duplicates change
// nothing.
func (s *Store) Upsert(convID int64, m Message) (Message, bool, error) {
	if err := m.Validate(); err != nil {
		return Message{}, false, err
	}
	m = normalize(convID, m)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, changed := s.upsertLocked(convID, m)
	return stored, changed, nil
}

// MergeHistory applies a page of messages one by one with the Upsert rule
// and returns the ones that changed the timeline, in application order.
// Messages with an invalid id are skipped.
func (s *Store) MergeHistory(convID int64, page []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var applied []Message
	for _, m := range page {
		if m.Validate() != nil {
			continue
		}
		if stored, ok := s.upsertLocked(convID, normalize(convID, m)); ok {
			applied = append(applied, stored)
		}
	}
	return applied
}

func (s *Store) upsertLocked(convID int64, m Message) (Message, bool) {
	list := s.convs[convID]
	for i := range list {
		if list[i].ID != m.ID {
			continue
		}
		merged, ok := merge(list[i], m)
		if !ok {
			return list[i], false
		}
		list[i] = merged
		if !sortedAround(list, i) {
			sortMessages(list)
		}
		return merged, true
	}
	list = append(list, m)
	sortMessages(list)
	s.convs[convID] = list
	return m, true
}

// merge decides whether incoming replaces existing. A tombstone is sticky:
// once deleted, no copy undeletes the message, and a deleted copy older than
// the stored edit only sets the flag.
func merge(existing, incoming Message) (Message, bool) {
	if existing.Pending && !incoming.Pending &&
		incoming.Timestamp == existing.Timestamp && incoming.EditedAt > existing.PendingBase {
		incoming.Deleted = incoming.Deleted || existing.Deleted
		incoming.ReadBy = unionReaders(existing.ReadBy, incoming.ReadBy)
		return incoming, true
	}

	switch {
	case incoming.Timestamp > existing.Timestamp:
	case incoming.Timestamp < existing.Timestamp:
		return tombstone(existing, incoming)
	case incoming.EditedAt > existing.EditedAt:
	case incoming.EditedAt < existing.EditedAt:
		return tombstone(existing, incoming)
	case incoming.Text != existing.Text, incoming.Deleted != existing.Deleted:
	default:
		readers := unionReaders(existing.ReadBy, incoming.ReadBy)
		if len(readers) == len(existing.ReadBy) {
			return existing, false
		}
		existing.ReadBy = readers
		return existing, true
	}
	if existing.Deleted {
		incoming.Deleted = true
	}
	incoming.ReadBy = unionReaders(existing.ReadBy, incoming.ReadBy)
	if same(existing, incoming) {
		return existing, false
	}
	return incoming, true
}

// tombstone applies the delete flag of an older copy without reverting the
// stored text or stamps.
func tombstone(existing, incoming Message) (Message, bool) {
	if !incoming.Deleted || existing.Deleted {
		return existing, false
	}
	existing.Deleted = true
	existing.ReadBy = unionReaders(existing.ReadBy, incoming.ReadBy)
	return existing, true
}

func same(a, b Message) bool {
	return a.Timestamp == b.Timestamp && a.EditedAt == b.EditedAt &&
		a.Text == b.Text && a.Deleted == b.Deleted && a.Pending == b.Pending &&
		a.SenderID == b.SenderID && slices.Equal(a.ReadBy, b.ReadBy)
}

func unionReaders(a, b []int64) []int64 {
	if len(b) == 0 {
		return a
	}
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func normalize(convID int64, m Message) Message {
	m.ConversationID = convID
	if m.EditedAt <= m.Timestamp {
		m.EditedAt = 0
	}
	if len(m.ReadBy) > 0 {
		m.ReadBy = slices.Clone(m.ReadBy)
		slices.Sort(m.ReadBy)
		m.ReadBy = slices.Compact(m.ReadBy)
	}
	return m
}

func less(a, b Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

func sortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool { return less(list[i], list[j]) })
}

func sortedAround(list []Message, i int) bool {
	if i > 0 && less(list[i], list[i-1]) {
		return false
	}
	if i < len(list)-1 && less(list[i+1], list[i]) {
		return false
	}
	return true
}

// Page returns up to limit messages strictly older than before, or the most
// recent limit messages when before is zero or negative.
func (s *Store) Page(convID int64, before int64, limit int) Page {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.convs[convID]
	end := len(list)
	if before > 0 {
		end = sort.Search(len(list), func(i int) bool { return list[i].Timestamp >= before })
	}
	start := max(end-limit, 0)
	p := Page{Messages: slices.Clone(list[start:end]), HasMore: start > 0}
	if len(p.Messages) > 0 {
		p.Cursor = p.Messages[0].Timestamp
	}
	return p
}

// Get returns one message by id.
func (s *Store) Get(convID, id int64) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.convs[convID] {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Last returns the message with the greatest timestamp.
func (s *Store) Last(convID int64) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.convs[convID]
	if len(list) == 0 {
		return Message{}, false
	}
	return list[len(list)-1], true
}

// Len returns the number of messages held for a conversation.
func (s *Store) Len(convID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs[convID])
}

// Conversations returns the ids of every conversation with a timeline, ascending.
func (s *Store) Conversations() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clear drops one conversation's timeline.
func (s *Store) Clear(convID int64) {
	s.mu.Lock()
	delete(s.convs, convID)
	s.mu.Unlock()
}

// Reset drops every timeline.
func (s *Store) Reset() {
	s.mu.Lock()
	s.convs = make(map[int64][]Message)
	s.mu.Unlock()
}

// Unread counts live messages from other senders that reader has not read.
func (s *Store) Unread(convID, reader int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.convs[convID] {
		if m.Deleted || m.SenderID == reader {
			continue
		}
		if !slices.Contains(m.ReadBy, reader) {
			n++
		}
	}
	return n
}
