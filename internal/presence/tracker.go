// Package presence tracks which users are typing in each conversation.
package presence

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// DefaultQuiet is how long a typing entry lives without a refresh.
const DefaultQuiet = 3 * time.Second

// User is one typing user.
type User struct {
	ID   int64
	Name string
}

// Set is the payload of typing events: the full typing set of one conversation.
type Set struct {
	Conversation int64
	Users        []User
}

type entry struct {
	name  string
	timer *time.Timer
	token uint64
}

// Tracker holds the typing sets of every conversation.
type Tracker struct {
	bus   *bus.Bus
	quiet time.Duration

	mu    sync.Mutex
	self  int64
	convs map[int64]map[int64]*entry
	next  uint64
}

// NewTracker creates a tracker publishing on b. A non-positive quiet period
// means DefaultQuiet.
func NewTracker(b *bus.Bus, quiet time.Duration) *Tracker {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Tracker{bus: b, quiet: quiet, convs: make(map[int64]map[int64]*entry)}
}

// SetSelf sets the local user, whose own typing events are ignored.
func (t *Tracker) SetSelf(userID int64) {
	t.mu.Lock()
	t.self = userID
	t.mu.Unlock()
}

// Typing applies one typing event. isTyping inserts or refreshes the user's
// entry and rearms its expiry; !isTyping removes it at once.
func (t *Tracker) Typing(convID, userID int64, name string, isTyping bool) {
	t.mu.Lock()
	if userID == 0 || (t.self != 0 && userID == t.self) {
		t.mu.Unlock()
		return
	}
	if name == "" {
		name = "User " + strconv.FormatInt(userID, 10)
	}

	users := t.convs[convID]
	e := users[userID]
	changed := false
	if isTyping {
		if users == nil {
			users = make(map[int64]*entry)
			t.convs[convID] = users
		}
		if e == nil {
			e = &entry{}
			users[userID] = e
			changed = true
		} else {
			e.timer.Stop()
		}
		if e.name != name {
			e.name = name
			changed = true
		}
		t.next++
		e.token = t.next
		token := e.token
		e.timer = time.AfterFunc(t.quiet, func() { t.expire(convID, userID, token) })
	} else if e != nil {
		e.timer.Stop()
		t.removeLocked(convID, userID)
		changed = true
	}

	var set Set
	if changed {
		set = t.snapshotLocked(convID)
	}
	t.mu.Unlock()

	if changed {
		t.publish(set)
	}
}

func (t *Tracker) expire(convID, userID int64, token uint64) {
	t.mu.Lock()
	e := t.convs[convID][userID]
	if e == nil || e.token != token {
		t.mu.Unlock()
		return
	}
	t.removeLocked(convID, userID)
	set := t.snapshotLocked(convID)
	t.mu.Unlock()

	t.publish(set)
}

func (t *Tracker) removeLocked(convID, userID int64) {
	users := t.convs[convID]
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, convID)
	}
}

func (t *Tracker) snapshotLocked(convID int64) Set {
	set := Set{Conversation: convID, Users: make([]User, 0, len(t.convs[convID]))}
	for id, e := range t.convs[convID] {
		set.Users = append(set.Users, User{ID: id, Name: e.name})
	}
	slices.SortFunc(set.Users, func(a, b User) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return set
}

func (t *Tracker) publish(set Set) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{
		Kind:         bus.ConversationKind(set.Conversation, bus.TopicTyping),
		Conversation: set.Conversation,
		Timestamp:    time.Now(),
		Payload:      set,
	})
}

// Users returns the users currently typing in a conversation, by id.
func (t *Tracker) Users(convID int64) []User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(convID).Users
}

// ClearConversation drops a conversation's typing set and cancels its timers.
// An event is published if the set was not already empty.
func (t *Tracker) ClearConversation(convID int64) {
	t.mu.Lock()
	users := t.convs[convID]
	for _, e := range users {
		e.timer.Stop()
	}
	delete(t.convs, convID)
	t.mu.Unlock()

	if len(users) > 0 {
		t.publish(Set{Conversation: convID, Users: []User{}})
	}
}

// Reset drops every typing set and cancels every timer without publishing.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, users := range t.convs {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	t.convs = make(map[int64]map[int64]*entry)
	t.self = 0
}
