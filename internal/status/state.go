package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the connection state of one conversation.
type State string

const (
	Disconnected    State = "disconnected"
	Connecting      State = "connecting"
	Connected       State = "connected"
	ReconnectFailed State = "reconnect_failed"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:    {Connecting, ReconnectFailed},
	Connecting:      {Connected, Disconnected},
	Connected:       {Disconnected},
	ReconnectFailed: {Connecting, Disconnected},
}

// Detail annotates a transition.
type Detail struct {
	// Attempt is the reconnect attempt a pending retry belongs to (1-based).
	Attempt int
	// RetryIn is the delay before the next attempt; zero when none is scheduled.
	RetryIn time.Duration
	// Reason describes why the connection closed, if it did.
	Reason string
	// Intentional is set when the caller asked for the close.
	Intentional bool
	// Unauthorized is set when the close was classified as an auth failure.
	Unauthorized bool
}

// Change is the payload for status events.
type Change struct {
	Conversation int64
	From         State
	To           State
	Detail       Detail
}

// Machine tracks and enforces the connection state of one conversation.
type Machine struct {
	mu           sync.RWMutex
	conversation int64
	current      State
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(convID int64) *Machine {
	return &Machine{conversation: convID, current: Disconnected}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) (Change, error) {
	return m.TransitionWith(to, Detail{})
}

// TransitionWith is Transition with an annotated change.
func (m *Machine) TransitionWith(to State, d Detail) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return Change{}, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	return Change{Conversation: m.conversation, From: from, To: to, Detail: d}, nil
}

// Event wraps a change as a bus event for its conversation.
func (c Change) Event() bus.Event {
	return bus.Event{
		Kind:         bus.ConversationKind(c.Conversation, bus.TopicStatus),
		Conversation: c.Conversation,
		Timestamp:    time.Now(),
		Payload:      c,
	}
}
