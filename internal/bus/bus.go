package bus

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
//
// Channel subscribers receive events asynchronously and lose events when
// their buffer is full. Handlers run synchronously inside Publish, in
// registration order, and never miss an event.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	handlers map[int]*handler
	next     int
	logger   *zap.Logger
}

type subscription struct {
	namespace string
	ch        chan Event
}

type handler struct {
	id        int
	namespace string
	fn        func(Event)
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[int]*subscription),
		handlers: make(map[int]*handler),
		logger:   zap.NewNop(),
	}
}

// WithLogger sets the logger used to report panicking handlers.
func (b *Bus) WithLogger(logger *zap.Logger) *Bus {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Publish delivers an event to every subscriber and handler whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
	var matched []*handler
	for _, h := range b.handlers {
		if strings.HasPrefix(evt.Kind, h.namespace) {
			matched = append(matched, h)
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(matched, func(x, y *handler) int { return x.id - y.id })
	for _, h := range matched {
		b.call(h, evt)
	}
}

func (b *Bus) call(h *handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", zap.String("kind", evt.Kind), zap.Any("panic", r))
		}
	}()
	h.fn(evt)
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Handle registers fn to be called synchronously for every event matching
// the namespace prefix. Returns an unsubscribe function; calling it more
// than once is harmless.
func (b *Bus) Handle(namespace string, fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = &handler{id: id, namespace: namespace, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}
