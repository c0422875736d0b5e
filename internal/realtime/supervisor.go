// Package realtime supervises one realtime connection per conversation and
// reconnects it with backoff when the link drops.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
)

var (
	// ErrNotConnected is returned by Send when the conversation has no open connection.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrNoToken is returned by Connect without a credential.
	ErrNoToken = errors.New("realtime: empty token")
)

// FrameHandler receives decoded inbound frames.
type FrameHandler interface {
	HandleFrame(convID int64, f frame.Frame)
}

// HandlerFunc adapts a function to FrameHandler.
type HandlerFunc func(convID int64, f frame.Frame)

// HandleFrame implements FrameHandler.
func (fn HandlerFunc) HandleFrame(convID int64, f frame.Frame) { fn(convID, f) }

// Unauthorized is the payload of the global unauthorized event.
type Unauthorized struct {
	Conversation int64
	Code         int
	Reason       string
}

// Options configures a Supervisor.
type Options struct {
	Dialer  transport.Dialer
	BaseURL string
	Policy  Policy
	Handler FrameHandler
	Bus     *bus.Bus
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// OnOpen runs after a connection reaches connected, before its first read.
	OnOpen func(convID int64)
}

// Supervisor owns at most one live connection per conversation.
type Supervisor struct {
	dialer  transport.Dialer
	baseURL string
	policy  Policy
	handler FrameHandler
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	onOpen  func(convID int64)

	mu      sync.Mutex
	slots   map[int64]*slot
	nextGen uint64
	pending []bus.Event
}

type slot struct {
	conv    int64
	gen     uint64
	token   string
	attempt int
	machine *status.Machine
	timer   *time.Timer
	conn    transport.Conn
	cancel  context.CancelFunc
	typing  *rate.Limiter
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	h := opts.Handler
	if h == nil {
		h = HandlerFunc(func(int64, frame.Frame) {})
	}
	return &Supervisor{
		dialer:  opts.Dialer,
		baseURL: opts.BaseURL,
		policy:  opts.Policy,
		handler: h,
		bus:     b,
		logger:  logger.Named("realtime"),
		metrics: opts.Metrics,
		onOpen:  opts.OnOpen,
		slots:   make(map[int64]*slot),
	}
}

// unlock releases the lock and then publishes the events queued under it.
func (s *Supervisor) unlock() {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, evt := range events {
		s.bus.Publish(evt)
	}
}

func (s *Supervisor) emit(c status.Change) {
	s.pending = append(s.pending, c.Event())
}

func (s *Supervisor) transition(sl *slot, to status.State, d status.Detail) bool {
	c, err := sl.machine.TransitionWith(to, d)
	if err != nil {
		s.logger.Debug("skipped transition", zap.Int64("conversation", sl.conv), zap.Error(err))
		return false
	}
	s.emit(c)
	return true
}

// current returns the slot only if gen is still its live generation.
func (s *Supervisor) current(convID int64, gen uint64) *slot {
	sl := s.slots[convID]
	if sl == nil || sl.gen != gen {
		return nil
	}
	return sl
}

func (s *Supervisor) newSlot(convID int64) *slot {
	limit := rate.Inf
	if s.policy.TypingInterval > 0 {
		limit = rate.Every(s.policy.TypingInterval)
	}
	return &slot{
		conv:    convID,
		machine: status.NewMachine(convID),
		typing:  rate.NewLimiter(limit, 1),
	}
}

// retireLocked tears down a slot's live attempt as intentional and returns
// the connection the caller must close after unlocking.
func (s *Supervisor) retireLocked(sl *slot, reason string) transport.Conn {
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
	if sl.cancel != nil {
		sl.cancel()
		sl.cancel = nil
	}
	conn := sl.conn
	sl.conn = nil
	s.nextGen++
	sl.gen = s.nextGen
	switch sl.machine.Current() {
	case status.Connecting, status.Connected, status.ReconnectFailed:
		s.transition(sl, status.Disconnected, status.Detail{Reason: reason, Intentional: true})
	}
	return conn
}

// Connect opens the conversation's connection with token, superseding any
// connection or pending retry it already has. The dial runs asynchronously.
func (s *Supervisor) Connect(convID int64, token string) error {
	if token == "" {
		return ErrNoToken
	}
	s.mu.Lock()
	sl := s.slots[convID]
	var old transport.Conn
	if sl == nil {
		sl = s.newSlot(convID)
		s.slots[convID] = sl
	} else {
		old = s.retireLocked(sl, "superseded")
	}
	s.nextGen++
	sl.gen = s.nextGen
	sl.token = token
	sl.attempt = 0
	ctx, cancel := context.WithCancel(context.Background())
	sl.cancel = cancel
	gen := sl.gen
	s.transition(sl, status.Connecting, status.Detail{})
	s.unlock()

	if old != nil {
		_ = old.Close(transport.CloseNormal, "superseded")
	}
	go s.run(ctx, convID, gen, token)
	return nil
}

func (s *Supervisor) run(ctx context.Context, convID int64, gen uint64, token string) {
	url := transport.URL(s.baseURL, convID, token)
	conn, err := s.dialer.Dial(ctx, url)

	s.mu.Lock()
	sl := s.current(convID, gen)
	if sl == nil {
		s.unlock()
		if conn != nil {
			_ = conn.Close(transport.CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		s.logger.Warn("dial failed", zap.Int64("conversation", convID), zap.Error(err))
		s.lostLocked(sl, err)
		s.unlock()
		return
	}
	sl.conn = conn
	sl.attempt = 0
	s.transition(sl, status.Connected, status.Detail{})
	s.unlock()

	s.logger.Info("connected", zap.Int64("conversation", convID), zap.Uint64("generation", gen))
	if s.onOpen != nil {
		s.onOpen(convID)
	}
	s.readLoop(ctx, convID, gen, conn)
}

func (s *Supervisor) readLoop(ctx context.Context, convID int64, gen uint64, conn transport.Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			sl := s.current(convID, gen)
			if sl == nil {
				s.unlock()
				return
			}
			sl.conn = nil
			s.lostLocked(sl, err)
			s.unlock()
			_ = conn.Close(transport.CloseGoingAway, "")
			return
		}

		frames, errs := frame.Decode(data)
		for _, e := range errs {
			s.metrics.FrameMalformed()
			s.logger.Warn("malformed frame", zap.Int64("conversation", convID), zap.Error(e))
		}
		s.metrics.FramesDecoded(len(frames))
		if !s.isCurrent(convID, gen) {
			return
		}
		for _, f := range frames {
			s.handler.HandleFrame(convID, f)
		}
	}
}

func (s *Supervisor) isCurrent(convID int64, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(convID, gen) != nil
}

// lostLocked handles an unintentional close or failed dial of the live attempt.
func (s *Supervisor) lostLocked(sl *slot, err error) {
	code, reason := transport.CloseInfo(err)
	if code < 0 {
		reason = err.Error()
	}
	class := s.policy.Classify(err)
	s.logger.Info("connection lost",
		zap.Int64("conversation", sl.conv),
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.Stringer("class", class),
	)
	if sl.cancel != nil {
		sl.cancel()
		sl.cancel = nil
	}

	d := status.Detail{Reason: reason}
	switch class {
	case Auth:
		sl.token = ""
		d.Unauthorized = true
		s.metrics.UnauthorizedClose()
		s.transition(sl, status.Disconnected, d)
		s.pending = append(s.pending, bus.Event{
			Kind:         bus.KindAuthRejected,
			Conversation: sl.conv,
			Timestamp:    time.Now(),
			Payload:      Unauthorized{Conversation: sl.conv, Code: code, Reason: reason},
		})
	case Normal:
		s.transition(sl, status.Disconnected, d)
	default:
		c, terr := sl.machine.TransitionWith(status.Disconnected, d)
		if terr != nil {
			s.logger.Debug("skipped transition", zap.Int64("conversation", sl.conv), zap.Error(terr))
			return
		}
		attempt, delay, serr := s.scheduleLocked(sl)
		if serr == nil {
			c.Detail.Attempt = attempt
			c.Detail.RetryIn = delay
		}
		s.emit(c)
		if errors.Is(serr, errExhausted) {
			s.metrics.ReconnectExhausted()
			s.logger.Warn("reconnect attempts exhausted", zap.Int64("conversation", sl.conv), zap.Int("attempts", sl.attempt))
			s.transition(sl, status.ReconnectFailed, status.Detail{Attempt: sl.attempt, Reason: reason})
		}
	}
}

var (
	errExhausted = errors.New("attempts exhausted")
	errScheduled = errors.New("already scheduled or live")
)

// scheduleLocked arms the retry timer for the slot's next attempt. It is a
// no-op while a timer is pending or while the slot is connecting or connected.
func (s *Supervisor) scheduleLocked(sl *slot) (int, time.Duration, error) {
	if sl.timer != nil || sl.token == "" {
		return 0, 0, errScheduled
	}
	switch sl.machine.Current() {
	case status.Connecting, status.Connected:
		return 0, 0, errScheduled
	}
	if sl.attempt >= s.policy.MaxAttempts {
		return 0, 0, errExhausted
	}
	delay := s.policy.Delay(sl.attempt)
	sl.attempt++
	conv, gen := sl.conv, sl.gen
	sl.timer = time.AfterFunc(delay, func() { s.retry(conv, gen) })
	s.metrics.ReconnectScheduled()
	return sl.attempt, delay, nil
}

func (s *Supervisor) retry(convID int64, gen uint64) {
	s.mu.Lock()
	sl := s.current(convID, gen)
	if sl == nil {
		s.unlock()
		return
	}
	sl.timer = nil
	if sl.token == "" || sl.machine.Current() != status.Disconnected {
		s.unlock()
		return
	}
	s.nextGen++
	sl.gen = s.nextGen
	ctx, cancel := context.WithCancel(context.Background())
	sl.cancel = cancel
	newGen, token := sl.gen, sl.token
	s.transition(sl, status.Connecting, status.Detail{Attempt: sl.attempt})
	s.unlock()

	s.logger.Info("reconnecting", zap.Int64("conversation", convID), zap.Uint64("generation", newGen))
	go s.run(ctx, convID, newGen, token)
}

// Disconnect tears the conversation down intentionally: the pending retry is
// cancelled, the credential dropped and the live connection closed.
func (s *Supervisor) Disconnect(convID int64) {
	s.mu.Lock()
	sl := s.slots[convID]
	if sl == nil {
		s.unlock()
		return
	}
	conn := s.retireLocked(sl, "disconnect")
	sl.token = ""
	delete(s.slots, convID)
	s.unlock()

	if conn != nil {
		_ = conn.Close(transport.CloseNormal, "client disconnect")
	}
}

// DisconnectAll disconnects every conversation.
func (s *Supervisor) DisconnectAll() {
	s.mu.Lock()
	var conns []transport.Conn
	for id, sl := range s.slots {
		if conn := s.retireLocked(sl, "dispose"); conn != nil {
			conns = append(conns, conn)
		}
		sl.token = ""
		delete(s.slots, id)
	}
	s.unlock()

	for _, conn := range conns {
		_ = conn.Close(transport.CloseNormal, "client disconnect")
	}
}

// Send writes an outbound frame on the conversation's open connection. It
// fails with ErrNotConnected when there is none. A typing=true frame that
// exceeds the typing rate is skipped without error.
func (s *Supervisor) Send(ctx context.Context, convID int64, out frame.Outbound) error {
	s.mu.Lock()
	sl := s.slots[convID]
	if sl == nil || sl.conn == nil || sl.machine.Current() != status.Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := sl.conn
	if out.Type == frame.TypeTyping && out.Message == "true" && !sl.typing.Allow() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	data, err := out.Encode()
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", out.Type, err)
	}
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("send %s frame: %w", out.Type, err)
	}
	return nil
}

// State returns the conversation's connection state.
func (s *Supervisor) State(convID int64) status.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slots[convID]; sl != nil {
		return sl.machine.Current()
	}
	return status.Disconnected
}

// States returns the state of every tracked conversation.
func (s *Supervisor) States() map[int64]status.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]status.State, len(s.slots))
	for id, sl := range s.slots {
		out[id] = sl.machine.Current()
	}
	return out
}
