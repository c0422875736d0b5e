// Package chat is the chat sync core: one Service owns the realtime
// supervisor, the timeline, presence and dialog state and the profile cache
// for a process.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/dialog"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/realtime"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/status"
	csync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/timeline"
	"github.com/matheus3301/chatsync/internal/transport"
)

// DeletedText replaces the text of a message deleted locally.
const DeletedText = "[Deleted]"

var (
	// ErrEmptyMessage is returned when sending or editing to blank text.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrUnknownMessage is returned when editing or deleting a message that is not in the timeline.
	ErrUnknownMessage = errors.New("chat: unknown message")
)

// Backend is the REST surface the service reads from.
type Backend interface {
	ListChats(ctx context.Context) ([]rest.Chat, error)
	ChatMessages(ctx context.Context, chatID int64, cursor string, limit int, dir rest.Direction) (rest.MessagesPage, error)
	User(ctx context.Context, id int64) (rest.User, error)
}

// Options configures a Service.
type Options struct {
	Config      *config.Config
	Dialer      transport.Dialer
	Backend     Backend
	Tokens      auth.TokenProvider
	Bus         *bus.Bus
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Checkpoints csync.Checkpoints
}

// Service is the chat sync core.
type Service struct {
	cfg     *config.Config
	bus     *bus.Bus
	logger  *zap.Logger
	tokens  auth.TokenProvider
	backend Backend
	now     func() time.Time

	timeline   *timeline.Store
	presence   *presence.Tracker
	dialogs    *dialog.Index
	profiles   *profile.Cache
	engine     *csync.Engine
	reconciler *csync.Reconciler
	supervisor *realtime.Supervisor

	self         atomic.Int64
	unauthorized atomic.Bool
	unsubscribe  func()

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service.
func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := opts.Bus
	if b == nil {
		b = bus.New().WithLogger(logger)
	}

	s := &Service{
		cfg:      cfg,
		bus:      b,
		logger:   logger.Named("chat"),
		tokens:   opts.Tokens,
		backend:  opts.Backend,
		now:      time.Now,
		timeline: timeline.NewStore(),
		presence: presence.NewTracker(b, cfg.Typing.Quiet),
		dialogs:  dialog.NewIndex(b),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var lookup profile.Lookup = profile.LookupFunc(func(context.Context, int64) (profile.Profile, error) {
		return profile.Profile{}, errors.New("no backend configured")
	})
	if opts.Backend != nil {
		lookup = profile.LookupFunc(func(ctx context.Context, id int64) (profile.Profile, error) {
			u, err := opts.Backend.User(ctx, id)
			if err != nil {
				s.checkUnauthorized(err)
				return profile.Profile{}, err
			}
			return u.Profile(), nil
		})
	}
	s.profiles = profile.NewCache(lookup, cfg.ProfileTTL, logger, opts.Metrics)

	s.engine = csync.NewEngine(s.timeline, s.presence, s.dialogs, b, logger, opts.Metrics)
	if opts.Backend != nil {
		s.reconciler = csync.NewReconciler(opts.Backend, s.engine, cfg.HistoryPageSize, opts.Checkpoints, logger)
	}
	s.supervisor = realtime.New(realtime.Options{
		Dialer:  opts.Dialer,
		BaseURL: cfg.WSBaseURL,
		Policy:  Policy(cfg),
		Handler: s.engine,
		Bus:     b,
		Logger:  logger,
		Metrics: opts.Metrics,
		OnOpen:  s.opened,
	})
	s.unsubscribe = b.Handle(bus.KindAuthRejected, func(evt bus.Event) {
		if u, ok := evt.Payload.(realtime.Unauthorized); ok {
			s.raiseUnauthorized(u)
		}
	})
	return s
}

// Policy builds the reconnect policy from the configuration.
func Policy(cfg *config.Config) realtime.Policy {
	p := realtime.DefaultPolicy()
	r := cfg.Reconnect
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.AuthCloseCodes != nil {
		p.AuthCloseCodes = r.AuthCloseCodes
	}
	if r.NormalCloseCodes != nil {
		p.NormalCloseCodes = r.NormalCloseCodes
	}
	if r.AuthReasons != nil {
		p.AuthReasons = r.AuthReasons
	}
	if cfg.Typing.SendInterval > 0 {
		p.TypingInterval = cfg.Typing.SendInterval
	}
	return p
}

// Bus returns the bus the service publishes on.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Connect opens the realtime connection of a conversation. An empty token
// is taken from the token provider. A previous connection of the same
// conversation is closed first.
func (s *Service) Connect(ctx context.Context, convID int64, token string) error {
	if token == "" {
		if s.tokens == nil {
			return fmt.Errorf("connect %d: %w", convID, auth.ErrNoToken)
		}
		t, err := s.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("connect %d: %w", convID, err)
		}
		token = t
	}
	// Re-arm before dialing so a fast rejection of the new credential is
	// still reported.
	s.unauthorized.Store(false)
	if err := s.supervisor.Connect(convID, token); err != nil {
		return fmt.Errorf("connect %d: %w", convID, err)
	}
	s.dialogs.Ensure(convID)
	return nil
}

// opened runs on every successful (re)open and merges the newest history
// page in the background.
func (s *Service) opened(convID int64) {
	if s.reconciler == nil {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if _, err := s.reconciler.FetchHistory(ctx, convID); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.checkUnauthorized(err)
			s.logger.Warn("history fetch failed", zap.Int64("conversation", convID), zap.Error(err))
		}
	}()
}

// Disconnect tears down a conversation's connection and its typing state.
// The timeline is kept.
func (s *Service) Disconnect(convID int64) {
	s.supervisor.Disconnect(convID)
	s.presence.ClearConversation(convID)
}

// Dispose closes every connection, cancels every timer and in-flight fetch
// and clears all state. The service stays usable.
func (s *Service) Dispose() {
	s.supervisor.DisconnectAll()

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.presence.Reset()
	s.timeline.Reset()
	s.dialogs.Reset()
	s.profiles.Reset()
	if s.reconciler != nil {
		s.reconciler.Reset()
	}
	s.self.Store(0)
	s.logger.Info("disposed")
}

// Logout disposes the service and clears the stored credential.
func (s *Service) Logout() error {
	s.Dispose()
	if s.tokens == nil {
		return nil
	}
	if err := s.tokens.Clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close disposes the service and drops its bus handlers.
func (s *Service) Close() {
	s.Dispose()
	s.unsubscribe()
}

// SetCurrentUser sets the local user for typing and unread computation.
func (s *Service) SetCurrentUser(userID int64) {
	s.self.Store(userID)
	s.presence.SetSelf(userID)
	s.dialogs.SetSelf(userID)
	s.engine.Refresh()
}

// CurrentUser returns the local user id, 0 when unknown.
func (s *Service) CurrentUser() int64 { return s.self.Load() }

// SendText sends a chat message. It fails with realtime.ErrNotConnected when
// the conversation has no open connection.
func (s *Service) SendText(ctx context.Context, convID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return s.supervisor.Send(ctx, convID, frame.MessageFrame(text, s.now()))
}

// SendTyping sends the local typing state. Repeated typing=true frames are
// throttled.
func (s *Service) SendTyping(ctx context.Context, convID int64, isTyping bool) error {
	return s.supervisor.Send(ctx, convID, frame.TypingFrame(isTyping))
}

// MarkRead sends a read receipt and records the local user as a reader.
func (s *Service) MarkRead(ctx context.Context, convID, msgID int64) error {
	if err := s.supervisor.Send(ctx, convID, frame.ReadReceiptFrame(msgID, s.now())); err != nil {
		return err
	}
	if self := s.self.Load(); self != 0 {
		s.engine.Mutate(convID, msgID, func(m *timeline.Message) { m.ReadBy = append(m.ReadBy, self) })
	}
	return nil
}

// EditMessage sends an edit and applies it locally once the frame is written.
// The local copy stays pending until the server sends any edit newer than
// the one it replaced, whatever the local clock says.
func (s *Service) EditMessage(ctx context.Context, convID, msgID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if _, ok := s.timeline.Get(convID, msgID); !ok {
		return ErrUnknownMessage
	}
	if err := s.supervisor.Send(ctx, convID, frame.EditFrame(msgID, text, s.now())); err != nil {
		return err
	}
	now := s.now().UnixMilli()
	s.engine.Mutate(convID, msgID, func(m *timeline.Message) {
		if !m.Pending {
			m.PendingBase = m.EditedAt
		}
		m.Pending = true
		m.Text = text
		m.EditedAt = max(now, m.Timestamp+1, m.EditedAt+1)
	})
	return nil
}

// DeleteMessage sends a delete and tombstones the message locally.
func (s *Service) DeleteMessage(ctx context.Context, convID, msgID int64) error {
	if _, ok := s.timeline.Get(convID, msgID); !ok {
		return ErrUnknownMessage
	}
	if err := s.supervisor.Send(ctx, convID, frame.DeleteFrame(msgID, s.now())); err != nil {
		return err
	}
	s.engine.Mutate(convID, msgID, func(m *timeline.Message) {
		m.Deleted = true
		m.Text = DeletedText
	})
	return nil
}

// Page returns a window of a conversation's timeline. before <= 0 means the
// newest messages.
func (s *Service) Page(convID, before int64, limit int) timeline.Page {
	return s.timeline.Page(convID, before, limit)
}

// LoadOlder fetches the next older history page from the backend.
func (s *Service) LoadOlder(ctx context.Context, convID int64) (bool, error) {
	if s.reconciler == nil {
		return false, nil
	}
	_, more, err := s.reconciler.LoadOlder(ctx, convID)
	if err != nil {
		s.checkUnauthorized(err)
		return false, err
	}
	return more, nil
}

// Dialogs returns the current dialog summaries, newest first.
func (s *Service) Dialogs() []dialog.Summary {
	return s.dialogs.List()
}

// LoadDialogs fetches the chat list, names every dialog and seeds the last
// message of each.
func (s *Service) LoadDialogs(ctx context.Context) ([]dialog.Summary, error) {
	if s.backend == nil {
		return s.engine.Refresh(), nil
	}
	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.checkUnauthorized(err)
		return nil, fmt.Errorf("load dialogs: %w", err)
	}
	dialogs := make([]dialog.Dialog, 0, len(chats))
	for _, c := range chats {
		dialogs = append(dialogs, c.Dialog())
	}
	s.dialogs.SetDialogs(dialogs)
	for _, c := range chats {
		if c.LastMessage == nil || c.LastMessage.ID <= 0 {
			continue
		}
		if _, err := s.engine.IngestMessage(c.ID, c.LastMessage.Timeline()); err != nil {
			s.logger.Debug("skipping last message", zap.Int64("conversation", c.ID), zap.Error(err))
		}
	}
	return s.engine.Refresh(), nil
}

// TypingUsers returns who is typing in a conversation.
func (s *Service) TypingUsers(convID int64) []presence.User {
	return s.presence.Users(convID)
}

// Profile returns a user profile, possibly stale or a placeholder.
func (s *Service) Profile(ctx context.Context, userID int64) profile.Profile {
	return s.profiles.Get(ctx, userID)
}

// Status returns a conversation's connection state.
func (s *Service) Status(convID int64) status.State {
	return s.supervisor.State(convID)
}

// Statuses returns the connection state of every tracked conversation.
func (s *Service) Statuses() map[int64]status.State {
	return s.supervisor.States()
}

func (s *Service) checkUnauthorized(err error) {
	if errors.Is(err, rest.ErrUnauthorized) {
		s.raiseUnauthorized(realtime.Unauthorized{Code: 401, Reason: err.Error()})
	}
}

// raiseUnauthorized publishes the unauthorized event once until the next
// successful Connect.
func (s *Service) raiseUnauthorized(u realtime.Unauthorized) {
	if !s.unauthorized.CompareAndSwap(false, true) {
		return
	}
	s.logger.Warn("credential rejected",
		zap.Int64("conversation", u.Conversation),
		zap.Int("code", u.Code),
		zap.String("reason", u.Reason),
	)
	s.bus.Publish(bus.Event{
		Kind:         bus.KindUnauthorized,
		Conversation: u.Conversation,
		Timestamp:    s.now(),
		Payload:      u,
	})
}
