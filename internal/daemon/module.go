package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/realtime"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideTokens,
			provideREST,
			provideChat,
			provideMirror,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Resolve(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New().WithLogger(logger)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore opens the mirror. It depends on the lock so a second daemon
// never touches the database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.MirrorDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	// The mirror follows in-memory state, which starts empty.
	if err := db.Reset(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokens(p Params) *auth.FileTokens {
	return auth.NewFileTokens(session.TokenPath(p.SessionName))
}

func provideREST(cfg *config.Config, tokens *auth.FileTokens, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.APIBaseURL, tokens, logger)
}

func provideChat(cfg *config.Config, tokens *auth.FileTokens, client *rest.Client, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *chat.Service {
	return chat.New(chat.Options{
		Config:      cfg,
		Dialer:      &transport.WebSocketDialer{},
		Backend:     client,
		Tokens:      tokens,
		Bus:         b,
		Logger:      logger,
		Metrics:     m,
		Checkpoints: db,
	})
}

func provideMirror(db *store.DB, logger *zap.Logger) *store.Mirror {
	return store.NewMirror(db, logger)
}

func provideControl(p Params, svc *chat.Service, db *store.DB, logger *zap.Logger) *api.Control {
	return api.NewControl(p.SessionName, svc, db, logger)
}

type lifecycleParams struct {
	fx.In

	LC      fx.Lifecycle
	Config  *config.Config
	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Mirror  *store.Mirror
	Chat    *chat.Service
	REST    *rest.Client
	Tokens  *auth.FileTokens
	Bus     *bus.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	logger := p.Logger
	ctx, cancel := context.WithCancel(context.Background())
	var metricsSrv *http.Server
	var unsubUnauthorized func()

	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Mirror first so no event published after start is missed.
			p.Mirror.Start(p.Bus)

			unsubUnauthorized = p.Chat.OnUnauthorized(func(u realtime.Unauthorized) {
				logger.Warn("credential rejected, clearing token",
					zap.Int64("conversation", u.Conversation),
					zap.Int("code", u.Code),
					zap.String("reason", u.Reason))
				if err := p.Tokens.Clear(); err != nil {
					logger.Warn("error clearing token", zap.Error(err))
				}
			})

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if addr := p.Config.MetricsAddr; addr != "" {
				metricsSrv = &http.Server{
					Addr:              addr,
					Handler:           p.Metrics.Handler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					logger.Info("metrics server starting", zap.String("addr", addr))
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			go bootstrap(ctx, p.Chat, p.REST, p.Tokens, logger)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if unsubUnauthorized != nil {
				unsubUnauthorized()
			}
			p.Chat.Close()
			p.Mirror.Stop()
			p.Server.Stop(stopCtx)
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(stopCtx)
			}
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// bootstrap resolves the current user and loads the dialog list. Failures
// are logged; the control API can retry both.
func bootstrap(ctx context.Context, svc *chat.Service, client *rest.Client, tokens auth.TokenProvider, logger *zap.Logger) {
	if _, err := tokens.Token(ctx); errors.Is(err, auth.ErrNoToken) {
		logger.Info("no credentials found, auth required")
		return
	}
	me, err := client.Me(ctx)
	switch {
	case errors.Is(err, rest.ErrUnauthorized):
		logger.Warn("stored credential rejected")
		return
	case err != nil:
		logger.Warn("failed to resolve current user", zap.Error(err))
	default:
		svc.SetCurrentUser(me.ID)
		logger.Info("current user resolved", zap.Int64("user", me.ID))
	}

	summaries, err := svc.LoadDialogs(ctx)
	if err != nil {
		logger.Warn("initial dialog load failed", zap.Error(err))
		return
	}
	logger.Info("dialogs loaded", zap.Int("count", len(summaries)))
}
