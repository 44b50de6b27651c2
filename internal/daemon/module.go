package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/feed"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/users"
	"github.com/matheus3301/chatsync/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p, p.Config),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCaches,
			provideUsers,
			provideHistory,
			provideAdapter,
			provideSyncEngine,
			provideSender,
			provideService,
			provideFeed,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(logger.Named("bus"))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock parameter orders store opening after the lock is held.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.StoreDBPath(p.Profile)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCaches(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) (*cache.Coherence, error) {
	return cache.NewCoherence(db, b, logger.Named("cache"), cache.Options{
		ParticipantsLimit: cfg.Cache.ParticipantsLimit,
		LastMessageLimit:  cfg.Cache.LastMessageLimit,
	})
}

func provideUsers(db *store.DB, b *bus.Bus, logger *zap.Logger) *users.Service {
	return users.NewService(db, b, logger.Named("users"))
}

func provideHistory(cfg *config.Config) *wa.History {
	return wa.NewHistory(cfg.Sync.PageSize)
}

func provideAdapter(p Params, history *wa.History, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.Profile, history, logger.Named("wa"))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, caches *cache.Coherence, adapter *wa.Adapter, dir *users.Service, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, caches, adapter, dir, logger.Named("sync"), intsync.Options{
		Concurrency: cfg.Sync.Concurrency,
	})
}

func provideSender(db *store.DB, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, engine, b, logger.Named("outbox"))
}

func provideService(p Params, m *status.Machine, engine *intsync.Engine, sender *outbox.Sender, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, m, engine, sender, adapter, b, logger.Named("api"))
}

func provideFeed(b *bus.Bus, logger *zap.Logger) *feed.Server {
	return feed.New(b, logger.Named("feed"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	caches *cache.Coherence,
	adapter *wa.Adapter,
	history *wa.History,
	engine *intsync.Engine,
	dir *users.Service,
	sender *outbox.Sender,
	events *feed.Server,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	coord := newCoordinator(ctx, engine, dir, adapter, machine, logger.Named("coordinator"))
	var unlisten func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to wa.* bus events).
			engine.Start(ctx)
			unlisten = b.Listen("sync.", coord)

			handler := wa.NewEventHandler(b, machine, history, adapter, logger.Named("wa"))
			adapter.RegisterEventHandler(handler.Handle)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sender.Start(ctx)

			if cfg.Feed.Listen != "" {
				if err := events.Start(cfg.Feed.Listen); err != nil {
					return err
				}
			}

			if adapter.IsLoggedIn() {
				if err := machine.Transition(status.Connecting); err != nil {
					logger.Warn("state transition failed", zap.Error(err))
				}
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no linked device, pairing required")
				_ = machine.Transition(status.Unpaired)
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if unlisten != nil {
				unlisten()
			}
			sender.Stop()
			engine.Stop()
			adapter.Disconnect()
			if err := events.Stop(stopCtx); err != nil {
				logger.Warn("error stopping event feed", zap.Error(err))
			}
			srv.Stop(stopCtx)
			caches.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
