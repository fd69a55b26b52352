package daemon

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/shieldsms/shield/internal/api"
	"github.com/shieldsms/shield/internal/bus"
	"github.com/shieldsms/shield/internal/cache"
	"github.com/shieldsms/shield/internal/classify"
	"github.com/shieldsms/shield/internal/config"
	"github.com/shieldsms/shield/internal/ingest"
	"github.com/shieldsms/shield/internal/lock"
	"github.com/shieldsms/shield/internal/logging"
	"github.com/shieldsms/shield/internal/paths"
	"github.com/shieldsms/shield/internal/queue"
	"github.com/shieldsms/shield/internal/store"
	"github.com/shieldsms/shield/internal/view"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	ConfigPath string
	SocketPath string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideClient,
			provideCache,
			provideIngest,
			provideRunner,
			provideProjection,
			provideAPIHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger() (*zap.Logger, error) {
	if err := paths.EnsureTree(); err != nil {
		return nil, err
	}
	return logging.New(paths.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("path", paths.LockPath()))
	l, err := lock.Acquire(paths.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	applied, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	version, err := db.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if applied > 0 {
		logger.Info("migrations applied", zap.Int("count", applied), zap.Uint("version", version))
	} else {
		logger.Info("schema up to date", zap.Uint("version", version))
	}
	db.SetBus(b)
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideClient builds the classification client from config, preferring an
// endpoint previously persisted by the set-endpoint command.
func provideClient(cfg *config.Config, db *store.DB, logger *zap.Logger) (*classify.Client, error) {
	baseURL := cfg.Classifier.BaseURL
	token := cfg.Classifier.Token

	if saved, err := db.GetSetting(store.SettingClassifierURL); err != nil {
		return nil, err
	} else if saved != "" {
		baseURL = saved
		if tok, err := db.GetSetting(store.SettingClassifierToken); err != nil {
			return nil, err
		} else {
			token = tok
		}
	}

	logger.Info("classifier endpoint configured", zap.String("base_url", baseURL))
	return classify.New(baseURL, token, cfg.Classifier.Timeout()), nil
}

func provideCache(cfg *config.Config, logger *zap.Logger) cache.VerdictCache {
	if !cfg.Cache.Enabled() {
		return cache.Noop{}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	logger.Info("verdict cache enabled", zap.String("addr", cfg.Cache.Addr))
	return cache.NewRedisCache(rdb, cfg.Cache.TTL(), logger)
}

func provideIngest(db *store.DB, cfg *config.Config, logger *zap.Logger) *ingest.Handler {
	return ingest.NewHandler(db, cfg.Queue.MaxAttempts, logger)
}

func provideRunner(db *store.DB, client *classify.Client, vc cache.VerdictCache, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *queue.Runner {
	return queue.NewRunner(db, client, vc, b, cfg.Queue, logger)
}

func provideProjection(db *store.DB, b *bus.Bus, logger *zap.Logger) *view.Projection {
	return view.NewProjection(db, b, logger)
}

func provideAPIHandler(db *store.DB, ing *ingest.Handler, runner *queue.Runner, proj *view.Projection, client *classify.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, ing, runner, proj, client, b, cfg.Queue.MaxAttempts, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, runner *queue.Runner, proj *view.Projection, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			proj.Start(context.Background())
			runner.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			runner.Stop()
			proj.Stop()
			srv.Stop(ctx)
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
