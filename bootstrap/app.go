package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/config"
	"sentinel/core"
	"sentinel/engine"
	"sentinel/notify"
	"sentinel/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// allowAllPermissions grants every permission. The real authorization
// collaborator lives in the surrounding platform; standalone deployments
// run open.
type allowAllPermissions struct{}

func (allowAllPermissions) HasPermission(ctx context.Context, userID, tenantID, permission string) (bool, error) {
	return true, nil
}

// App represents the Sentinel application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite *storage.SQLite
	Cache  *core.RedisCache

	ChannelStorage      *storage.SQLiteChannelStorage
	RuleStorage         *storage.SQLiteRuleStorage
	NotificationStorage *storage.SQLiteNotificationStorage
	DeliveryStorage     *storage.SQLiteDeliveryStorage
	PreferenceStorage   *storage.SQLitePreferenceStorage
	UserStorage         *storage.SQLiteUserStorage

	Registry  *notify.Registry
	Scheduler *engine.Scheduler
	Engine    *engine.Engine
	Bus       *engine.EventBus
	Service   *engine.Service

	deliveryPool  *core.WorkerPool
	eventPool     *core.WorkerPool
	metricsServer *http.Server
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Sentinel notification engine starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	// Rebuild the logger at the configured level
	logger, sugar, err = InitLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, err
	}

	sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	app.SQLite = sqlite

	if cfg.Redis.Enabled {
		cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 10, sugar)
		if err := cache.Ping(ctx); err != nil {
			sugar.Warnf("Redis unavailable at %s, running without cache: %v", cfg.Redis.Addr, err)
		} else {
			app.Cache = cache
			sugar.Info("Redis cache connected")
		}
	}

	app.ChannelStorage = storage.NewSQLiteChannelStorage(sqlite, sugar)
	app.RuleStorage = storage.NewSQLiteRuleStorage(sqlite, sugar)
	app.NotificationStorage = storage.NewSQLiteNotificationStorage(sqlite, sugar)
	app.DeliveryStorage = storage.NewSQLiteDeliveryStorage(sqlite, sugar)
	app.PreferenceStorage = storage.NewSQLitePreferenceStorage(sqlite, sugar)
	app.UserStorage = storage.NewSQLiteUserStorage(sqlite, sugar)

	prefs := engine.NewPreferenceService(app.PreferenceStorage, app.Cache, sugar)
	resolver := engine.NewResolver(app.UserStorage, app.Cache, sugar)

	registry := notify.NewRegistry(notify.RateConfig{
		PerSecond: cfg.Dispatch.RateLimit.PerSecond,
		Burst:     cfg.Dispatch.RateLimit.Burst,
	}, sugar)
	timeout := cfg.DispatchTimeout()
	registry.Register(notify.NewEmailDispatcher(timeout, sugar))
	registry.Register(notify.NewSlackDispatcher(timeout, sugar))
	registry.Register(notify.NewMattermostDispatcher(prefs, timeout, sugar))
	registry.Register(notify.NewWebhookDispatcher(timeout, sugar))
	registry.Register(notify.NewSMSDispatcher(prefs, timeout, sugar))
	registry.Register(notify.NewInAppDispatcher(sugar))
	app.Registry = registry

	app.deliveryPool = core.NewWorkerPool(ctx, cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, "delivery", sugar)
	app.eventPool = core.NewWorkerPool(ctx, cfg.Dispatch.EventWorkers, cfg.Dispatch.EventQueueSize, "event", sugar)

	policy := engine.RetryPolicy{
		MaxAttempts: cfg.Dispatch.Retry.MaxAttempts,
		Backoff:     cfg.RetryBackoff(),
	}
	app.Scheduler = engine.NewScheduler(
		app.ChannelStorage, app.DeliveryStorage, resolver, prefs, registry, app.deliveryPool, policy, sugar)

	renderer := core.NewRenderer(sugar)
	app.Engine = engine.NewEngine(
		app.RuleStorage, app.NotificationStorage, renderer, resolver, app.Scheduler, sugar)
	app.Bus = engine.NewEventBus(app.Engine, app.eventPool, sugar)

	app.Service = engine.NewService(
		app.ChannelStorage, app.RuleStorage, app.NotificationStorage, app.DeliveryStorage,
		app.UserStorage, prefs, registry, allowAllPermissions{}, app.Cache, sugar)

	return app, nil
}

// Start starts the worker pools, re-enqueues deliveries left pending by a
// previous run and exposes metrics.
func (a *App) Start(ctx context.Context) error {
	if err := a.deliveryPool.Start(); err != nil {
		return fmt.Errorf("failed to start delivery pool: %w", err)
	}
	if err := a.eventPool.Start(); err != nil {
		return fmt.Errorf("failed to start event pool: %w", err)
	}

	recovered, err := a.Scheduler.RecoverPending(a.NotificationStorage, a.UserStorage, a.Config.Dispatch.RecoveryBatchSize)
	if err != nil {
		a.Sugar.Errorf("Pending delivery recovery failed: %v", err)
	} else if recovered > 0 {
		a.Sugar.Infof("Recovered %d pending deliveries", recovered)
	}

	if a.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metricsServer = &http.Server{
			Addr:              a.Config.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.Sugar.Infof("Metrics server listening on %s", a.Config.Metrics.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Sugar.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	a.Sugar.Info("Sentinel started")
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. Event intake stops
// first so no new delivery work arrives while the delivery pool drains.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.eventPool != nil {
		a.eventPool.Stop()
	}
	if a.deliveryPool != nil {
		a.deliveryPool.Stop()
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop metrics server", "error", err)
		}
	}

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if a.SQLite != nil {
		a.SQLite.Close()
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
