package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/focus-quest/config"
	"github.com/alem-hub/focus-quest/internal/application/command"
	"github.com/alem-hub/focus-quest/internal/application/eventhandler"
	"github.com/alem-hub/focus-quest/internal/application/query"
	"github.com/alem-hub/focus-quest/internal/domain/leaderboard"
	"github.com/alem-hub/focus-quest/internal/domain/notification"
	"github.com/alem-hub/focus-quest/internal/domain/session"
	"github.com/alem-hub/focus-quest/internal/domain/shared"
	"github.com/alem-hub/focus-quest/internal/infrastructure/messaging"
	"github.com/alem-hub/focus-quest/internal/infrastructure/persistence/postgres"
	rediscache "github.com/alem-hub/focus-quest/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/focus-quest/internal/infrastructure/scheduler"
	"github.com/alem-hub/focus-quest/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/focus-quest/internal/infrastructure/service"
	apihttp "github.com/alem-hub/focus-quest/internal/interface/http"
	"github.com/alem-hub/focus-quest/internal/interface/http/handlers"
	"github.com/alem-hub/focus-quest/pkg/retry"
)

// eventBus - локальная или распределённая шина событий.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
	Metrics() *messaging.EventBusMetrics
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, session timers and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("starting FocusQuest",
		"env", cfg.App.Environment,
		"storage", cfg.Storage.Driver,
		"redis", cfg.Redis.Enabled,
		"distributed_events", cfg.Events.Distributed,
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ПРАВИЛА ПРОГРЕССИИ
	// ─────────────────────────────────────────────────────────────────────────
	engine, err := config.LoadProgression(cfg.Progression.File)
	if err != nil {
		return fmt.Errorf("failed to load progression rules: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ И МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	if store.pg != nil {
		log.Info("checking database migrations...")
		applied, err := postgres.NewMigrator(store.pg).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache *rediscache.Cache
		lbCache    leaderboard.Cache
	)
	if cfg.Redis.Enabled {
		redisCache, err = connectRedis(cfg)
		switch {
		case err != nil && cfg.Events.Distributed:
			return fmt.Errorf("redis is required for distributed events: %w", err)
		case err != nil:
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		default:
			defer redisCache.Close()
			log.Info("Redis connection established")
			if cfg.Features.IsEnabled(config.FeatureLeaderboardCache) {
				lbCache = service.NewRedisLeaderboard(rediscache.NewLeaderboardCache(redisCache))
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := newEventBus(cfg, redisCache, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПРИКЛАДНОЙ СЛОЙ
	// ─────────────────────────────────────────────────────────────────────────
	users := command.NewUserStore(store.users, retry.StorageRetrier(), log)

	award, err := command.NewAwardStudyTimeHandler(command.AwardStudyTimeConfig{
		Store:              users,
		Engine:             engine,
		Publisher:          bus,
		Sessions:           store.sessions,
		Leaderboard:        lbCache,
		MaxSessionDuration: cfg.Session.MaxDuration,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("failed to create award handler: %w", err)
	}
	if err := bus.Subscribe(shared.EventSessionCompleted, award.HandleEvent); err != nil {
		return err
	}
	if err := bus.Subscribe(shared.EventSessionRejected, command.NewJournalRejectedHandler(store.sessions, log).HandleEvent); err != nil {
		return err
	}

	channels := []notification.Channel{service.NewLogChannel(log)}
	if redisCache != nil {
		channels = append(channels, service.NewRedisChannel(rediscache.NewPubSubClient(redisCache), ""))
	}
	notifier := eventhandler.NewChannelNotifier(eventhandler.ChannelNotifierConfig{
		Channels: channels,
		Tiers:    engine.Tiers(),
		Catalog:  engine.Catalog(),
		Logger:   log,
	})
	progress := eventhandler.NewOnProgressionHandler(notifier, log).WithGate(cfg.Features.AllowNotification)
	if err := progress.Subscribe(bus); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ТАЙМЕРЫ СЕССИЙ
	// ─────────────────────────────────────────────────────────────────────────
	ids := service.NewIDGenerator()
	manager, err := session.NewManager(session.ManagerConfig{
		MaxBackground: cfg.Session.MaxBackground,
		TickInterval:  cfg.Session.TickInterval,
		Publisher:     bus,
		NewSessionID:  ids.GenerateID,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	if cfg.Events.Distributed {
		// старт на другом инстансе останавливает локальный таймер
		takeover := eventhandler.NewOnSessionStartedHandler(manager, log)
		if err := bus.Subscribe(shared.EventSessionStarted, takeover.Handle); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(ctx, cfg, log, users, store.users, lbCache, redisCache)
		if err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if store.pinger != nil {
		health.AddCheck("database", handlers.NewPingCheck(store.pinger))
	}
	if redisCache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
	}

	httpCfg := apihttp.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimit
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.AdminTokenHash = cfg.HTTP.AdminTokenHash
	httpCfg.Version = cfg.App.Version

	deps := apihttp.Dependencies{
		Sessions:       manager,
		Users:          users,
		CreateUser:     command.NewCreateUserHandler(users, engine, bus, log),
		EquipCompanion: command.NewEquipCompanionHandler(users, engine.Catalog(), bus, log),
		Profile:        query.NewGetUserProfileHandler(users, store.users, engine, log),
		Leaderboard:    query.NewGetLeaderboardHandler(store.users, lbCache, log),
		ListSessions:   query.NewListSessionsHandler(store.sessions),
		Catalog:        query.NewCatalogHandler(engine),
		HealthChecker:  health,
		Bus:            bus,
		Features:       cfg.Features,
		Logger:         log,
	}
	if sched != nil {
		deps.Jobs = sched
	}
	server := apihttp.NewServer(httpCfg, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		if n := manager.Shutdown("server shutdown"); n > 0 {
			log.Warn("running timers discarded on shutdown", "count", n)
		}

		if sched != nil {
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}

		if n, err := users.FlushPending(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("flush pending saves: %w", err))
		} else if n > 0 {
			log.Info("pending saves flushed", "count", n)
		}

		return errors.Join(errs...)
	})

	log.Info("FocusQuest is running", "address", httpCfg.Address())

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// connectRedis открывает пул соединений Redis.
func connectRedis(cfg *config.Config) (*rediscache.Cache, error) {
	redisCfg := rediscache.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	return rediscache.NewCache(redisCfg)
}

// newEventBus создаёт шину: in-memory или поверх Redis Pub/Sub.
func newEventBus(cfg *config.Config, redisCache *rediscache.Cache, log *slog.Logger) (eventBus, error) {
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.AsyncMode = cfg.Events.Async
	busCfg.WorkerPoolSize = cfg.Events.Workers
	busCfg.EnableMetrics = true

	if !cfg.Events.Distributed {
		return messaging.NewInMemoryEventBus(busCfg), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         rediscache.NewPubSubClient(redisCache),
		ChannelName:    cfg.Events.Channel,
		LocalBusConfig: busCfg,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distributed event bus: %w", err)
	}
	log.Info("distributed event bus started", "channel", cfg.Events.Channel, "instance_id", bus.InstanceID())
	return bus, nil
}

// newScheduler регистрирует фоновые задачи.
func newScheduler(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	users *command.UserStore,
	repo userRepository,
	lbCache leaderboard.Cache,
	redisCache *rediscache.Cache,
) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.Scheduler.Location
	sched := scheduler.NewScheduler(schedCfg)

	flushSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.FlushSchedule)
	if err != nil {
		return nil, fmt.Errorf("flush schedule: %w", err)
	}
	if err := sched.Register(jobs.NewFlushPendingJob(users, log), flushSchedule); err != nil {
		return nil, err
	}

	if lbCache == nil || redisCache == nil {
		return sched, nil
	}

	rebuildSchedule, err := scheduler.ParseSchedule(cfg.Scheduler.LeaderboardSchedule)
	if err != nil {
		return nil, fmt.Errorf("leaderboard schedule: %w", err)
	}
	rebuild := jobs.NewRebuildLeaderboardJob(repo, lbCache, redisCache, log, jobs.RebuildLeaderboardConfig{
		Window: cfg.Scheduler.LeaderboardCacheSize,
	})
	if err := sched.Register(rebuild, rebuildSchedule); err != nil {
		return nil, err
	}

	// прогреваем кеш до первого запроса
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := sched.RunNow(warmCtx, jobs.RebuildLeaderboardJobName); err != nil {
		log.Warn("initial leaderboard rebuild failed", "error", err)
	}

	return sched, nil
}
