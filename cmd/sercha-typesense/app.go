package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-typesense/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-typesense/internal/adapters/driven/clientcache"
	"github.com/custodia-labs/sercha-typesense/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/sercha-typesense/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/sercha-typesense/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/sercha-typesense/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-typesense/internal/adapters/driven/typesense"
	"github.com/custodia-labs/sercha-typesense/internal/config"
	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-typesense/internal/core/services"
	"github.com/custodia-labs/sercha-typesense/internal/metrics"
	"github.com/custodia-labs/sercha-typesense/internal/normalisers"
)

// app holds the wired adapters and services shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client
	metrics     *metrics.Metrics

	types       *domain.RecordTypeRegistry
	clients     *services.ClientProvider
	collections *services.CollectionRegistry
	engine      *services.BatchSyncEngine
	runner      *services.SyncJobRunner
	changes     *services.RecordChangeRouter
	search      driving.SearchService
	auth        driving.AuthService

	taskQueue      driven.TaskQueue
	lock           driven.DistributedLock
	schedulerStore driven.SchedulerStore
	syncStates     driven.SyncStateStore
}

// newApp connects to the backing stores and builds the services.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	// ===== PostgreSQL =====
	logger.Info("connecting to postgres")
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		ConnectTimeout:  cfg.DBConnectTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	if err := db.InitSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// ===== Redis (optional) =====
	if cfg.RedisURL != "" {
		logger.Info("connecting to redis")
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	// ===== Task queue and lock (Redis if available, otherwise PostgreSQL) =====
	if a.redisClient != nil {
		host, _ := os.Hostname()
		q, err := redisqueue.NewQueue(ctx, a.redisClient, redisqueue.QueueConfig{
			Consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
			Logger:   logger,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create task queue: %w", err)
		}
		a.taskQueue = q
		a.lock = redisadapter.NewLock(a.redisClient, redisadapter.LockConfig{Logger: logger})
		logger.Info("using redis task queue and lock")
	} else {
		a.taskQueue = postgresqueue.NewQueue(db.DB, postgresqueue.QueueConfig{Logger: logger})
		a.lock = postgres.NewAdvisoryLock(db)
		logger.Info("using postgres task queue and advisory lock")
	}
	a.schedulerStore = postgres.NewSchedulerStore(db)
	a.syncStates = postgres.NewSyncStateStore(db)

	// ===== Remote store clients =====
	cache, err := clientcache.NewLRU(cfg.ClientCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.clients, err = services.NewClientProvider(services.ClientProviderConfig{
		Factory:           typesense.Factory{},
		Cache:             cache,
		APIKey:            cfg.TypesenseAPIKey,
		SearchKey:         cfg.TypesenseSearchKey,
		Servers:           cfg.TypesenseServer,
		ConnectionTimeout: cfg.TypesenseConnectionTimeout,
		Logger:            logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	// ===== Services =====
	a.types = domain.NewRecordTypeRegistry(cfg.Static.RecordTypes...)
	records := postgres.NewRecordSource(db, a.types)
	mapper := services.NewDocumentMapper(services.DocumentMapperConfig{
		Types:       a.types,
		Normalisers: normalisers.DefaultRegistry(),
		Logger:      logger,
	})

	a.collections = services.NewCollectionRegistry(services.CollectionRegistryConfig{
		Store:  postgres.NewCollectionStore(db),
		Types:  a.types,
		Remote: a.clients,
		Logger: logger,
	})
	if err := a.collections.Bootstrap(ctx, cfg.Static.Collections); err != nil {
		a.Close()
		return nil, err
	}

	a.engine = services.NewBatchSyncEngine(services.BatchSyncEngineConfig{
		Records:     records,
		Types:       a.types,
		Mapper:      mapper,
		Collections: a.collections,
		Remote:      a.clients,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	a.runner = services.NewSyncJobRunner(services.SyncJobRunnerConfig{
		Collections: a.collections,
		Engine:      a.engine,
		TaskQueue:   a.taskQueue,
		SyncStore:   a.syncStates,
		Lock:        a.lock,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	a.changes = services.NewRecordChangeRouter(services.RecordChangeRouterConfig{
		Collections: a.collections,
		Types:       a.types,
		Records:     records,
		Mapper:      mapper,
		Remote:      a.clients,
		TaskQueue:   a.taskQueue,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	a.search = services.NewSearchService(a.collections, a.clients)
	a.auth = services.NewAuthService(cfg.Static.Principals, auth.NewAdapter(auth.Config{Secret: cfg.JWTSecret}), cfg.TokenTTL)

	return a, nil
}

// waitForRemote polls the remote store health endpoint until it answers or
// the wait timeout passes.
func (a *app) waitForRemote(ctx context.Context) error {
	if a.cfg.TypesenseServer == "" {
		return errors.New("TYPESENSE_SERVER is not configured")
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		client, err := a.clients.Default()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if err := client.Health(ctx); err != nil {
			a.logger.Info("waiting for typesense", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(a.cfg.TypesenseWaitTimeout),
	)
	if err != nil {
		return fmt.Errorf("typesense is not reachable: %w", err)
	}
	return nil
}

// pingRemote is the readiness check for the remote store.
func (a *app) pingRemote(ctx context.Context) error {
	client, err := a.clients.Default()
	if err != nil {
		return err
	}
	return client.Health(ctx)
}

// newScheduler builds the scheduler and registers the purge schedule plus one
// recurring sync per enabled collection. Disabled collections lose theirs.
func (a *app) newScheduler(ctx context.Context) (*services.Scheduler, error) {
	scheduler := services.NewScheduler(services.SchedulerConfig{
		Store:      a.schedulerStore,
		TaskQueue:  a.taskQueue,
		Lock:       a.lock,
		SyncStates: a.syncStates,
		Logger:     a.logger,
	})

	defaults := []*domain.ScheduledTask{domain.PurgeSchedule(a.cfg.PurgeAfter)}
	if err := scheduler.EnsureSchedules(ctx, defaults); err != nil {
		return nil, fmt.Errorf("register default schedules: %w", err)
	}

	if a.cfg.SyncInterval <= 0 {
		return scheduler, nil
	}
	collections, err := a.collections.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range collections {
		if !c.Enabled {
			if err := scheduler.UnscheduleCollection(ctx, c.Name); err != nil {
				return nil, fmt.Errorf("unschedule collection %s: %w", c.Name, err)
			}
			continue
		}
		if _, err := scheduler.ScheduleCollection(ctx, c.Name, a.cfg.SyncInterval, domain.DefaultBatchLimit); err != nil {
			return nil, fmt.Errorf("schedule collection %s: %w", c.Name, err)
		}
	}
	return scheduler, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.taskQueue != nil {
		if err := a.taskQueue.Close(); err != nil {
			a.logger.Warn("failed to close task queue", "error", err)
		}
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
