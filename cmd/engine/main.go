package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	syncapp "github.com/catalogsync/backend/internal/application/sync"
	"github.com/catalogsync/backend/internal/domain/shared"
	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/catalogsync/backend/internal/infrastructure/cache"
	"github.com/catalogsync/backend/internal/infrastructure/config"
	"github.com/catalogsync/backend/internal/infrastructure/event"
	"github.com/catalogsync/backend/internal/infrastructure/logger"
	"github.com/catalogsync/backend/internal/infrastructure/monitor"
	"github.com/catalogsync/backend/internal/infrastructure/persistence"
	"github.com/catalogsync/backend/internal/infrastructure/remote"
	"github.com/catalogsync/backend/internal/infrastructure/telemetry"
)

// pollInterval is how often the engine looks for runnable batches
const pollInterval = 5 * time.Second

// runnableStatuses are the batch states the poll loop picks up: fresh
// batches and timed-out ones whose unfinished changes await resumption
var runnableStatuses = []staging.BatchStatus{
	staging.BatchStatusCreated,
	staging.BatchStatusTimedOut,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting catalog sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	meterProvider, err := telemetry.NewMeterProvider(rootCtx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Database
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, logger.MapGormLogLevel(cfg.Log.Level))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := db.AutoMigrate(); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}
	log.Info("Database connected")

	// Checkpoint store: Redis when reachable, in-memory otherwise. The
	// in-memory fallback loses resume state on restart but keeps the
	// engine operational.
	var checkpoints staging.CheckpointStore
	redisStore, err := cache.NewRedisCheckpointStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, falling back to in-memory checkpoints", zap.Error(err))
		checkpoints = cache.NewInMemoryCheckpointStore()
	} else {
		checkpoints = redisStore
		defer func() {
			if err := redisStore.Close(); err != nil {
				log.Error("Error closing Redis", zap.Error(err))
			}
		}()
		log.Info("Redis checkpoint store connected")
	}

	// Performance monitor with alert logging
	perf, err := monitor.NewMonitor(monitor.Config{
		HistorySize: cfg.Monitor.HistorySize,
	}, meterProvider.Meter("catalogsync/engine"), log)
	if err != nil {
		log.Fatal("Failed to initialize performance monitor", zap.Error(err))
	}
	perf.OnAlert(func(alert monitor.Alert) {
		log.Warn("performance alert raised",
			zap.String("metric_type", alert.MetricType.String()),
			zap.String("level", alert.Level.String()),
			zap.Float64("threshold", alert.Threshold),
			zap.Float64("actual_value", alert.ActualValue),
		)
	})

	// Remote platform client pool
	queryCache := remote.NewQueryCache(cfg.Remote.CacheTTL, cfg.Remote.CacheMaxEntries)
	costModel := remote.NewCostModel(cfg.Remote.SubBatchCostCeiling)
	pool := remote.NewPool(remote.PoolConfig{
		Endpoint:      cfg.Remote.Endpoint,
		AccessToken:   cfg.Remote.AccessToken,
		MaxConcurrent: cfg.Remote.MaxConcurrent,
		RetryAttempts: cfg.Sync.RetryAttempts,
		RetryDelay:    cfg.Sync.RetryDelay,
		Timeout:       cfg.Remote.Timeout,
		LowWaterMark:  cfg.Remote.LowWaterMark,
	}, queryCache, costModel, log)

	// Notification bus
	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(&eventLogger{log: log})
	if err := bus.Start(rootCtx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := bus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Engine assembly
	changeRepo := persistence.NewGormStagedChangeRepository(db.DB)
	batchRepo := persistence.NewGormSyncBatchRepository(db.DB)

	executor := syncapp.NewExecutor(changeRepo, batchRepo, checkpoints, pool, perf, bus, syncapp.ExecutorConfig{
		BatchSize:          cfg.Sync.BatchSize,
		MaxWorkers:         cfg.Sync.MaxWorkers,
		CostCeiling:        cfg.Remote.SubBatchCostCeiling,
		CheckpointInterval: cfg.Sync.CheckpointInterval,
		Timeout:            cfg.Sync.Timeout,
	}, log)

	// Batches the previous process left mid-run go back to created; their
	// checkpoints keep the rerun from repeating applied work
	if recovered, err := executor.RecoverInterrupted(rootCtx); err != nil {
		log.Error("Failed to recover interrupted batches", zap.Error(err))
	} else if recovered > 0 {
		log.Info("Recovered interrupted batches", zap.Int("count", recovered))
	}

	log.Info("Engine started",
		zap.Int("batch_size", cfg.Sync.BatchSize),
		zap.Int("max_workers", cfg.Sync.MaxWorkers),
		zap.Duration("batch_timeout", cfg.Sync.Timeout),
	)

	runLoop(rootCtx, executor, batchRepo, log)

	log.Info("Engine exited gracefully")
}

// runLoop polls for runnable batches and executes them one at a time until
// the context is cancelled. Parallelism lives inside the executor's worker
// pool, not across batches; two batches touching the same entities must
// never run concurrently.
func runLoop(ctx context.Context, executor *syncapp.Executor, batchRepo staging.SyncBatchRepository, log *zap.Logger) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, status := range runnableStatuses {
			status := status
			batches, err := batchRepo.Find(ctx, staging.BatchFilter{Status: &status, Limit: 10})
			if err != nil {
				log.Error("batch poll failed", zap.String("status", status.String()), zap.Error(err))
				continue
			}

			for _, batch := range batches {
				if ctx.Err() != nil {
					return
				}
				final, err := executor.Run(ctx, batch.ID)
				switch {
				case errors.Is(err, shared.ErrBatchTimeout):
					log.Warn("batch timed out, resumable on next poll",
						zap.String("batch_id", batch.ID.String()),
						zap.Int("processed", final.Processed),
					)
				case errors.Is(err, context.Canceled):
					log.Info("batch run interrupted by shutdown", zap.String("batch_id", batch.ID.String()))
					return
				case err != nil:
					log.Error("batch run failed", zap.String("batch_id", batch.ID.String()), zap.Error(err))
				default:
					log.Info("batch dispatched",
						zap.String("batch_id", batch.ID.String()),
						zap.String("status", final.Status.String()),
					)
				}
			}
		}
	}
}

// eventLogger is a wildcard subscriber that surfaces every sync notification
// in the engine log
type eventLogger struct {
	log *zap.Logger
}

func (l *eventLogger) Handle(ctx context.Context, e shared.DomainEvent) error {
	l.log.Info("sync event",
		zap.String("event_type", e.EventType()),
		zap.String("aggregate_id", e.AggregateID().String()),
	)
	return nil
}

// EventTypes returns nothing: the logger subscribes to every event
func (l *eventLogger) EventTypes() []string { return nil }

var _ shared.EventHandler = (*eventLogger)(nil)
