// Package main is the ledger projection worker: it relays admitted-movement
// outbox messages into rate propagation and balance cache invalidation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	appctx "milledger/internal/core/context"
	"milledger/internal/infrastructure/config"
	"milledger/internal/infrastructure/projector"
	"milledger/internal/infrastructure/storage/postgres"
	"milledger/internal/infrastructure/storage/postgres/ledger_repo"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/projection"
	"milledger/internal/ledger/rate"
	"milledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting milledger projection worker")

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:               cfg.Database.DSN,
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)
	movements := ledger_repo.NewMovementRepo(txManager)
	locations := ledger_repo.NewLocationRepo(txManager)

	audit, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to create audit service", "error", err)
	}

	cache, err := projection.NewCache(ctx, projection.FactoryConfig{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL,
		Redis: projection.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		AllowInMemoryFallback: cfg.Cache.AllowInMemoryFallback,
	})
	if err != nil {
		log.Fatalw("failed to create balance cache", "error", err)
	}

	engine := balance.NewEngine(movements)
	balances := projection.NewReader(engine, cache)
	rates := rate.NewService(movements, locations, postgres.NewTransferAudit(audit))

	handler := projector.NewHandler(rates, balances)
	relay := postgres.NewOutboxRelay(pool.Unwrap(), cfg.Worker.BatchSize, handler)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runRelay(ctx, relay, cfg.Worker, log)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	wg.Wait()
	log.Info("worker stopped")
}

// runRelay polls the outbox until the context is cancelled. Failed messages
// stay pending with backoff; messages that exhaust their retries are swept
// to the dead letter queue on a slower ticker.
func runRelay(ctx context.Context, relay *postgres.OutboxRelay, cfg config.WorkerConfig, log *logger.Logger) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	dlqTicker := time.NewTicker(cfg.DLQInterval)
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			// One trace per batch: every projection applied for this
			// poll logs the same trace id.
			batchCtx := appctx.WithTrace(ctx, appctx.NewTraceContext())
			processed, err := relay.ProcessBatch(batchCtx)
			if err != nil {
				log.Errorw("outbox batch failed", "error", err)
				continue
			}
			if processed > 0 {
				log.Debugw("processed outbox batch", "count", processed)
			}

		case <-dlqTicker.C:
			moved, err := relay.MoveToDLQ(ctx)
			if err != nil {
				log.Errorw("dead letter sweep failed", "error", err)
				continue
			}
			if moved > 0 {
				log.Warnw("moved exhausted outbox messages to DLQ", "count", moved)
			}
		}
	}
}
