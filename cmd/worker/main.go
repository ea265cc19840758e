package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/app"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	inventoryService := inventory.NewService(inventory.ServiceParams{
		Repo:    inventory.NewRepository(pool, db.NewTxRunner(pool, cfg.TxMaxAttempts)),
		Ledger:  inventory.NewLedger(inventory.LedgerConfig{AllowNegativeStock: cfg.AllowNegativeStock}),
		Metrics: metrics,
		Logger:  logger,
	})
	ledgerJob := jobs.NewLedgerIntegrityJob(inventoryService, redislock.New(redisClient), logger, metrics.Jobs())

	publisher := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka writer close", slog.Any("error", err))
		}
	}()
	relay := outbox.NewRelay(outbox.NewRepository(pool), publisher, logger, 100)
	relayJob := jobs.NewOutboxRelayJob(relay, logger, metrics.Jobs())

	pruneJob := jobs.NewIdempotencyPruneJob(shared.NewIdempotencyStore(pool), logger, metrics.Jobs())

	ledgerTask, err := jobs.NewLedgerIntegrityTask(0)
	if err != nil {
		logger.Error("build ledger task", slog.Any("error", err))
		os.Exit(1)
	}
	relayTask, err := jobs.NewOutboxRelayTask(0)
	if err != nil {
		logger.Error("build relay task", slog.Any("error", err))
		os.Exit(1)
	}

	pruneTask, err := jobs.NewIdempotencyPruneTask(jobs.DefaultIdempotencyRetention)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: ledgerJob.Handle},
			{Type: jobs.TaskOutboxRelay, Handler: relayJob.Handle},
			{Type: jobs.TaskIdempotencyPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LedgerCheckCron, Task: ledgerTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.OutboxRelayCron, Task: relayTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(time.Minute)}},
			{Spec: cfg.PruneCron, Task: pruneTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
	}

	logger.Info("starting worker",
		slog.String("ledger_check_cron", cfg.LedgerCheckCron),
		slog.String("outbox_relay_cron", cfg.OutboxRelayCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}
