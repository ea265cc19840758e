package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-fulfillment/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/app"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/migrate"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/reconcile"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

const usage = `usage: odyssey [serve | migrate <up|down|status|redo|version> | jobs <trigger NAME|stats|scheduled>]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, args)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		err = errors.New(usage)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, cfg *app.Config, args []string) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	command := "up"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	return migrate.Run(ctx, pool, command, args...)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s %s next=%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return errors.New(usage)
	}
	return nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

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
	runner := db.NewTxRunner(dbpool, cfg.TxMaxAttempts)
	auditLogger := shared.NewAuditLogger(dbpool)
	ledger := inventory.NewLedger(inventory.LedgerConfig{AllowNegativeStock: cfg.AllowNegativeStock})
	numbers := sequence.NewSequencer(sequenceCounter(cfg, dbpool, redisClient), 6)
	directory := masterdata.NewDirectory(masterdata.NewRepository(dbpool))

	inventoryService := inventory.NewService(inventory.ServiceParams{
		Repo:        inventory.NewRepository(dbpool, runner),
		Ledger:      ledger,
		Audit:       auditLogger,
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Cache:       inventory.NewStockCache(redisClient, cfg.StockCacheTTL),
		Metrics:     metrics,
		Logger:      logger,
	})
	coordinator := reconcile.NewCoordinator(reconcile.Params{
		UnitOfWork:       reconcile.NewRepository(runner),
		Ledger:           ledger,
		Notifier:         inventoryService,
		Metrics:          metrics,
		Logger:           logger,
		AllowOverReceipt: cfg.AllowOverReceipt,
	})
	procurementService := procurement.NewService(procurement.ServiceParams{
		Repo:             procurement.NewRepository(dbpool, runner),
		Numbers:          numbers,
		Suppliers:        directory,
		Reconciler:       coordinator,
		Audit:            auditLogger,
		Metrics:          metrics,
		Logger:           logger,
		AllowOverReceipt: cfg.AllowOverReceipt,
	})
	salesService := sales.NewService(sales.ServiceParams{
		Repo:      sales.NewRepository(dbpool, runner),
		Ledger:    ledger,
		Numbers:   numbers,
		Customers: directory,
		Shipper:   coordinator,
		Notifier:  inventoryService,
		Audit:     auditLogger,
		Metrics:   metrics,
		Logger:    logger,
		Policy:    sales.DecrementPolicy(cfg.SalesStockDecrement),
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               dbpool,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		MasterDataHandler:  masterdata.NewHandler(logger, directory),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("stock_decrement", cfg.SalesStockDecrement))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func sequenceCounter(cfg *app.Config, pool *pgxpool.Pool, client *redis.Client) sequence.Counter {
	if cfg.SequenceBackend == "redis" {
		return sequence.NewRedisCounter(client)
	}
	return sequence.NewPostgresCounter(pool)
}
