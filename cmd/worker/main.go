package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/config"
	"video-compiler-service/internal/logging"
	"video-compiler-service/internal/render"
	"video-compiler-service/internal/repository/postgresql"
	"video-compiler-service/internal/service"
	"video-compiler-service/internal/storage"
	"video-compiler-service/internal/telemetry"
	"video-compiler-service/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("component", "worker")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, "worker")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	store, err := storage.NewMinioStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	// DI
	repo := postgresql.NewJobRepository(pool)
	content := postgresql.NewDrawingRepository(pool)
	queue := service.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.ProcessingKey)
	// API calls carry a short client timeout; transfers are bounded per call
	// by context deadlines instead.
	apiClient := &http.Client{Timeout: cfg.Backend.Timeout()}
	transferClient := &http.Client{}

	var be service.Backend
	if cfg.BackendConfigured() {
		opts := backend.OptionsFromConfig(cfg.Backend)
		opts.Transfer = transferClient
		be = backend.NewClient(opts, apiClient)
	}
	reconciler := service.NewReconciler(repo, be, store, service.ReconcilerOptions{
		FinalizeLease:    cfg.Poller.FinalizeLease(),
		TransferAttempts: cfg.Backend.DownloadMaxAttempts,
		TransferTimeout:  cfg.Backend.TransferDeadline(),
	}, logger)
	poller := worker.NewPoller(repo, reconciler, cfg.Poller.Interval(), cfg.Poller.MaxAttempts, logger)

	runtime := render.NewRuntimeLoader(render.DefaultSources(cfg.Local.FFmpegPath, cfg.Local.RuntimeURLs, cfg.Local.CacheDir, transferClient)...)
	renderer := render.NewRenderer(runtime, render.FFmpegEncoder{}, store, transferClient, render.Options{
		WorkDir:       cfg.Local.WorkDir,
		LogBufferSize: cfg.Local.LogBufferSize,
		LockFile:      cfg.Local.LockFile,
		FrameTimeout:  cfg.Local.FrameDeadline(),
	}, logger)
	local := worker.NewLocalRunner(repo, content, renderer, logger)

	processor := worker.NewProcessor(repo, poller, local, logger)
	workers := worker.NewPool(queue, processor, worker.PoolOptions{
		Workers:  cfg.Worker.Count,
		LeaseTTL: cfg.Worker.LeaseTTL(),
	}, logger)

	logger.Info("worker config",
		"workers", cfg.Worker.Count,
		"lease_ttl", cfg.Worker.LeaseTTL(),
		"redis_addr", cfg.Redis.Addr,
		"queue_key", cfg.Redis.QueueKey,
		"processing_key", cfg.Redis.ProcessingKey,
		"postgres_dsn", logging.RedactDSN(cfg.Postgres.DSN),
		"backend", cfg.BackendConfigured(),
	)

	// Jobs left in processing by a previous run go back to the queue before
	// any worker claims.
	res, err := worker.Recover(ctx, repo, queue, 2*cfg.Backend.Timeout(), logger)
	if err != nil {
		return err
	}
	logger.Info("recovery done", "requeued", res.Requeued, "enqueued", res.Enqueued, "interrupted", res.Interrupted)

	workers.Run(ctx)
	return nil
}
