// @title Video compiler admin API
// @version 1.0
// @description Creates, inspects and cancels compilation video jobs.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"video-compiler-service/internal/auth"
	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/config"
	"video-compiler-service/internal/logging"
	"video-compiler-service/internal/repository/postgresql"
	"video-compiler-service/internal/service"
	"video-compiler-service/internal/storage"
	"video-compiler-service/internal/telemetry"
	httptransport "video-compiler-service/internal/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("component", "api")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, "api")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgresql.Migrate(ctx, pool); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	store, err := storage.NewMinioStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	repo := postgresql.NewJobRepository(pool)

	var be service.Backend
	if cfg.BackendConfigured() {
		opts := backend.OptionsFromConfig(cfg.Backend)
		opts.Transfer = &http.Client{}
		be = backend.NewClient(opts, &http.Client{Timeout: cfg.Backend.Timeout()})
	} else {
		logger.Warn("no rendering backend configured, jobs render locally")
	}

	jobSvc := service.NewJobService(service.Deps{
		Repo:    repo,
		Content: postgresql.NewDrawingRepository(pool),
		Roles:   postgresql.NewProfileRepository(pool),
		Backend: be,
		Queue:   service.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.ProcessingKey),
		Reconciler: service.NewReconciler(repo, be, store, service.ReconcilerOptions{
			FinalizeLease:    cfg.Poller.FinalizeLease(),
			TransferAttempts: cfg.Backend.DownloadMaxAttempts,
			TransferTimeout:  cfg.Backend.TransferDeadline(),
		}, logger),
		Logger: logger,
	}, service.Options{
		MaxCommandSeconds: cfg.Backend.MaxCommandSeconds,
		VCPUCount:         cfg.Backend.VCPUCount,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.Routes(httptransport.NewHandler(jobSvc), verifier, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.HTTP.Addr, "postgres_dsn", logging.RedactDSN(cfg.Postgres.DSN))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
