package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"video-compiler-service/internal/auth"
	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/config"
	"video-compiler-service/internal/logging"
	"video-compiler-service/internal/repository/postgresql"
	"video-compiler-service/internal/service"
	"video-compiler-service/internal/storage"
)

func newRootCommand() *cobra.Command {
	var configFlag, userFlag string

	ctx := &commandContext{configFlag: &configFlag, userFlag: &userFlag}

	rootCmd := &cobra.Command{
		Use:           "compilectl",
		Short:         "Operate compilation video jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Admin user id the command acts as")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))

	return rootCmd
}

type commandContext struct {
	configFlag *string
	userFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

// caller is the admin the command acts as. The job service checks the role.
func (c *commandContext) caller() (auth.Caller, error) {
	raw := strings.TrimSpace(*c.userFlag)
	if raw == "" {
		return auth.Caller{}, errors.New("--user is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return auth.Caller{}, fmt.Errorf("--user: %w", err)
	}
	return auth.Caller{UserID: id}, nil
}

// services are the dependencies shared by every subcommand.
type services struct {
	cfg     *config.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	repo    *postgresql.JobRepository
	content *postgresql.DrawingRepository
	store   *storage.MinioStore
	jobs    *service.JobService
}

func (s *services) Close() {
	s.pool.Close()
}

// withServices opens the database and store and runs fn. Jobs are never
// enqueued from here: the worker must not pick up a render this process owns.
func (c *commandContext) withServices(ctx context.Context, fn func(*services) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, "text").With("component", "compilectl")

	pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	svc := &services{cfg: cfg, logger: logger, pool: pool}
	defer svc.Close()

	if svc.store, err = storage.NewMinioStore(ctx, cfg.Storage); err != nil {
		return err
	}
	svc.repo = postgresql.NewJobRepository(pool)
	svc.content = postgresql.NewDrawingRepository(pool)

	var be service.Backend
	if cfg.BackendConfigured() {
		opts := backend.OptionsFromConfig(cfg.Backend)
		opts.Transfer = &http.Client{}
		be = backend.NewClient(opts, &http.Client{Timeout: cfg.Backend.Timeout()})
	}
	svc.jobs = service.NewJobService(service.Deps{
		Repo:    svc.repo,
		Content: svc.content,
		Roles:   postgresql.NewProfileRepository(pool),
		Backend: be,
		Reconciler: service.NewReconciler(svc.repo, be, svc.store, service.ReconcilerOptions{
			FinalizeLease:    cfg.Poller.FinalizeLease(),
			TransferAttempts: cfg.Backend.DownloadMaxAttempts,
			TransferTimeout:  cfg.Backend.TransferDeadline(),
		}, logger),
		Logger: logger,
	}, service.Options{
		MaxCommandSeconds: cfg.Backend.MaxCommandSeconds,
		VCPUCount:         cfg.Backend.VCPUCount,
	})

	return fn(svc)
}
