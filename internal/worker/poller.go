package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/entity"
)

// Reconciler runs one status refresh (implementation: service.Reconciler).
type Reconciler interface {
	ReconcileOnce(ctx context.Context, job *entity.VideoJob) (bool, error)
}

type Poller struct {
	repo        JobRepository
	reconciler  Reconciler
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

func NewPoller(repo JobRepository, reconciler Reconciler, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if maxAttempts <= 0 {
		maxAttempts = 180
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{repo: repo, reconciler: reconciler, interval: interval, maxAttempts: maxAttempts, logger: logger, now: time.Now}
}

// Run reconciles job until it is terminal or the attempt budget is spent.
// Attempts already used before a worker restart are derived from started_at,
// so the budget is per job, not per Run.
func (p *Poller) Run(ctx context.Context, id uuid.UUID) error {
	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	log := p.logger.With("job_id", id, "external_ref", job.ExternalRef())
	attempts := p.remainingAttempts(job)
	log.Info("poller started", "attempts", attempts, "interval", p.interval)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.interval):
			}
			if job, err = p.repo.GetByID(ctx, id); err != nil {
				return err
			}
		}
		if job.Status.Terminal() {
			log.Info("poller finished", "status", job.Status, "attempt", attempt)
			return nil
		}

		terminal, err := p.reconciler.ReconcileOnce(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// transport errors count toward the budget
			log.Warn("poll attempt failed", "attempt", attempt, "err", err)
			continue
		}
		if terminal {
			log.Info("poller finished", "attempt", attempt)
			return nil
		}
	}

	timeout := apperror.New(apperror.CodePollTimeout,
		fmt.Sprintf("rendering backend did not finish within %d status checks", p.maxAttempts))
	err = p.repo.MarkFailed(ctx, id, timeout.Error(), "Polling budget exhausted: "+timeout.Error())
	if err != nil && !isStale(err) {
		return err
	}
	log.Warn("poller timed out", "max_attempts", p.maxAttempts)
	return nil
}

func (p *Poller) remainingAttempts(job *entity.VideoJob) int {
	if job.StartedAt == nil || p.interval <= 0 {
		return p.maxAttempts
	}
	used := int(p.now().Sub(*job.StartedAt) / p.interval)
	if left := p.maxAttempts - used; left > 1 {
		return left
	}
	return 1
}
