package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"video-compiler-service/internal/entity"
)

// JobRepository is the subset of the job ledger used by the worker
// (implementation: postgresql.JobRepository).
type JobRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.VideoJob, error)
	ListActive(ctx context.Context) ([]*entity.VideoJob, error)
	MarkStarted(ctx context.Context, id uuid.UUID, message string) error
	SetFrameCount(ctx context.Context, id uuid.UUID, frames int) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) error
	AppendLog(ctx context.Context, id uuid.UUID, messages ...string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText, message string) error
	CompleteLocal(ctx context.Context, id uuid.UUID, videoPath string, processed int, lastDrawing *uuid.UUID, message string) error
}

// Processor routes a claimed job id to the poller or the local runner.
type Processor struct {
	repo   JobRepository
	poller *Poller
	local  *LocalRunner
	logger *slog.Logger
}

func NewProcessor(repo JobRepository, poller *Poller, local *LocalRunner, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{repo: repo, poller: poller, local: local, logger: logger}
}

func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.logger.Warn("invalid job id on queue", "job_id", jobID, "err", err)
		return nil
	}
	job, err := p.repo.GetByID(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		p.logger.Warn("queued job does not exist", "job_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	log := p.logger.With("job_id", id, "render_mode", job.RenderMode)
	switch job.RenderMode {
	case entity.RenderModeLocal:
		if p.local == nil {
			err = p.repo.MarkFailed(ctx, id, "local renderer is not available on this worker", "Local render unavailable")
			break
		}
		err = p.local.Run(ctx, job)
	default:
		err = p.poller.Run(ctx, id)
	}
	if err != nil {
		log.Error("process job", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	log.Info("job processed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func isStale(err error) bool {
	return errors.Is(err, entity.ErrStaleTransition)
}
