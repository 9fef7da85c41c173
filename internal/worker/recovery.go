package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/service"
)

// RecoveryResult summarizes one recovery sweep.
type RecoveryResult struct {
	Requeued    int64
	Enqueued    int
	Interrupted int
}

// Recover runs before the pool claims anything. It returns queue entries
// orphaned by a crashed worker, re-enqueues every non-terminal job, and fails
// backend jobs whose dispatch never completed within grace.
func Recover(ctx context.Context, repo JobRepository, queue service.Queue, grace time.Duration, logger *slog.Logger) (RecoveryResult, error) {
	var res RecoveryResult
	if logger == nil {
		logger = slog.Default()
	}

	moved, err := queue.RequeueStale(ctx, 1000)
	if err != nil {
		return res, fmt.Errorf("requeue stale: %w", err)
	}
	res.Requeued = moved

	jobs, err := repo.ListActive(ctx)
	if err != nil {
		return res, err
	}
	now := time.Now()
	for _, job := range jobs {
		if job.RenderMode == entity.RenderModeBackend && job.ExternalRef() == "" {
			if now.Sub(job.CreatedAt) < grace {
				continue
			}
			e := apperror.New(apperror.CodeDispatchFailure, "dispatch was interrupted before the backend returned a reference")
			if err := repo.MarkFailed(ctx, job.ID, e.Error(), "Recovery: "+e.Error()); err != nil && !isStale(err) {
				return res, err
			}
			res.Interrupted++
			continue
		}
		if err := queue.Enqueue(ctx, job.ID.String()); err != nil {
			return res, fmt.Errorf("enqueue %s: %w", job.ID, err)
		}
		res.Enqueued++
	}
	logger.Info("recovery sweep finished", "requeued", res.Requeued, "enqueued", res.Enqueued, "interrupted", res.Interrupted)
	return res, nil
}
