package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/render"
)

// Renderer runs a local render (implementation: render.Renderer).
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
}

// ContentSource lists approved drawings oldest first.
type ContentSource interface {
	ListApproved(ctx context.Context, limit int) ([]entity.Drawing, error)
}

// ledgerProgressStep is the minimum percentage gain written to the ledger
// between stage changes.
const ledgerProgressStep = 5

// failureLogLines is how many trailing render log lines a failed job keeps.
const failureLogLines = 10

// errJobClosed stops a local render whose job left processing meanwhile
// (admin cancel, recovery sweep).
var errJobClosed = errors.New("job is no longer processing")

// LocalRunner executes local-mode jobs with the fallback renderer and records
// the outcome on the job row.
type LocalRunner struct {
	repo     JobRepository
	content  ContentSource
	renderer Renderer
	logger   *slog.Logger
}

func NewLocalRunner(repo JobRepository, content ContentSource, renderer Renderer, logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{repo: repo, content: content, renderer: renderer, logger: logger}
}

func (l *LocalRunner) Run(ctx context.Context, job *entity.VideoJob) error {
	log := l.logger.With("job_id", job.ID, "render_mode", job.RenderMode)

	if job.Status == entity.StatusPending {
		if err := l.repo.MarkStarted(ctx, job.ID, "Local render started"); err != nil {
			if isStale(err) {
				return nil
			}
			return err
		}
	} else {
		// interrupted earlier; the artifact path is overwritten so rendering again is safe
		if err := l.repo.AppendLog(ctx, job.ID, "Local render restarted"); err != nil {
			return err
		}
	}

	drawings, err := l.content.ListApproved(ctx, job.MaxFrames)
	if err != nil {
		return l.fail(ctx, job, fmt.Errorf("list approved drawings: %w", err), nil, log)
	}
	if len(drawings) > job.MaxFrames {
		drawings = drawings[:job.MaxFrames]
	}
	if err := l.repo.SetFrameCount(ctx, job.ID, len(drawings)); err != nil && !isStale(err) {
		return err
	}

	var (
		lastStage   render.Stage
		lastPercent int
	)
	renderCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	res, err := l.renderer.Render(renderCtx, render.Request{
		JobType:  job.JobType,
		FPS:      job.FPS,
		Drawings: drawings,
		OnProgress: func(p render.Progress) {
			if p.Stage == lastStage && p.Percent-lastPercent < ledgerProgressStep {
				return
			}
			lastStage, lastPercent = p.Stage, p.Percent
			msg := fmt.Sprintf("Local render %s: %s", p.Stage, p.Message)
			err := l.repo.UpdateProgress(ctx, job.ID, p.Percent, msg)
			switch {
			case isStale(err):
				stop(errJobClosed)
			case err != nil:
				log.Warn("record local progress", "err", err)
			}
		},
		BeforeUpload: func(ctx context.Context) error {
			current, err := l.repo.GetByID(ctx, job.ID)
			if err != nil {
				return fmt.Errorf("re-check job before upload: %w", err)
			}
			if current.Status != entity.StatusProcessing {
				return fmt.Errorf("%w: %s", errJobClosed, current.Status)
			}
			return nil
		},
	})
	if err != nil && (errors.Is(err, errJobClosed) || errors.Is(context.Cause(renderCtx), errJobClosed)) {
		log.Info("local render stopped", "reason", "job left processing")
		l.appendLog(ctx, job.ID, log, "Local render stopped: job left processing before upload")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.fail(ctx, job, err, res, log)
	}

	msg := fmt.Sprintf("Local render uploaded %s (%d frames, %d skipped, %.1fs)",
		res.ArtifactPath, res.FrameCount, res.Skipped, res.Duration)
	err = l.repo.CompleteLocal(ctx, job.ID, res.URL, res.FrameCount, res.LastDrawingID, msg)
	if isStale(err) {
		l.appendLog(ctx, job.ID, log, "Local render finished after the job left processing; result not recorded")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("local render completed", "frames", res.FrameCount, "video_path", res.URL)
	return nil
}

func (l *LocalRunner) fail(ctx context.Context, job *entity.VideoJob, cause error, res *render.Result, log *slog.Logger) error {
	log.Error("local render failed", "err", cause)
	if res != nil && len(res.Logs) > 0 {
		tail := res.Logs
		if len(tail) > failureLogLines {
			tail = tail[len(tail)-failureLogLines:]
		}
		lines := make([]string, len(tail))
		for i, line := range tail {
			lines[i] = "Render log: " + line
		}
		l.appendLog(ctx, job.ID, log, lines...)
	}
	err := l.repo.MarkFailed(ctx, job.ID, cause.Error(), "Local render failed: "+cause.Error())
	if err != nil && !isStale(err) {
		return errors.Join(cause, err)
	}
	return nil
}

func (l *LocalRunner) appendLog(ctx context.Context, id uuid.UUID, log *slog.Logger, messages ...string) {
	if err := l.repo.AppendLog(ctx, id, messages...); err != nil {
		log.Warn("append job log", "err", err)
	}
}
