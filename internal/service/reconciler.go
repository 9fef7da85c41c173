package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/entity"
)

// Backend progress is mapped into this band of the job's overall progress.
const (
	backendProgressFloor = 60
	backendProgressSpan  = 30
)

type ReconcilerOptions struct {
	// FinalizeLease bounds how long a finalize claim blocks other callers.
	FinalizeLease time.Duration
	// TransferAttempts is the per-call retry budget for artifact download and upload.
	TransferAttempts int
	// RetryInitial is the first backoff interval between transfer attempts.
	RetryInitial time.Duration
	// TransferTimeout bounds each artifact download attempt.
	TransferTimeout time.Duration
}

// Reconciler performs one refresh of a backend job against the rendering
// service. It is safe to run concurrently for the same job: terminal side
// effects happen only for the caller that wins the finalize claim.
type Reconciler struct {
	repo    JobRepository
	backend Backend
	store   ArtifactStore
	opts    ReconcilerOptions
	logger  *slog.Logger
}

func NewReconciler(repo JobRepository, be Backend, store ArtifactStore, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	if opts.FinalizeLease <= 0 {
		opts.FinalizeLease = 5 * time.Minute
	}
	if opts.TransferAttempts <= 0 {
		opts.TransferAttempts = 3
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, backend: be, store: store, opts: opts, logger: logger}
}

// ReconcileOnce queries the backend once and applies the outcome to the
// ledger. It reports whether the job is terminal afterwards. A returned error
// is a failed attempt (for example BACKEND_UNREACHABLE); the job itself is
// left for the next attempt.
func (r *Reconciler) ReconcileOnce(ctx context.Context, job *entity.VideoJob) (bool, error) {
	if job.Status.Terminal() {
		return true, nil
	}
	ref := job.ExternalRef()
	if job.RenderMode == entity.RenderModeLocal || ref == "" || r.backend == nil {
		return false, nil
	}
	log := r.logger.With("job_id", job.ID, "external_ref", ref)

	report, failures, err := r.backend.Status(ctx, ref)
	msgs := make([]string, 0, len(failures)+1)
	for _, f := range failures {
		msgs = append(msgs, "Status endpoint failed: "+f.String())
	}
	if err != nil {
		msgs = append(msgs, "Status query failed: "+err.Error())
		r.appendLog(ctx, job, msgs...)
		log.Warn("status query failed", "err", err)
		return false, err
	}
	if len(msgs) > 0 {
		r.appendLog(ctx, job, msgs...)
	}

	switch report.Outcome {
	case backend.OutcomeFailed:
		errText := apperror.New(apperror.CodeBackendReportedFailure, report.Error).Error()
		err := r.repo.MarkFailed(ctx, job.ID, errText, "Rendering backend reported failure: "+report.Error)
		if err := r.ignoreStale(err); err != nil {
			return false, err
		}
		log.Info("backend job failed", "status", report.RawStatus, "error", report.Error)
		return true, nil

	case backend.OutcomeSucceeded:
		return r.finalize(ctx, job, report, log)

	default:
		progress := job.Progress
		msg := fmt.Sprintf("Rendering backend status %q", report.RawStatus)
		if report.Progress != nil {
			progress = backendProgressFloor + int(*report.Progress*backendProgressSpan/100)
			msg = fmt.Sprintf("Rendering backend status %q at %.0f%%", report.RawStatus, *report.Progress)
		}
		err := r.repo.UpdateProgress(ctx, job.ID, progress, msg)
		if errors.Is(err, entity.ErrStaleTransition) {
			return true, nil
		}
		return false, err
	}
}

func (r *Reconciler) finalize(ctx context.Context, job *entity.VideoJob, report *backend.StatusReport, log *slog.Logger) (bool, error) {
	if report.OutputURL == "" {
		errText := apperror.New(apperror.CodeBackendReportedFailure,
			"rendering backend reported success without an output location").Error()
		err := r.repo.MarkFailed(ctx, job.ID, errText, "Backend reported "+report.RawStatus+" but returned no output location")
		return true, r.ignoreStale(err)
	}

	won, err := r.repo.ClaimFinalize(ctx, job.ID, r.opts.FinalizeLease,
		fmt.Sprintf("Backend reported %q, finalizing output", report.RawStatus))
	if err != nil {
		return false, err
	}
	if !won {
		// Another caller is finalizing or the job already left processing.
		log.Debug("finalize claim lost")
		return false, nil
	}

	path := entity.ArtifactPath(job.JobType, "mp4", job.FPS)
	url, err := r.transfer(ctx, report.OutputURL, path)
	if err != nil {
		errText := apperror.Wrap(apperror.CodeArtifactUploadFailure, "store rendered artifact", err).Error()
		mErr := r.repo.MarkFailed(ctx, job.ID, errText, "Artifact transfer failed: "+err.Error())
		log.Error("artifact transfer failed", "err", err)
		return true, r.ignoreStale(mErr)
	}

	err = r.repo.MarkCompleted(ctx, job.ID, url, "Video uploaded to "+path)
	if errors.Is(err, entity.ErrStaleTransition) {
		r.appendLog(ctx, job, "Upload finished after the job left processing; result not recorded")
		return true, nil
	}
	if err != nil {
		return false, err
	}
	log.Info("backend job completed", "video_path", url)

	if err := r.backend.Cleanup(ctx, job.ExternalRef()); err != nil {
		r.appendLog(ctx, job, "Remote cleanup failed: "+err.Error())
		log.Warn("remote cleanup failed", "err", err)
	} else {
		r.appendLog(ctx, job, "Remote files released")
	}
	return true, nil
}

// transfer downloads the backend output to a scratch file and uploads it to
// the artifact store. Each step is retried on its own.
func (r *Reconciler) transfer(ctx context.Context, outputURL, path string) (string, error) {
	tmp, err := os.CreateTemp("", "render-output-*.mp4")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil {
			r.logger.Warn("remove scratch output", "path", tmp.Name(), "err", err)
		}
	}()

	size, err := backoff.Retry(ctx, func() (int64, error) {
		if err := reset(tmp); err != nil {
			return 0, backoff.Permanent(err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.TransferTimeout)
		defer cancel()
		body, _, err := r.backend.OpenOutput(attemptCtx, outputURL)
		if err != nil {
			return 0, err
		}
		defer body.Close()
		return io.Copy(tmp, body)
	}, r.retryOpts("download")...)
	if err != nil {
		return "", fmt.Errorf("download output: %w", err)
	}
	if size == 0 {
		return "", errors.New("download output: empty body")
	}

	url, err := backoff.Retry(ctx, func() (string, error) {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return "", backoff.Permanent(err)
		}
		return r.store.Upload(ctx, path, tmp, size, entity.ContentTypeFor("mp4"))
	}, r.retryOpts("upload")...)
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return url, nil
}

func (r *Reconciler) retryOpts(step string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryInitial
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.TransferAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("artifact "+step+" retry", "err", err, "next", next)
		}),
	}
}

func reset(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

func (r *Reconciler) appendLog(ctx context.Context, job *entity.VideoJob, msgs ...string) {
	if err := r.repo.AppendLog(ctx, job.ID, msgs...); err != nil {
		r.logger.Warn("append job log", "job_id", job.ID, "err", err)
	}
}

// ignoreStale treats losing a transition race as success: the row already
// holds a terminal state written by someone else.
func (r *Reconciler) ignoreStale(err error) error {
	if errors.Is(err, entity.ErrStaleTransition) {
		return nil
	}
	return err
}
