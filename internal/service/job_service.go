package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/auth"
	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/entity"
)

// dispatchProgress is the job progress recorded once the backend accepted the command.
const dispatchProgress = 50

type Deps struct {
	Repo    JobRepository
	Content ContentSource
	Roles   RoleResolver
	// Backend is nil when no rendering service is configured; every job then
	// runs on the local renderer.
	Backend    Backend
	Queue      JobQueue
	Reconciler *Reconciler
	Logger     *slog.Logger
}

type Options struct {
	MaxCommandSeconds int
	VCPUCount         int
}

type JobService struct {
	repo       JobRepository
	content    ContentSource
	roles      RoleResolver
	backend    Backend
	queue      JobQueue
	reconciler *Reconciler
	opts       Options
	logger     *slog.Logger
}

func NewJobService(deps Deps, opts Options) *JobService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		repo:       deps.Repo,
		content:    deps.Content,
		roles:      deps.Roles,
		backend:    deps.Backend,
		queue:      deps.Queue,
		reconciler: deps.Reconciler,
		opts:       opts,
		logger:     logger,
	}
}

type CreateJobRequest struct {
	JobType   string
	MaxFrames int
	FPS       int
	// Local asks for the in-process renderer even when a backend is configured.
	Local bool
}

// CreateJob validates the request, selects frames and dispatches the render.
// Errors before the row exists leave no trace; once the row exists every
// failure is recorded on it and the id is returned alongside the error.
func (s *JobService) CreateJob(ctx context.Context, caller auth.Caller, req CreateJobRequest) (uuid.UUID, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return uuid.Nil, err
	}

	jobType, err := entity.ParseJobType(req.JobType)
	if err != nil {
		return uuid.Nil, err
	}
	maxFrames, fps, err := entity.NormalizeParams(jobType, req.MaxFrames, req.FPS)
	if err != nil {
		return uuid.Nil, err
	}

	drawings, err := s.content.ListApproved(ctx, maxFrames)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list approved drawings: %w", err)
	}
	if len(drawings) > maxFrames {
		drawings = drawings[:maxFrames]
	}

	mode := entity.RenderModeBackend
	if req.Local || s.backend == nil {
		mode = entity.RenderModeLocal
	}
	if mode == entity.RenderModeBackend && len(drawings) == 0 {
		return uuid.Nil, apperror.New(apperror.CodeNoContent, "no approved drawings available")
	}

	id, err := s.repo.Create(ctx, entity.NewVideoJob{
		JobType:    jobType,
		RenderMode: mode,
		MaxFrames:  maxFrames,
		FPS:        fps,
		FrameCount: len(drawings),
	}, fmt.Sprintf("Job created: %s, %d frames at %d fps (%s)", jobType, len(drawings), fps, mode))
	if err != nil {
		return uuid.Nil, err
	}
	log := s.logger.With("job_id", id, "job_type", jobType, "render_mode", mode)
	// The row exists: finish dispatch and record the outcome even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if mode == entity.RenderModeLocal {
		s.enqueue(ctx, id, log)
		log.Info("local job created", "frames", len(drawings))
		return id, nil
	}

	urls := make([]string, len(drawings))
	for i, d := range drawings {
		urls[i] = d.ImageURL
	}
	cmd, err := backend.BuildCommand(urls, backend.CommandOptions{
		FPS:           fps,
		OutputName:    fmt.Sprintf("%s_%dfps.mp4", jobType, fps),
		MaxRunSeconds: s.opts.MaxCommandSeconds,
		VCPUCount:     s.opts.VCPUCount,
	})
	if err != nil {
		return id, s.failJob(ctx, id, apperror.Wrap(apperror.CodeDispatchFailure, "build command", err), log)
	}

	ref, err := s.backend.Dispatch(ctx, cmd)
	if err != nil {
		return id, s.failJob(ctx, id, err, log)
	}

	msg := fmt.Sprintf("Dispatched to rendering backend as %s (%.1fs video)", ref, cmd.TotalDuration)
	if err := s.repo.MarkDispatched(ctx, id, ref, dispatchProgress, msg); err != nil {
		return id, s.failJob(ctx, id, fmt.Errorf("record dispatch: %w", err), log)
	}
	log.Info("job dispatched", "external_ref", ref, "frames", cmd.FrameCount)

	s.enqueue(ctx, id, log)
	return id, nil
}

// enqueue hands the job to the worker. A failure is logged on the row only:
// the worker recovery sweep and status reads still drive the job.
func (s *JobService) enqueue(ctx context.Context, id uuid.UUID, log *slog.Logger) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		log.Error("enqueue job", "err", err)
		if lErr := s.repo.AppendLog(ctx, id, "Enqueue for background processing failed: "+err.Error()); lErr != nil {
			log.Error("append job log", "err", lErr)
		}
	}
}

func (s *JobService) failJob(ctx context.Context, id uuid.UUID, cause error, log *slog.Logger) error {
	log.Error("job failed", "err", cause)
	if err := s.repo.MarkFailed(ctx, id, cause.Error(), "Job failed: "+cause.Error()); err != nil &&
		!errors.Is(err, entity.ErrStaleTransition) {
		log.Error("mark job failed", "err", err)
	}
	return cause
}

// GetJob returns the job after one reconciliation pass for active backend jobs.
// Reconciliation errors are recorded on the row, not returned.
func (s *JobService) GetJob(ctx context.Context, caller auth.Caller, id uuid.UUID) (*entity.VideoJob, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || job.RenderMode != entity.RenderModeBackend || job.ExternalRef() == "" || s.reconciler == nil {
		return job, nil
	}
	if _, err := s.reconciler.ReconcileOnce(ctx, job); err != nil {
		s.logger.Warn("reconcile on read", "job_id", id, "err", err)
	}
	return s.getJob(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, caller auth.Caller, limit int) ([]*entity.VideoJob, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListRecent(ctx, limit)
}

// GenerationStatus returns the legacy counter of the last local render.
func (s *JobService) GenerationStatus(ctx context.Context, caller auth.Caller) (*entity.GenerationStatus, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	return s.repo.GetGenerationStatus(ctx)
}

// CancelJob asks the backend to stop (advisory) and fails the job locally.
func (s *JobService) CancelJob(ctx context.Context, caller auth.Caller, id uuid.UUID) (*entity.VideoJob, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return nil, err
	}
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, apperror.New(apperror.CodeInvalidState, fmt.Sprintf("job is already %s", job.Status))
	}
	log := s.logger.With("job_id", id)

	if ref := job.ExternalRef(); ref != "" && s.backend != nil {
		if msg := s.cancelRemote(ctx, ref); msg != "" {
			if err := s.repo.AppendLog(ctx, id, msg); err != nil {
				log.Warn("append job log", "err", err)
			}
		}
	}

	err = s.repo.MarkCancelled(ctx, id, "Job cancelled by admin "+caller.UserID.String())
	if errors.Is(err, entity.ErrStaleTransition) {
		current, gErr := s.getJob(ctx, id)
		if gErr != nil {
			return nil, gErr
		}
		if lErr := s.repo.AppendLog(ctx, id, fmt.Sprintf("Cancel ignored: job already %s", current.Status)); lErr != nil {
			log.Warn("append job log", "err", lErr)
		}
		return nil, apperror.New(apperror.CodeInvalidState, fmt.Sprintf("job is already %s", current.Status))
	}
	if err != nil {
		return nil, err
	}
	log.Info("job cancelled", "by", caller.UserID)
	return s.getJob(ctx, id)
}

// cancelRemote returns the log line describing the remote cancel outcome.
func (s *JobService) cancelRemote(ctx context.Context, ref string) string {
	if !s.backend.CancelEnabled() {
		return "Remote cancel skipped: no backend API key configured"
	}
	res, err := s.backend.Cancel(ctx, ref)
	if err != nil {
		return "Remote cancel failed: " + err.Error()
	}
	if len(res.Failures) > 0 {
		return fmt.Sprintf("Remote cancel accepted by %s after %d failed attempts", res.Endpoint, len(res.Failures))
	}
	return "Remote cancel accepted by " + res.Endpoint
}

func (s *JobService) getJob(ctx context.Context, id uuid.UUID) (*entity.VideoJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, apperror.New(apperror.CodeNotFound, "job not found")
	}
	return job, err
}

func (s *JobService) authorize(ctx context.Context, caller auth.Caller) error {
	if caller.UserID == uuid.Nil {
		return apperror.New(apperror.CodeUnauthorized, "authentication required")
	}
	role, err := s.roles.RoleOf(ctx, caller.UserID)
	if errors.Is(err, entity.ErrNotFound) {
		return apperror.New(apperror.CodeForbidden, "admin role required")
	}
	if err != nil {
		return fmt.Errorf("resolve role: %w", err)
	}
	if role != auth.RoleAdmin {
		return apperror.New(apperror.CodeForbidden, "admin role required")
	}
	return nil
}
