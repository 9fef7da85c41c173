package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"video-compiler-service/internal/entity"
)

// ErrNotFound is kept for callers matching on the repository package.
var ErrNotFound = entity.ErrNotFound

type JobRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool, now: time.Now}
}

const jobColumns = `id, job_type, render_mode, max_frames, fps, frame_count, status, external_job_ref,
progress, video_path, error_message, logs, finalize_claimed_at, created_at, started_at, completed_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, in entity.NewVideoJob, message string) (uuid.UUID, error) {
	const q = `
INSERT INTO video_jobs (job_type, render_mode, max_frames, fps, frame_count, status, logs)
VALUES ($1, $2, $3, $4, $5, 'pending', $6)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q,
		string(in.JobType), string(in.RenderMode), in.MaxFrames, in.FPS, in.FrameCount, r.logPatch(message),
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("insert video job: %w", err)
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.VideoJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video job: %w", err)
	}
	return job, nil
}

// ListRecent returns the newest jobs first.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*entity.VideoJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM video_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListActive returns every non-terminal job, oldest first.
func (r *JobRepository) ListActive(ctx context.Context) ([]*entity.VideoJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE status IN ('pending', 'processing') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active video jobs: %w", err)
	}
	return collectJobs(rows)
}

// MarkDispatched records the backend reference once and moves pending -> processing.
func (r *JobRepository) MarkDispatched(ctx context.Context, id uuid.UUID, externalRef string, progress int, message string) error {
	const q = `
UPDATE video_jobs
SET external_job_ref = $2, status = 'processing', started_at = now(),
    progress = GREATEST(progress, $3), logs = logs || $4, updated_at = now()
WHERE id = $1 AND status = 'pending' AND external_job_ref IS NULL;
`
	return r.transition(ctx, q, id, externalRef, progress, r.logPatch(message))
}

// MarkStarted moves a local job pending -> processing.
func (r *JobRepository) MarkStarted(ctx context.Context, id uuid.UUID, message string) error {
	const q = `
UPDATE video_jobs
SET status = 'processing', started_at = now(), logs = logs || $2, updated_at = now()
WHERE id = $1 AND status = 'pending';
`
	return r.transition(ctx, q, id, r.logPatch(message))
}

func (r *JobRepository) SetFrameCount(ctx context.Context, id uuid.UUID, frames int) error {
	const q = `UPDATE video_jobs SET frame_count = $2, updated_at = now() WHERE id = $1 AND status = 'processing';`
	return r.transition(ctx, q, id, frames)
}

// UpdateProgress raises progress (never lowers it) and appends a log entry.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) error {
	const q = `
UPDATE video_jobs
SET progress = GREATEST(progress, LEAST($2, 100)), logs = logs || $3, updated_at = now()
WHERE id = $1 AND status = 'processing';
`
	return r.transition(ctx, q, id, progress, r.logPatch(message))
}

// AppendLog appends entries regardless of status.
func (r *JobRepository) AppendLog(ctx context.Context, id uuid.UUID, messages ...string) error {
	if len(messages) == 0 {
		return nil
	}
	const q = `UPDATE video_jobs SET logs = logs || $2, updated_at = now() WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id, r.logPatch(messages...))
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimFinalize marks the caller as the one performing terminal side effects.
// It returns false when the job is no longer processing or another caller holds
// an unexpired claim.
func (r *JobRepository) ClaimFinalize(ctx context.Context, id uuid.UUID, lease time.Duration, message string) (bool, error) {
	const q = `
UPDATE video_jobs
SET finalize_claimed_at = now(), logs = logs || $3, updated_at = now()
WHERE id = $1 AND status = 'processing'
  AND (finalize_claimed_at IS NULL OR finalize_claimed_at < now() - make_interval(secs => $2));
`
	tag, err := r.pool.Exec(ctx, q, id, lease.Seconds(), r.logPatch(message))
	if err != nil {
		return false, fmt.Errorf("claim finalize: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, videoPath, message string) error {
	if videoPath == "" {
		return errors.New("mark completed: video path is required")
	}
	return r.transition(ctx, completeSQL, id, videoPath, r.logPatch(message))
}

// CompleteLocal completes a local job and refreshes the legacy counter in one transaction.
func (r *JobRepository) CompleteLocal(ctx context.Context, id uuid.UUID, videoPath string, processed int, lastDrawing *uuid.UUID, message string) error {
	if videoPath == "" {
		return errors.New("complete local: video path is required")
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, completeSQL, id, videoPath, r.logPatch(message))
		if err != nil {
			return fmt.Errorf("complete local job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return entity.ErrStaleTransition
		}
		const counter = `
UPDATE video_generation_status
SET processed_count = $1, last_processed_drawing_id = $2, updated_at = now()
WHERE id = 1;
`
		if _, err := tx.Exec(ctx, counter, processed, lastDrawing); err != nil {
			return fmt.Errorf("update generation status: %w", err)
		}
		return nil
	})
}

// MarkFailed moves a non-terminal job to failed.
func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errText, message string) error {
	const q = `
UPDATE video_jobs
SET status = 'failed', error_message = $2, completed_at = now(), finalize_claimed_at = NULL,
    logs = logs || $3, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing');
`
	return r.transition(ctx, q, id, truncate(errText, 1024), r.logPatch(message))
}

// MarkCancelled fails a non-terminal job with the admin cancellation message.
func (r *JobRepository) MarkCancelled(ctx context.Context, id uuid.UUID, message string) error {
	return r.MarkFailed(ctx, id, entity.CancelledByAdmin, message)
}

func (r *JobRepository) GetGenerationStatus(ctx context.Context) (*entity.GenerationStatus, error) {
	const q = `SELECT processed_count, last_processed_drawing_id, updated_at FROM video_generation_status WHERE id = 1;`
	var st entity.GenerationStatus
	if err := r.pool.QueryRow(ctx, q).Scan(&st.ProcessedCount, &st.LastProcessedDrawingID, &st.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &entity.GenerationStatus{}, nil
		}
		return nil, fmt.Errorf("get generation status: %w", err)
	}
	return &st, nil
}

const completeSQL = `
UPDATE video_jobs
SET status = 'completed', video_path = $2, progress = 100, completed_at = now(),
    finalize_claimed_at = NULL, error_message = NULL, logs = logs || $3, updated_at = now()
WHERE id = $1 AND status = 'processing';
`

func (r *JobRepository) transition(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	return rowsToTransition(tag)
}

func rowsToTransition(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return entity.ErrStaleTransition
	}
	return nil
}

func (r *JobRepository) logPatch(messages ...string) []byte {
	now := r.now().UTC()
	entries := make([]entity.LogEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, entity.LogEntry{Timestamp: now, Message: m})
	}
	b, _ := json.Marshal(entries)
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.VideoJob, error) {
	var (
		job        entity.VideoJob
		jobType    string
		renderMode string
		status     string
		logsBytes  []byte
	)
	if err := row.Scan(
		&job.ID,
		&jobType,
		&renderMode,
		&job.MaxFrames,
		&job.FPS,
		&job.FrameCount,
		&status,
		&job.ExternalJobRef,
		&job.Progress,
		&job.VideoPath,
		&job.ErrorMessage,
		&logsBytes,
		&job.FinalizeClaimedAt,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.JobType = entity.JobType(jobType)
	job.RenderMode = entity.RenderMode(renderMode)
	job.Status = entity.JobStatus(status)
	if len(logsBytes) > 0 {
		if err := json.Unmarshal(logsBytes, &job.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
	}
	if job.Logs == nil {
		job.Logs = []entity.LogEntry{}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*entity.VideoJob, error) {
	defer rows.Close()
	var jobs []*entity.VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
