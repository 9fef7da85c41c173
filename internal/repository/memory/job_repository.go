// Package memory is an in-process job ledger with the same conditional
// transition rules as the postgresql repository. It backs tests and
// single-process tools.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"video-compiler-service/internal/entity"
)

type JobRepository struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*entity.VideoJob
	order  []uuid.UUID
	status entity.GenerationStatus
	now    func() time.Time
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: map[uuid.UUID]*entity.VideoJob{}, now: time.Now}
}

// Put stores a copy of job, replacing any row with the same id.
func (r *JobRepository) Put(job *entity.VideoJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = clone(job)
}

func (r *JobRepository) Create(_ context.Context, in entity.NewVideoJob, message string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	job := &entity.VideoJob{
		ID:         uuid.New(),
		JobType:    in.JobType,
		RenderMode: in.RenderMode,
		MaxFrames:  in.MaxFrames,
		FPS:        in.FPS,
		FrameCount: in.FrameCount,
		Status:     entity.StatusPending,
		Logs:       []entity.LogEntry{{Timestamp: now, Message: message}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return job.ID, nil
}

func (r *JobRepository) GetByID(_ context.Context, id uuid.UUID) (*entity.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return clone(job), nil
}

func (r *JobRepository) ListRecent(_ context.Context, limit int) ([]*entity.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.VideoJob, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clone(r.jobs[r.order[i]]))
	}
	return out, nil
}

func (r *JobRepository) ListActive(_ context.Context) ([]*entity.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.VideoJob
	for _, id := range r.order {
		if j := r.jobs[id]; !j.Status.Terminal() {
			out = append(out, clone(j))
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r *JobRepository) MarkDispatched(_ context.Context, id uuid.UUID, ref string, progress int, message string) error {
	return r.update(id, func(j *entity.VideoJob, now time.Time) bool {
		if j.Status != entity.StatusPending || j.ExternalJobRef != nil {
			return false
		}
		j.ExternalJobRef = &ref
		j.Status = entity.StatusProcessing
		j.StartedAt = &now
		j.Progress = max(j.Progress, progress)
		return true
	}, message)
}

func (r *JobRepository) MarkStarted(_ context.Context, id uuid.UUID, message string) error {
	return r.update(id, func(j *entity.VideoJob, now time.Time) bool {
		if j.Status != entity.StatusPending {
			return false
		}
		j.Status = entity.StatusProcessing
		j.StartedAt = &now
		return true
	}, message)
}

func (r *JobRepository) SetFrameCount(_ context.Context, id uuid.UUID, frames int) error {
	return r.update(id, func(j *entity.VideoJob, _ time.Time) bool {
		if j.Status != entity.StatusProcessing {
			return false
		}
		j.FrameCount = frames
		return true
	})
}

func (r *JobRepository) UpdateProgress(_ context.Context, id uuid.UUID, progress int, message string) error {
	return r.update(id, func(j *entity.VideoJob, _ time.Time) bool {
		if j.Status != entity.StatusProcessing {
			return false
		}
		j.Progress = max(j.Progress, min(progress, 100))
		return true
	}, message)
}

func (r *JobRepository) AppendLog(_ context.Context, id uuid.UUID, messages ...string) error {
	if len(messages) == 0 {
		return nil
	}
	err := r.update(id, func(*entity.VideoJob, time.Time) bool { return true }, messages...)
	if errors.Is(err, entity.ErrStaleTransition) {
		return entity.ErrNotFound
	}
	return err
}

func (r *JobRepository) ClaimFinalize(_ context.Context, id uuid.UUID, lease time.Duration, message string) (bool, error) {
	err := r.update(id, func(j *entity.VideoJob, now time.Time) bool {
		if j.Status != entity.StatusProcessing {
			return false
		}
		if j.FinalizeClaimedAt != nil && !j.FinalizeClaimedAt.Before(now.Add(-lease)) {
			return false
		}
		j.FinalizeClaimedAt = &now
		return true
	}, message)
	if errors.Is(err, entity.ErrStaleTransition) {
		return false, nil
	}
	return err == nil, err
}

func (r *JobRepository) MarkCompleted(_ context.Context, id uuid.UUID, videoPath, message string) error {
	if videoPath == "" {
		return errors.New("mark completed: video path is required")
	}
	return r.update(id, complete(videoPath), message)
}

func (r *JobRepository) CompleteLocal(_ context.Context, id uuid.UUID, videoPath string, processed int, lastDrawing *uuid.UUID, message string) error {
	if videoPath == "" {
		return errors.New("complete local: video path is required")
	}
	err := r.update(id, complete(videoPath), message)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = entity.GenerationStatus{ProcessedCount: processed, LastProcessedDrawingID: lastDrawing, UpdatedAt: r.now().UTC()}
	return nil
}

func (r *JobRepository) MarkFailed(_ context.Context, id uuid.UUID, errText, message string) error {
	return r.update(id, func(j *entity.VideoJob, now time.Time) bool {
		if j.Status.Terminal() {
			return false
		}
		j.Status = entity.StatusFailed
		j.ErrorMessage = &errText
		j.CompletedAt = &now
		j.FinalizeClaimedAt = nil
		return true
	}, message)
}

func (r *JobRepository) MarkCancelled(ctx context.Context, id uuid.UUID, message string) error {
	return r.MarkFailed(ctx, id, entity.CancelledByAdmin, message)
}

func (r *JobRepository) GetGenerationStatus(context.Context) (*entity.GenerationStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	return &st, nil
}

func complete(videoPath string) func(*entity.VideoJob, time.Time) bool {
	return func(j *entity.VideoJob, now time.Time) bool {
		if j.Status != entity.StatusProcessing {
			return false
		}
		j.Status = entity.StatusCompleted
		j.VideoPath = &videoPath
		j.Progress = 100
		j.CompletedAt = &now
		j.FinalizeClaimedAt = nil
		j.ErrorMessage = nil
		return true
	}
}

// update applies fn under the lock and appends messages when fn reports the
// row matched.
func (r *JobRepository) update(id uuid.UUID, fn func(*entity.VideoJob, time.Time) bool, messages ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return entity.ErrStaleTransition
	}
	now := r.now().UTC()
	if !fn(j, now) {
		return entity.ErrStaleTransition
	}
	for _, m := range messages {
		j.Logs = append(j.Logs, entity.LogEntry{Timestamp: now, Message: m})
	}
	j.UpdatedAt = now
	return nil
}

func clone(j *entity.VideoJob) *entity.VideoJob {
	c := *j
	c.Logs = append([]entity.LogEntry(nil), j.Logs...)
	return &c
}
