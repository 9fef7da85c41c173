package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/entity"
)

// JobRepository is the job ledger (implementation: postgresql.JobRepository).
// Every transition returns entity.ErrStaleTransition when the row was not in an
// allowed predecessor state.
type JobRepository interface {
	Create(ctx context.Context, in entity.NewVideoJob, message string) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.VideoJob, error)
	ListRecent(ctx context.Context, limit int) ([]*entity.VideoJob, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, externalRef string, progress int, message string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) error
	AppendLog(ctx context.Context, id uuid.UUID, messages ...string) error
	ClaimFinalize(ctx context.Context, id uuid.UUID, lease time.Duration, message string) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, videoPath, message string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText, message string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, message string) error
	GetGenerationStatus(ctx context.Context) (*entity.GenerationStatus, error)
}

// ContentSource lists approved drawings oldest first.
type ContentSource interface {
	ListApproved(ctx context.Context, limit int) ([]entity.Drawing, error)
}

// RoleResolver maps a user to a role. Unknown users return entity.ErrNotFound.
type RoleResolver interface {
	RoleOf(ctx context.Context, userID uuid.UUID) (string, error)
}

// Backend is the rendering service (implementation: backend.Client).
type Backend interface {
	Dispatch(ctx context.Context, cmd backend.Command) (string, error)
	Status(ctx context.Context, ref string) (*backend.StatusReport, []backend.Attempt, error)
	Cancel(ctx context.Context, ref string) (*backend.CancelResult, error)
	Cleanup(ctx context.Context, ref string) error
	OpenOutput(ctx context.Context, outputURL string) (io.ReadCloser, int64, error)
	CancelEnabled() bool
}

// ArtifactStore stores rendered videos (implementation: storage.MinioStore).
type ArtifactStore interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
}

// JobQueue hands job ids to the worker. Queue in queue_service.go is the full
// worker-side contract.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}
