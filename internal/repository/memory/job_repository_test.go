package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/repository/memory"
)

func TestJobRepository_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewJobRepository()
	id, _ := repo.Create(ctx, entity.NewVideoJob{JobType: entity.JobTypeDaily, FPS: 10}, "created")

	if err := repo.MarkCompleted(ctx, id, "https://x/v.mp4", "done"); !errors.Is(err, entity.ErrStaleTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}
	if err := repo.MarkDispatched(ctx, id, "ref-1", 50, "dispatched"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := repo.MarkDispatched(ctx, id, "ref-2", 50, "again"); !errors.Is(err, entity.ErrStaleTransition) {
		t.Fatalf("second dispatch must be rejected, got %v", err)
	}
	if err := repo.MarkCompleted(ctx, id, "", "done"); err == nil {
		t.Fatal("completing without a video path must fail")
	}
	if err := repo.MarkCompleted(ctx, id, "https://x/v.mp4", "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := repo.MarkFailed(ctx, id, "late", "late failure"); !errors.Is(err, entity.ErrStaleTransition) {
		t.Fatalf("completed -> failed must be rejected, got %v", err)
	}

	j, _ := repo.GetByID(ctx, id)
	if j.Status != entity.StatusCompleted || j.ExternalRef() != "ref-1" || j.ErrorMessage != nil {
		t.Fatalf("unexpected final row: %+v", j)
	}
	if len(j.Logs) != 3 {
		t.Fatalf("expected one log entry per applied transition, got %d", len(j.Logs))
	}
}

func TestJobRepository_ClaimFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewJobRepository()
	id, _ := repo.Create(ctx, entity.NewVideoJob{JobType: entity.JobTypeDaily, FPS: 10}, "created")
	_ = repo.MarkDispatched(ctx, id, "ref", 50, "dispatched")

	first, err := repo.ClaimFinalize(ctx, id, time.Minute, "claim")
	if err != nil || !first {
		t.Fatalf("expected first claim to win: %v %v", first, err)
	}
	second, err := repo.ClaimFinalize(ctx, id, time.Minute, "claim")
	if err != nil || second {
		t.Fatalf("expected second claim to lose: %v %v", second, err)
	}
}
