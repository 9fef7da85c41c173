package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/auth"
	"video-compiler-service/internal/backend"
	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/repository/memory"
	"video-compiler-service/internal/service"
)

var (
	admin  = auth.Caller{UserID: uuid.MustParse("11111111-1111-1111-1111-111111111111")}
	editor = auth.Caller{UserID: uuid.MustParse("22222222-2222-2222-2222-222222222222")}
)

type fakeBackend struct {
	mu sync.Mutex

	dispatchRef string
	dispatchErr error
	dispatched  []backend.Command
	onDispatch  func()

	report    *backend.StatusReport
	failures  []backend.Attempt
	statusErr error

	cancelEnabled bool
	cancelErr     error
	cancelCalls   int

	cleanups  int
	downloads int
	// time left on the download context, zero when it had no deadline
	downloadBudget time.Duration
}

func (b *fakeBackend) Dispatch(_ context.Context, cmd backend.Command) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatched = append(b.dispatched, cmd)
	if b.onDispatch != nil {
		b.onDispatch()
	}
	return b.dispatchRef, b.dispatchErr
}

func (b *fakeBackend) Status(context.Context, string) (*backend.StatusReport, []backend.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statusErr != nil {
		return nil, b.failures, b.statusErr
	}
	rep := *b.report
	return &rep, b.failures, nil
}

func (b *fakeBackend) Cancel(context.Context, string) (*backend.CancelResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCalls++
	if b.cancelErr != nil {
		return &backend.CancelResult{}, b.cancelErr
	}
	return &backend.CancelResult{Endpoint: "POST /v1/commands/{id}/cancel"}, nil
}

func (b *fakeBackend) Cleanup(context.Context, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanups++
	return nil
}

func (b *fakeBackend) OpenOutput(ctx context.Context, _ string) (io.ReadCloser, int64, error) {
	b.mu.Lock()
	b.downloads++
	if dl, ok := ctx.Deadline(); ok {
		b.downloadBudget = time.Until(dl)
	}
	b.mu.Unlock()
	// widen the window between claim and completion
	time.Sleep(5 * time.Millisecond)
	return io.NopCloser(strings.NewReader("video-bytes")), 11, nil
}

func (b *fakeBackend) CancelEnabled() bool { return b.cancelEnabled }

type fakeStore struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (s *fakeStore) Upload(_ context.Context, path string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.uploads = append(s.uploads, path)
	return "https://cdn.test/" + path, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type fixture struct {
	repo    *memory.JobRepository
	content *memory.Content
	be      *fakeBackend
	store   *fakeStore
	queue   *fakeQueue
	rec     *service.Reconciler
	svc     *service.JobService
}

func newFixture(t *testing.T, drawings int) *fixture {
	t.Helper()
	f := &fixture{
		repo:    memory.NewJobRepository(),
		content: &memory.Content{},
		be:      &fakeBackend{dispatchRef: "cmd-1", cancelEnabled: true},
		store:   &fakeStore{},
		queue:   &fakeQueue{},
	}
	for i := 0; i < drawings; i++ {
		f.content.Drawings = append(f.content.Drawings, entity.Drawing{
			ID:       uuid.New(),
			ImageURL: fmt.Sprintf("https://img.test/%d.png", i),
		})
	}
	f.rec = service.NewReconciler(f.repo, f.be, f.store, service.ReconcilerOptions{
		FinalizeLease:    time.Minute,
		TransferAttempts: 2,
		RetryInitial:     time.Millisecond,
	}, nil)
	f.svc = service.NewJobService(service.Deps{
		Repo:       f.repo,
		Content:    f.content,
		Roles:      memory.Roles{admin.UserID: auth.RoleAdmin, editor.UserID: "editor"},
		Backend:    f.be,
		Queue:      f.queue,
		Reconciler: f.rec,
	}, service.Options{MaxCommandSeconds: 600, VCPUCount: 2})
	return f
}

func (f *fixture) job(t *testing.T, id uuid.UUID) *entity.VideoJob {
	t.Helper()
	j, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func (f *fixture) processingJob(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := f.svc.CreateJob(context.Background(), admin, service.CreateJobRequest{JobType: "daily", FPS: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func TestCreateJob_ClampsFramesAndDispatches(t *testing.T) {
	f := newFixture(t, 80)

	id, err := f.svc.CreateJob(context.Background(), admin, service.CreateJobRequest{JobType: "daily", MaxFrames: 1000, FPS: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.content.Limits(); len(got) != 1 || got[0] != 50 {
		t.Fatalf("expected content queried with limit 50, got %v", got)
	}
	j := f.job(t, id)
	if j.MaxFrames != 50 || j.FrameCount != 50 {
		t.Fatalf("expected 50 frames, got max=%d count=%d", j.MaxFrames, j.FrameCount)
	}
	if len(f.be.dispatched) != 1 || f.be.dispatched[0].FrameCount != 50 {
		t.Fatalf("expected one dispatch of 50 frames, got %+v", f.be.dispatched)
	}
	if j.Status != entity.StatusProcessing || j.ExternalRef() != "cmd-1" || j.Progress != 50 || j.StartedAt == nil {
		t.Fatalf("unexpected job after dispatch: %+v", j)
	}
	if len(f.queue.ids) != 1 || f.queue.ids[0] != id.String() {
		t.Fatalf("expected job enqueued, got %v", f.queue.ids)
	}
}

func TestCreateJob_NoContentCreatesNoRow(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.svc.CreateJob(context.Background(), admin, service.CreateJobRequest{JobType: "daily"})
	if apperror.CodeOf(err) != apperror.CodeNoContent {
		t.Fatalf("expected NO_CONTENT, got %v", err)
	}
	jobs, _ := f.repo.ListRecent(context.Background(), 10)
	if len(jobs) != 0 || len(f.be.dispatched) != 0 {
		t.Fatalf("expected no job and no dispatch, got %d jobs %d dispatches", len(jobs), len(f.be.dispatched))
	}
}

func TestCreateJob_AuthorizationBeforeWrites(t *testing.T) {
	tests := []struct {
		name   string
		caller auth.Caller
		code   apperror.Code
	}{
		{"anonymous", auth.Caller{}, apperror.CodeUnauthorized},
		{"non admin", editor, apperror.CodeForbidden},
		{"no profile", auth.Caller{UserID: uuid.New()}, apperror.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			_, err := f.svc.CreateJob(context.Background(), tt.caller, service.CreateJobRequest{JobType: "daily"})
			if apperror.CodeOf(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			jobs, _ := f.repo.ListRecent(context.Background(), 10)
			if len(jobs) != 0 || len(f.content.Limits()) != 0 {
				t.Fatal("expected no reads of content and no writes")
			}
		})
	}
}

func TestCreateJob_InvalidParameters(t *testing.T) {
	f := newFixture(t, 5)
	for _, req := range []service.CreateJobRequest{
		{JobType: "weekly"},
		{JobType: "daily", FPS: -1},
		{JobType: "archive", MaxFrames: -5},
	} {
		_, err := f.svc.CreateJob(context.Background(), admin, req)
		if apperror.CodeOf(err) != apperror.CodeInvalidParameters {
			t.Fatalf("%+v: expected INVALID_PARAMETERS, got %v", req, err)
		}
	}
}

func TestCreateJob_DispatchFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 3)
	f.be.dispatchErr = apperror.New(apperror.CodeDispatchFailure, "dispatch returned 402: quota")

	id, err := f.svc.CreateJob(context.Background(), admin, service.CreateJobRequest{JobType: "daily"})
	if apperror.CodeOf(err) != apperror.CodeDispatchFailure {
		t.Fatalf("expected DISPATCH_FAILURE, got %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected the id of the failed job")
	}
	j := f.job(t, id)
	if j.Status != entity.StatusFailed || j.ErrorMessage == nil || !strings.Contains(*j.ErrorMessage, "quota") {
		t.Fatalf("expected failed job with dispatch error, got %+v", j)
	}
	if j.ExternalJobRef != nil || j.CompletedAt == nil {
		t.Fatalf("expected no ref and completed_at set, got %+v", j)
	}
	if len(f.queue.ids) != 0 {
		t.Fatal("failed job must not be enqueued")
	}
}

func TestCreateJob_LocalWithoutBackend(t *testing.T) {
	f := newFixture(t, 0)
	svc := service.NewJobService(service.Deps{
		Repo:    f.repo,
		Content: f.content,
		Roles:   memory.Roles{admin.UserID: auth.RoleAdmin},
		Queue:   f.queue,
	}, service.Options{})

	id, err := svc.CreateJob(context.Background(), admin, service.CreateJobRequest{JobType: "archive", FPS: 100})
	if err != nil {
		t.Fatalf("local job with zero frames must be created: %v", err)
	}
	j := f.job(t, id)
	if j.RenderMode != entity.RenderModeLocal || j.Status != entity.StatusPending || j.FPS != entity.MaxFPS {
		t.Fatalf("unexpected local job: %+v", j)
	}
	if len(f.queue.ids) != 1 {
		t.Fatal("expected local job enqueued")
	}
}

func TestCreateJob_EnqueueFailureIsLogged(t *testing.T) {
	f := newFixture(t, 2)
	f.queue.err = errors.New("redis down")

	id, err := f.svc.CreateJob(context.Background(), admin, service.CreateJobRequest{JobType: "daily"})
	if err != nil {
		t.Fatalf("enqueue failure must not fail the request: %v", err)
	}
	j := f.job(t, id)
	if j.Status != entity.StatusProcessing {
		t.Fatalf("expected processing, got %s", j.Status)
	}
	last := j.Logs[len(j.Logs)-1].Message
	if !strings.Contains(last, "redis down") {
		t.Fatalf("expected enqueue failure logged, got %q", last)
	}
}

func TestReconcile_ConcurrentFinalizeUploadsOnce(t *testing.T) {
	f := newFixture(t, 4)
	id := f.processingJob(t)
	f.be.report = &backend.StatusReport{RawStatus: "SUCCEEDED", Outcome: backend.OutcomeSucceeded, OutputURL: "https://backend.test/out.mp4"}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.GetJob(context.Background(), admin, id); err != nil {
				t.Errorf("get job: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := f.store.count(); n != 1 {
		t.Fatalf("expected exactly one upload, got %d", n)
	}
	j := f.job(t, id)
	if j.Status != entity.StatusCompleted || j.Progress != 100 {
		t.Fatalf("expected completed at 100, got %s %d", j.Status, j.Progress)
	}
	if j.VideoPath == nil || *j.VideoPath != "https://cdn.test/daily/latest_10fps.mp4" {
		t.Fatalf("unexpected video path %v", j.VideoPath)
	}
	completions := 0
	for _, l := range j.Logs {
		if strings.HasPrefix(l.Message, "Video uploaded") {
			completions++
		}
	}
	if completions != 1 || f.be.cleanups != 1 {
		t.Fatalf("expected one completion and one cleanup, got %d/%d", completions, f.be.cleanups)
	}
}

func TestReconcile_ProgressMappedAndMonotonic(t *testing.T) {
	f := newFixture(t, 2)
	id := f.processingJob(t)

	p := 50.0
	f.be.report = &backend.StatusReport{RawStatus: "running", Outcome: backend.OutcomeInProgress, Progress: &p}
	terminal, err := f.rec.ReconcileOnce(context.Background(), f.job(t, id))
	if err != nil || terminal {
		t.Fatalf("expected non-terminal pass, got %v %v", terminal, err)
	}
	if got := f.job(t, id).Progress; got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}

	low := 10.0
	f.be.report = &backend.StatusReport{RawStatus: "running", Outcome: backend.OutcomeInProgress, Progress: &low}
	_, _ = f.rec.ReconcileOnce(context.Background(), f.job(t, id))
	if got := f.job(t, id).Progress; got != 75 {
		t.Fatalf("progress must not regress, got %d", got)
	}
}

func TestReconcile_SuccessWithoutOutputFails(t *testing.T) {
	f := newFixture(t, 2)
	id := f.processingJob(t)
	f.be.report = &backend.StatusReport{RawStatus: "done", Outcome: backend.OutcomeSucceeded}

	terminal, err := f.rec.ReconcileOnce(context.Background(), f.job(t, id))
	if err != nil || !terminal {
		t.Fatalf("expected terminal pass, got %v %v", terminal, err)
	}
	j := f.job(t, id)
	if j.Status != entity.StatusFailed || j.VideoPath != nil {
		t.Fatalf("expected failed without video path, got %+v", j)
	}
	if f.store.count() != 0 {
		t.Fatal("expected no upload")
	}
}

func TestReconcile_BackendReportedFailure(t *testing.T) {
	f := newFixture(t, 2)
	id := f.processingJob(t)
	f.be.report = &backend.StatusReport{RawStatus: "error", Outcome: backend.OutcomeFailed, Error: "ffmpeg exited 1"}

	if _, err := f.rec.ReconcileOnce(context.Background(), f.job(t, id)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	j := f.job(t, id)
	if j.Status != entity.StatusFailed || !strings.Contains(*j.ErrorMessage, "ffmpeg exited 1") {
		t.Fatalf("expected backend error recorded, got %+v", j)
	}
}

func TestReconcile_UploadFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 2)
	id := f.processingJob(t)
	f.be.report = &backend.StatusReport{RawStatus: "completed", Outcome: backend.OutcomeSucceeded, OutputURL: "https://backend.test/out.mp4"}
	f.store.err = errors.New("bucket unavailable")

	if _, err := f.rec.ReconcileOnce(context.Background(), f.job(t, id)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	j := f.job(t, id)
	if j.Status != entity.StatusFailed || !strings.Contains(*j.ErrorMessage, "bucket unavailable") {
		t.Fatalf("expected upload failure recorded, got %+v", j)
	}
	if j.VideoPath != nil {
		t.Fatal("failed job must not carry a video path")
	}
}

func TestReconcile_UnreachableCountsAsAttempt(t *testing.T) {
	f := newFixture(t, 2)
	id := f.processingJob(t)
	f.be.failures = []backend.Attempt{{Endpoint: "GET /v1/commands/{id}", StatusCode: 503}}
	f.be.statusErr = apperror.New(apperror.CodeBackendUnreachable, "all status endpoints failed")

	terminal, err := f.rec.ReconcileOnce(context.Background(), f.job(t, id))
	if terminal || apperror.CodeOf(err) != apperror.CodeBackendUnreachable {
		t.Fatalf("expected non-terminal unreachable attempt, got %v %v", terminal, err)
	}
	j := f.job(t, id)
	if j.Status != entity.StatusProcessing {
		t.Fatalf("job must stay processing, got %s", j.Status)
	}
	if !strings.Contains(j.Logs[len(j.Logs)-2].Message, "HTTP 503") {
		t.Fatalf("expected earlier candidate failure logged, got %+v", j.Logs)
	}
}

func TestCancelJob_PendingAlwaysFails(t *testing.T) {
	tests := []struct {
		name      string
		ref       string
		enabled   bool
		cancelErr error
		calls     int
	}{
		{"remote success", "cmd-9", true, nil, 1},
		{"remote failure", "cmd-9", true, errors.New("all cancel endpoints failed"), 1},
		{"remote disabled", "cmd-9", false, nil, 0},
		{"no external ref", "", true, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			f.be.cancelEnabled = tt.enabled
			f.be.cancelErr = tt.cancelErr
			job := &entity.VideoJob{
				ID: uuid.New(), JobType: entity.JobTypeDaily, RenderMode: entity.RenderModeBackend,
				FPS: 10, Status: entity.StatusPending, CreatedAt: time.Now(),
			}
			if tt.ref != "" {
				job.ExternalJobRef = &tt.ref
			}
			f.repo.Put(job)

			got, err := f.svc.CancelJob(context.Background(), admin, job.ID)
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if got.Status != entity.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != entity.CancelledByAdmin {
				t.Fatalf("expected failed with %q, got %+v", entity.CancelledByAdmin, got)
			}
			if got.CompletedAt == nil {
				t.Fatal("expected completed_at set")
			}
			if f.be.cancelCalls != tt.calls {
				t.Fatalf("expected %d remote cancel calls, got %d", tt.calls, f.be.cancelCalls)
			}
		})
	}
}

func TestCancelJob_CompletedIsInvalidState(t *testing.T) {
	f := newFixture(t, 1)
	path := "https://cdn.test/daily/latest_10fps.mp4"
	done := time.Now().Add(-time.Hour).UTC()
	job := &entity.VideoJob{
		ID: uuid.New(), JobType: entity.JobTypeDaily, Status: entity.StatusCompleted,
		VideoPath: &path, CompletedAt: &done, Progress: 100,
	}
	f.repo.Put(job)

	_, err := f.svc.CancelJob(context.Background(), admin, job.ID)
	if apperror.CodeOf(err) != apperror.CodeInvalidState {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
	j := f.job(t, job.ID)
	if j.VideoPath == nil || *j.VideoPath != path || !j.CompletedAt.Equal(done) || j.Status != entity.StatusCompleted {
		t.Fatalf("completed job must not change: %+v", j)
	}
}

func TestCancelJob_NonAdminRejected(t *testing.T) {
	f := newFixture(t, 1)
	id := f.processingJob(t)
	if _, err := f.svc.CancelJob(context.Background(), editor, id); apperror.CodeOf(err) != apperror.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if f.job(t, id).Status != entity.StatusProcessing {
		t.Fatal("job must not change")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.GetJob(context.Background(), admin, uuid.New()); apperror.CodeOf(err) != apperror.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestLogs_AppendOnly(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	id := f.processingJob(t)

	var snapshots [][]entity.LogEntry
	snap := func() { snapshots = append(snapshots, f.job(t, id).Logs) }
	snap()

	p := 20.0
	f.be.report = &backend.StatusReport{RawStatus: "queued", Outcome: backend.OutcomeInProgress, Progress: &p}
	_, _ = f.rec.ReconcileOnce(ctx, f.job(t, id))
	snap()
	_, _ = f.svc.CancelJob(ctx, admin, id)
	snap()
	_, _ = f.svc.CancelJob(ctx, admin, id)
	snap()

	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		if len(cur) < len(prev) {
			t.Fatalf("log shrank from %d to %d", len(prev), len(cur))
		}
		for k := range prev {
			if prev[k] != cur[k] {
				t.Fatalf("log entry %d changed between observations", k)
			}
		}
	}
}

// ctxRepo fails writes once the caller's context is done, like a real driver.
type ctxRepo struct {
	*memory.JobRepository
}

func (r ctxRepo) MarkDispatched(ctx context.Context, id uuid.UUID, ref string, progress int, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.JobRepository.MarkDispatched(ctx, id, ref, progress, msg)
}

func (r ctxRepo) MarkFailed(ctx context.Context, id uuid.UUID, errText, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.JobRepository.MarkFailed(ctx, id, errText, msg)
}

func (r ctxRepo) AppendLog(ctx context.Context, id uuid.UUID, messages ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.JobRepository.AppendLog(ctx, id, messages...)
}

func TestCreateJob_CallerGoneStillRecordsOutcome(t *testing.T) {
	tests := []struct {
		name        string
		dispatchErr error
		want        entity.JobStatus
	}{
		{"dispatch fails", apperror.New(apperror.CodeDispatchFailure, "dispatch returned 502"), entity.StatusFailed},
		{"dispatch succeeds", nil, entity.StatusProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.be.dispatchErr = tt.dispatchErr
			f.be.onDispatch = cancel
			svc := service.NewJobService(service.Deps{
				Repo:    ctxRepo{f.repo},
				Content: f.content,
				Roles:   memory.Roles{admin.UserID: auth.RoleAdmin},
				Backend: f.be,
				Queue:   f.queue,
			}, service.Options{MaxCommandSeconds: 600, VCPUCount: 2})

			id, err := svc.CreateJob(ctx, admin, service.CreateJobRequest{JobType: "daily", FPS: 10})
			if id == uuid.Nil {
				t.Fatalf("expected job id once the row exists, err=%v", err)
			}
			if (err != nil) != (tt.dispatchErr != nil) {
				t.Fatalf("unexpected error %v", err)
			}
			job := f.job(t, id)
			if job.Status != tt.want {
				t.Fatalf("expected %s after caller cancelled, got %s", tt.want, job.Status)
			}
			if tt.want == entity.StatusProcessing && job.ExternalRef() != "cmd-1" {
				t.Fatalf("expected dispatch recorded, got ref %q", job.ExternalRef())
			}
		})
	}
}

func TestReconcile_DownloadBoundedByTransferTimeout(t *testing.T) {
	f := newFixture(t, 2)
	rec := service.NewReconciler(f.repo, f.be, f.store, service.ReconcilerOptions{
		TransferAttempts: 1,
		TransferTimeout:  2 * time.Minute,
	}, nil)
	id := f.processingJob(t)
	f.be.report = &backend.StatusReport{RawStatus: "done", Outcome: backend.OutcomeSucceeded, OutputURL: "https://backend.test/out.mp4"}

	if _, err := rec.ReconcileOnce(context.Background(), f.job(t, id)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if f.be.downloadBudget <= time.Minute || f.be.downloadBudget > 2*time.Minute {
		t.Fatalf("expected download deadline of about 2m, got %v", f.be.downloadBudget)
	}
	if f.job(t, id).Status != entity.StatusCompleted {
		t.Fatal("expected completed job")
	}
}
