// Package render is the local fallback renderer: it loads an encoder runtime,
// downloads frames, encodes them in-process and uploads the result.
package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/entity"
)

type Stage string

const (
	StageRuntime  Stage = "runtime"
	StageDownload Stage = "download"
	StageEncode   Stage = "encode"
	StageFinalize Stage = "finalize"
	StageUpload   Stage = "upload"
)

// stage bounds in percent
var stageRange = map[Stage][2]float64{
	StageRuntime:  {0, 10},
	StageDownload: {10, 60},
	StageEncode:   {60, 90},
	StageFinalize: {90, 95},
	StageUpload:   {95, 100},
}

type Progress struct {
	Stage   Stage
	Percent int
	Message string
}

// ArtifactUploader stores the encoded video and returns its public URL.
type ArtifactUploader interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
}

// Runtime resolves the encoder binary.
type Runtime interface {
	Load(ctx context.Context, logf func(string)) (string, error)
}

type Options struct {
	WorkDir       string
	LogBufferSize int
	// LockFile serializes local renders on one host. Empty disables locking.
	LockFile string
	// FrameTimeout bounds each frame download. Zero means one minute.
	FrameTimeout time.Duration
}

type Renderer struct {
	runtime Runtime
	encoder Encoder
	store   ArtifactUploader
	http    HTTPDoer
	opts    Options
	logger  *slog.Logger
}

func NewRenderer(runtime Runtime, encoder Encoder, store ArtifactUploader, client HTTPDoer, opts Options, logger *slog.Logger) *Renderer {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{runtime: runtime, encoder: encoder, store: store, http: client, opts: opts, logger: logger}
}

type Request struct {
	JobType    entity.JobType
	FPS        int
	Drawings   []entity.Drawing
	OnProgress func(Progress)
	// BeforeUpload runs after encoding. A non-nil error aborts the render
	// without publishing the artifact.
	BeforeUpload func(ctx context.Context) error
}

type Result struct {
	FrameCount    int
	Skipped       int
	Duration      float64
	ArtifactPath  string
	URL           string
	LastDrawingID *uuid.UUID
	Logs          []string
}

// Render runs the full local pipeline. The returned Result is non-nil even on
// error and carries the buffered log lines.
func (r *Renderer) Render(ctx context.Context, req Request) (res *Result, err error) {
	buf := NewLogBuffer(r.opts.LogBufferSize)
	res = &Result{ArtifactPath: entity.ArtifactPath(req.JobType, "mp4", req.FPS)}
	tracker := newTracker(req.OnProgress)
	defer func() { res.Logs = buf.Lines() }()

	logf := func(msg string) {
		buf.Add(msg)
		r.logger.Debug("local render", "msg", msg)
	}

	if r.opts.LockFile != "" {
		lock := flock.New(r.opts.LockFile)
		logf("waiting for local render lock")
		if _, err := lock.TryLockContext(ctx, 500*time.Millisecond); err != nil {
			return res, fmt.Errorf("acquire render lock: %w", err)
		}
		defer func() { _ = lock.Unlock() }()
	}

	dir, err := os.MkdirTemp(r.opts.WorkDir, "render-*")
	if err != nil {
		return res, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logf(fmt.Sprintf("cleanup %s: %v", dir, rmErr))
			r.logger.Warn("local render cleanup failed", "dir", dir, "err", rmErr)
		}
	}()

	tracker.set(StageRuntime, 0, "loading encoder runtime")
	runtimePath, err := r.runtime.Load(ctx, logf)
	if err != nil {
		return res, err
	}
	tracker.set(StageRuntime, 1, "encoder runtime ready")

	frames := make([]string, 0, len(req.Drawings))
	total := len(req.Drawings)
	for i, d := range req.Drawings {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		name := filepath.Join(dir, fmt.Sprintf("frame_%05d", len(frames)+1))
		file, err := r.downloadFrame(ctx, d.ImageURL, name)
		if err != nil {
			res.Skipped++
			logf(fmt.Sprintf("skipping drawing %s: %v", d.ID, err))
		} else {
			frames = append(frames, file)
			id := d.ID
			res.LastDrawingID = &id
		}
		tracker.set(StageDownload, float64(i+1)/float64(total),
			fmt.Sprintf("downloaded %d/%d frames", i+1, total))
	}
	res.FrameCount = len(frames)
	if len(frames) == 0 {
		logf("no frames could be downloaded")
		return res, apperror.New(apperror.CodeNoFramesProcessed, "no frames were processed")
	}
	logf(fmt.Sprintf("%d frames ready, %d skipped", len(frames), res.Skipped))

	res.Duration = entity.TotalDuration(len(frames), req.FPS)
	out := filepath.Join(dir, "output.mp4")
	tracker.set(StageEncode, 0, "encoding")
	err = r.encoder.Encode(ctx, EncodeRequest{
		RuntimePath: runtimePath,
		Frames:      frames,
		FPS:         req.FPS,
		Duration:    res.Duration,
		OutputPath:  out,
	}, func(f float64) {
		tracker.set(StageEncode, f, "encoding")
	}, logf)
	if err != nil {
		return res, apperror.Wrap(apperror.CodeEncodeFailure, "local encode failed", err)
	}

	tracker.set(StageFinalize, 0, "finalizing")
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return res, apperror.Wrap(apperror.CodeEncodeFailure, "encoder produced no output", err)
	}
	f, err := os.Open(out)
	if err != nil {
		return res, apperror.Wrap(apperror.CodeEncodeFailure, "open encoded output", err)
	}
	defer f.Close()
	tracker.set(StageFinalize, 1, fmt.Sprintf("encoded %.1fs video", res.Duration))

	if req.BeforeUpload != nil {
		if err := req.BeforeUpload(ctx); err != nil {
			logf("upload skipped: " + err.Error())
			return res, err
		}
	}

	tracker.set(StageUpload, 0, "uploading")
	url, err := r.store.Upload(ctx, res.ArtifactPath, f, info.Size(), entity.ContentTypeFor("mp4"))
	if err != nil {
		return res, apperror.Wrap(apperror.CodeArtifactUploadFailure, "upload local render", err)
	}
	res.URL = url
	tracker.set(StageUpload, 1, "uploaded "+res.ArtifactPath)
	logf("uploaded " + url)
	return res, nil
}

// downloadFrame writes one image next to base, picking the extension from the
// response content type or the URL.
func (r *Renderer) downloadFrame(ctx context.Context, rawURL, base string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.FrameTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	file := base + frameExt(resp.Header.Get("Content-Type"), rawURL)
	out, err := os.Create(file)
	if err != nil {
		return "", err
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}
	if n == 0 {
		return "", fmt.Errorf("empty image")
	}
	return file, nil
}

func frameExt(contentType, rawURL string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/png":
			return ".png"
		case "image/jpeg":
			return ".jpg"
		case "image/webp":
			return ".webp"
		case "image/gif":
			return ".gif"
		}
	}
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if ext := strings.ToLower(path.Ext(p)); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".png"
}

// tracker maps stage-local fractions onto an overall percentage that never
// goes down.
type tracker struct {
	emit func(Progress)
	last int
}

func newTracker(emit func(Progress)) *tracker {
	return &tracker{emit: emit}
}

func (t *tracker) set(stage Stage, fraction float64, msg string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	bounds := stageRange[stage]
	pct := int(bounds[0] + (bounds[1]-bounds[0])*fraction)
	if pct < t.last {
		pct = t.last
	}
	changed := pct != t.last
	t.last = pct
	if t.emit != nil && (changed || stage != StageEncode) {
		t.emit(Progress{Stage: stage, Percent: pct, Message: msg})
	}
}
