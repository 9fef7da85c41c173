package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"video-compiler-service/internal/apperror"
)

// HTTPDoer is the HTTP client used for frame and runtime downloads.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RuntimeSource yields a path to an executable encoder.
type RuntimeSource interface {
	Name() string
	Resolve(ctx context.Context) (string, error)
}

// PathSource uses a configured binary.
type PathSource struct {
	Path string
}

func (s PathSource) Name() string { return "path " + s.Path }

func (s PathSource) Resolve(context.Context) (string, error) {
	if strings.TrimSpace(s.Path) == "" {
		return "", errors.New("no path configured")
	}
	return checkExecutable(s.Path)
}

// LookPathSource searches $PATH.
type LookPathSource struct {
	Binary string
}

func (s LookPathSource) Name() string { return "$PATH " + s.Binary }

func (s LookPathSource) Resolve(context.Context) (string, error) {
	return exec.LookPath(s.Binary)
}

// DownloadSource fetches a static build once and caches it under CacheDir.
type DownloadSource struct {
	URL      string
	CacheDir string
	Client   HTTPDoer
	// Timeout bounds the whole download. Zero means ten minutes.
	Timeout time.Duration
}

func (s DownloadSource) Name() string { return "download " + s.URL }

func (s DownloadSource) Resolve(ctx context.Context) (string, error) {
	sum := sha256.Sum256([]byte(s.URL))
	target := filepath.Join(s.CacheDir, "ffmpeg-"+hex.EncodeToString(sum[:6]))
	if path, err := checkExecutable(target); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(s.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download runtime returned %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(s.CacheDir, "ffmpeg-*.part")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write runtime: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("install runtime: %w", err)
	}
	return target, nil
}

func checkExecutable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("%s is not executable", path)
	}
	return path, nil
}

// RuntimeLoader tries sources in order and returns the first that resolves.
type RuntimeLoader struct {
	sources []RuntimeSource
}

func NewRuntimeLoader(sources ...RuntimeSource) *RuntimeLoader {
	return &RuntimeLoader{sources: sources}
}

// DefaultSources is the configured binary, then $PATH, then each download URL.
func DefaultSources(ffmpegPath string, urls []string, cacheDir string, client HTTPDoer) []RuntimeSource {
	var sources []RuntimeSource
	if ffmpegPath != "" {
		sources = append(sources, PathSource{Path: ffmpegPath})
	}
	sources = append(sources, LookPathSource{Binary: "ffmpeg"})
	for _, u := range urls {
		sources = append(sources, DownloadSource{URL: u, CacheDir: cacheDir, Client: client})
	}
	return sources
}

func (l *RuntimeLoader) Load(ctx context.Context, logf func(string)) (string, error) {
	var errs []error
	for _, src := range l.sources {
		path, err := src.Resolve(ctx)
		if err == nil {
			logf(fmt.Sprintf("encoder runtime loaded from %s", src.Name()))
			return path, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logf(fmt.Sprintf("encoder runtime source %s failed: %v", src.Name(), err))
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}
	return "", apperror.Wrap(apperror.CodeRuntimeUnavailable,
		fmt.Sprintf("all %d encoder runtime sources failed", len(l.sources)), errors.Join(errs...))
}
