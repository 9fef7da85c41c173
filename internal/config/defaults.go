package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultHTTPAddr          = ":8080"
	defaultShutdownTimeout   = 10
	defaultRedisAddr         = "localhost:6379"
	defaultQueueKey          = "video-jobs:queue"
	defaultProcessingKey     = "video-jobs:processing"
	defaultMinioEndpoint     = "localhost:9000"
	defaultBucket            = "videos"
	defaultAPIKeyHeader      = "X-API-KEY"
	defaultRequestTimeout    = 30
	defaultTransferTimeout   = 900
	defaultFrameTimeout      = 60
	defaultMaxCommandSeconds = 900
	defaultVCPUCount         = 2
	defaultDispatchPath      = "/v1/run-ffmpeg-command"
	defaultCleanupPath       = "DELETE /v1/commands/{id}/files"
	defaultDownloadAttempts  = 3
	defaultPollInterval      = 5
	defaultPollAttempts      = 180
	defaultFinalizeLease     = 300
	defaultLogBufferSize     = 200
	defaultWorkers           = 8
	defaultLeaseSeconds      = 60
	defaultServiceName       = "video-compiler-service"
)

var (
	defaultStatusPaths = []string{"/v1/commands/{id}", "/v1/commands/{id}/status", "/v1/jobs/{id}"}
	defaultCancelPaths = []string{"POST /v1/commands/{id}/cancel", "DELETE /v1/commands/{id}", "POST /v1/jobs/{id}/cancel"}
)

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}

	c.HTTP.Addr = valueOrDefault(c.HTTP.Addr, defaultHTTPAddr)
	c.HTTP.ShutdownTimeout = intOrDefault(c.HTTP.ShutdownTimeout, defaultShutdownTimeout)

	c.Redis.Addr = valueOrDefault(c.Redis.Addr, defaultRedisAddr)
	c.Redis.QueueKey = valueOrDefault(c.Redis.QueueKey, defaultQueueKey)
	c.Redis.ProcessingKey = valueOrDefault(c.Redis.ProcessingKey, defaultProcessingKey)

	c.Storage.Endpoint = valueOrDefault(c.Storage.Endpoint, defaultMinioEndpoint)
	c.Storage.Bucket = valueOrDefault(c.Storage.Bucket, defaultBucket)
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Backend.APIKey = strings.TrimSpace(c.Backend.APIKey)
	c.Backend.APIKeyHeader = valueOrDefault(c.Backend.APIKeyHeader, defaultAPIKeyHeader)
	c.Backend.RequestTimeout = intOrDefault(c.Backend.RequestTimeout, defaultRequestTimeout)
	c.Backend.TransferTimeout = intOrDefault(c.Backend.TransferTimeout, defaultTransferTimeout)
	c.Backend.MaxCommandSeconds = intOrDefault(c.Backend.MaxCommandSeconds, defaultMaxCommandSeconds)
	c.Backend.VCPUCount = intOrDefault(c.Backend.VCPUCount, defaultVCPUCount)
	c.Backend.DispatchPath = valueOrDefault(c.Backend.DispatchPath, defaultDispatchPath)
	c.Backend.CleanupPath = valueOrDefault(c.Backend.CleanupPath, defaultCleanupPath)
	c.Backend.DownloadMaxAttempts = intOrDefault(c.Backend.DownloadMaxAttempts, defaultDownloadAttempts)
	c.Backend.StatusPaths = sliceOrDefault(c.Backend.StatusPaths, defaultStatusPaths)
	c.Backend.CancelPaths = sliceOrDefault(c.Backend.CancelPaths, defaultCancelPaths)

	c.Poller.IntervalSeconds = intOrDefault(c.Poller.IntervalSeconds, defaultPollInterval)
	c.Poller.MaxAttempts = intOrDefault(c.Poller.MaxAttempts, defaultPollAttempts)
	c.Poller.FinalizeLeaseSeconds = intOrDefault(c.Poller.FinalizeLeaseSeconds, defaultFinalizeLease)

	if c.Local.WorkDir == "" {
		c.Local.WorkDir = os.TempDir()
	}
	if c.Local.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.Local.CacheDir = filepath.Join(dir, "video-compiler", "runtime")
		} else {
			c.Local.CacheDir = filepath.Join(os.TempDir(), "video-compiler-runtime")
		}
	}
	if c.Local.LockFile == "" {
		c.Local.LockFile = filepath.Join(c.Local.WorkDir, "video-compiler-render.lock")
	}
	c.Local.LogBufferSize = intOrDefault(c.Local.LogBufferSize, defaultLogBufferSize)
	c.Local.FrameTimeout = intOrDefault(c.Local.FrameTimeout, defaultFrameTimeout)
	c.Local.RuntimeURLs = sliceOrDefault(c.Local.RuntimeURLs, nil)

	c.Telemetry.ServiceName = valueOrDefault(c.Telemetry.ServiceName, defaultServiceName)
	c.Worker.Count = intOrDefault(c.Worker.Count, defaultWorkers)
	c.Worker.LeaseSeconds = intOrDefault(c.Worker.LeaseSeconds, defaultLeaseSeconds)
}

// Validate checks settings every binary depends on.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format: unsupported value %q", c.LogFormat))
	}
	if c.Poller.MaxAttempts < 1 {
		errs = append(errs, errors.New("poller.max_attempts must be positive"))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("worker.count must be positive"))
	}
	for _, p := range append(append([]string{}, c.Backend.StatusPaths...), c.Backend.CancelPaths...) {
		if !strings.Contains(p, "{id}") {
			errs = append(errs, fmt.Errorf("backend endpoint %q must contain {id}", p))
		}
	}
	return errors.Join(errs...)
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func sliceOrDefault(value, fallback []string) []string {
	out := make([]string, 0, len(value))
	for _, v := range value {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
