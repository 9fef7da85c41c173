// Package config loads service configuration from an optional TOML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// HTTP contains the admin API listener settings.
type HTTP struct {
	Addr            string `toml:"addr" env:"HTTP_ADDR"`
	ShutdownTimeout int    `toml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
}

// Postgres contains ledger and content database settings.
type Postgres struct {
	DSN string `toml:"dsn" env:"POSTGRES_DSN"`
}

// Redis contains the work queue settings.
type Redis struct {
	Addr          string `toml:"addr" env:"REDIS_ADDR"`
	Password      string `toml:"password" env:"REDIS_PASSWORD"`
	DB            int    `toml:"db" env:"REDIS_DB"`
	QueueKey      string `toml:"queue_key" env:"REDIS_QUEUE_KEY"`
	ProcessingKey string `toml:"processing_key" env:"REDIS_PROCESSING_KEY"`
}

// Storage contains the artifact bucket settings.
type Storage struct {
	Endpoint      string `toml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey     string `toml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey     string `toml:"secret_key" env:"MINIO_SECRET_KEY"`
	UseSSL        bool   `toml:"use_ssl" env:"MINIO_USE_SSL"`
	Region        string `toml:"region" env:"MINIO_REGION"`
	Bucket        string `toml:"bucket" env:"MINIO_BUCKET"`
	PublicBaseURL string `toml:"public_base_url" env:"MINIO_PUBLIC_BASE_URL"`
}

// Backend contains the external rendering service settings. An empty BaseURL
// routes every job to the local renderer.
type Backend struct {
	BaseURL             string   `toml:"base_url" env:"RENDER_BACKEND_URL"`
	APIKey              string   `toml:"api_key" env:"RENDER_BACKEND_API_KEY"`
	APIKeyHeader        string   `toml:"api_key_header" env:"RENDER_BACKEND_API_KEY_HEADER"`
	RequestTimeout      int      `toml:"request_timeout" env:"RENDER_BACKEND_REQUEST_TIMEOUT"`
	TransferTimeout     int      `toml:"transfer_timeout" env:"RENDER_BACKEND_TRANSFER_TIMEOUT"`
	MaxCommandSeconds   int      `toml:"max_command_seconds" env:"RENDER_BACKEND_MAX_COMMAND_SECONDS"`
	VCPUCount           int      `toml:"vcpu_count" env:"RENDER_BACKEND_VCPU_COUNT"`
	DispatchPath        string   `toml:"dispatch_path" env:"RENDER_BACKEND_DISPATCH_PATH"`
	StatusPaths         []string `toml:"status_paths" env:"RENDER_BACKEND_STATUS_PATHS" envSeparator:","`
	CancelPaths         []string `toml:"cancel_paths" env:"RENDER_BACKEND_CANCEL_PATHS" envSeparator:","`
	CleanupPath         string   `toml:"cleanup_path" env:"RENDER_BACKEND_CLEANUP_PATH"`
	DownloadMaxAttempts int      `toml:"download_max_attempts" env:"RENDER_BACKEND_DOWNLOAD_MAX_ATTEMPTS"`
}

// Poller contains the reconciliation loop settings.
type Poller struct {
	IntervalSeconds      int `toml:"interval_seconds" env:"POLL_INTERVAL_SECONDS"`
	MaxAttempts          int `toml:"max_attempts" env:"POLL_MAX_ATTEMPTS"`
	FinalizeLeaseSeconds int `toml:"finalize_lease_seconds" env:"FINALIZE_LEASE_SECONDS"`
}

// Local contains the fallback renderer settings.
type Local struct {
	FFmpegPath    string   `toml:"ffmpeg_path" env:"FFMPEG_PATH"`
	RuntimeURLs   []string `toml:"runtime_urls" env:"FFMPEG_RUNTIME_URLS" envSeparator:","`
	CacheDir      string   `toml:"cache_dir" env:"FFMPEG_CACHE_DIR"`
	WorkDir       string   `toml:"work_dir" env:"RENDER_WORK_DIR"`
	LogBufferSize int      `toml:"log_buffer_size" env:"RENDER_LOG_BUFFER_SIZE"`
	LockFile      string   `toml:"lock_file" env:"RENDER_LOCK_FILE"`
	FrameTimeout  int      `toml:"frame_timeout" env:"RENDER_FRAME_TIMEOUT"`
}

// Auth contains bearer token verification settings.
type Auth struct {
	JWTSecret string `toml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string `toml:"issuer" env:"AUTH_JWT_ISSUER"`
	Audience  string `toml:"audience" env:"AUTH_JWT_AUDIENCE"`
}

// Telemetry contains tracing settings. Tracing is off when Endpoint is empty.
type Telemetry struct {
	Endpoint    string `toml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `toml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Worker contains background pool settings.
type Worker struct {
	Count int `toml:"count" env:"WORKERS"`
	// LeaseSeconds is how long a crashed worker keeps its jobs from other replicas.
	LeaseSeconds int `toml:"lease_seconds" env:"WORKER_LEASE_SECONDS"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel  string    `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string    `toml:"log_format" env:"LOG_FORMAT"`
	HTTP      HTTP      `toml:"http"`
	Postgres  Postgres  `toml:"postgres"`
	Redis     Redis     `toml:"redis"`
	Storage   Storage   `toml:"storage"`
	Backend   Backend   `toml:"backend"`
	Poller    Poller    `toml:"poller"`
	Local     Local     `toml:"local"`
	Auth      Auth      `toml:"auth"`
	Telemetry Telemetry `toml:"telemetry"`
	Worker    Worker    `toml:"worker"`
}

// Load reads path (or $CONFIG_FILE when path is empty), overlays environment
// variables, applies defaults and validates the result. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BackendConfigured reports whether jobs may be delegated to the rendering backend.
func (c *Config) BackendConfigured() bool {
	return strings.TrimSpace(c.Backend.BaseURL) != ""
}

func (p Poller) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

func (p Poller) FinalizeLease() time.Duration {
	return time.Duration(p.FinalizeLeaseSeconds) * time.Second
}

// Timeout bounds one API call to the rendering backend.
func (b Backend) Timeout() time.Duration {
	return time.Duration(b.RequestTimeout) * time.Second
}

// TransferDeadline bounds one artifact download, which can be far larger
// than an API response.
func (w Worker) LeaseTTL() time.Duration {
	return time.Duration(w.LeaseSeconds) * time.Second
}

func (b Backend) TransferDeadline() time.Duration {
	return time.Duration(b.TransferTimeout) * time.Second
}

func (l Local) FrameDeadline() time.Duration {
	return time.Duration(l.FrameTimeout) * time.Second
}

func (h HTTP) ShutdownGrace() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}
