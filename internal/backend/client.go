// Package backend talks to the external rendering service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/config"
)

var tracer = otel.Tracer("video-compiler-service/internal/backend")

// ErrCancelDisabled is returned by Cancel when no API key is configured.
var ErrCancelDisabled = errors.New("remote cancel disabled: no backend API key configured")

// HTTPDoer describes the HTTP client used by the backend client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	BaseURL         string
	APIKey          string
	APIKeyHeader    string
	DispatchPath    string
	StatusEndpoints []Endpoint
	CancelEndpoints []Endpoint
	CleanupEndpoint Endpoint
	// Transfer downloads rendered artifacts. It must not carry the short API
	// timeout; callers bound each transfer with a context deadline.
	Transfer HTTPDoer
}

// OptionsFromConfig builds client options from service configuration.
func OptionsFromConfig(cfg config.Backend) Options {
	opts := Options{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		APIKeyHeader:    cfg.APIKeyHeader,
		DispatchPath:    cfg.DispatchPath,
		StatusEndpoints: ParseEndpoints(cfg.StatusPaths, http.MethodGet),
		CancelEndpoints: ParseEndpoints(cfg.CancelPaths, http.MethodPost),
	}
	if cleanup := ParseEndpoints([]string{cfg.CleanupPath}, http.MethodDelete); len(cleanup) == 1 {
		opts.CleanupEndpoint = cleanup[0]
	}
	return opts
}

type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	dispatchPath string
	status       []Endpoint
	cancel       []Endpoint
	cleanup      Endpoint
	client       HTTPDoer
	transfer     HTTPDoer
}

func NewClient(opts Options, client HTTPDoer) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	transfer := opts.Transfer
	if transfer == nil {
		transfer = http.DefaultClient
	}
	header := opts.APIKeyHeader
	if header == "" {
		header = "X-API-KEY"
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:       strings.TrimSpace(opts.APIKey),
		apiKeyHeader: header,
		dispatchPath: opts.DispatchPath,
		status:       opts.StatusEndpoints,
		cancel:       opts.CancelEndpoints,
		cleanup:      opts.CleanupEndpoint,
		client:       client,
		transfer:     transfer,
	}
}

// CancelEnabled reports whether remote cancellation can be attempted.
func (c *Client) CancelEnabled() bool {
	return c.apiKey != ""
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// Dispatch submits cmd and returns the backend job reference.
func (c *Client) Dispatch(ctx context.Context, cmd Command) (string, error) {
	ctx, span := tracer.Start(ctx, "backend.Dispatch", trace.WithAttributes(attribute.Int("frames", cmd.FrameCount)))
	defer span.End()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", apperror.Wrap(apperror.CodeDispatchFailure, "encode command", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.dispatchPath, bytes.NewReader(payload))
	if err != nil {
		return "", apperror.Wrap(apperror.CodeDispatchFailure, "build dispatch request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", failSpan(span, apperror.Wrap(apperror.CodeDispatchFailure, "dispatch request", err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("dispatch returned %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 256))
		return "", failSpan(span, apperror.New(apperror.CodeDispatchFailure, msg))
	}

	ref := firstString(body, []string{"command_id", "id", "job_id", "data.command_id", "data.id"})
	if ref == "" {
		return "", failSpan(span, apperror.New(apperror.CodeDispatchFailure, "dispatch response carried no job reference"))
	}
	span.SetAttributes(attribute.String("external_ref", ref))
	return ref, nil
}

// Status queries every status candidate until one answers and normalises the body.
// The returned failures describe earlier candidates even on success.
func (c *Client) Status(ctx context.Context, ref string) (*StatusReport, []Attempt, error) {
	ctx, span := tracer.Start(ctx, "backend.Status", trace.WithAttributes(attribute.String("external_ref", ref)))
	defer span.End()

	res, err := c.tryEndpoints(ctx, c.status, ref)
	if err != nil {
		return nil, res.Failures, failSpan(span, err)
	}
	if !gjson.ValidBytes(res.Body) {
		return nil, res.Failures, failSpan(span, apperror.New(apperror.CodeBackendUnreachable,
			fmt.Sprintf("%s returned a non-JSON body", res.Endpoint)))
	}
	rep := ParseStatus(res.Body)
	rep.Endpoint = res.Endpoint
	span.SetAttributes(attribute.String("backend.status", rep.RawStatus))
	return &rep, res.Failures, nil
}

// CancelResult reports which candidate acknowledged the cancel.
type CancelResult struct {
	Endpoint string
	Failures []Attempt
}

func (c *Client) Cancel(ctx context.Context, ref string) (*CancelResult, error) {
	if !c.CancelEnabled() {
		return &CancelResult{}, ErrCancelDisabled
	}
	ctx, span := tracer.Start(ctx, "backend.Cancel", trace.WithAttributes(attribute.String("external_ref", ref)))
	defer span.End()

	res, err := c.tryEndpoints(ctx, c.cancel, ref)
	out := &CancelResult{Endpoint: res.Endpoint, Failures: res.Failures}
	if err != nil {
		return out, failSpan(span, err)
	}
	return out, nil
}

// Cleanup asks the backend to release stored files for ref.
func (c *Client) Cleanup(ctx context.Context, ref string) error {
	if c.cleanup.Path == "" {
		return nil
	}
	_, err := c.tryEndpoints(ctx, []Endpoint{c.cleanup}, ref)
	return err
}

// OpenOutput starts a download of a rendered artifact. The caller closes the body.
func (c *Client) OpenOutput(ctx context.Context, outputURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build download request: %w", err)
	}
	if c.baseURL != "" && strings.HasPrefix(outputURL, c.baseURL) && c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download output: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("download output returned %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
