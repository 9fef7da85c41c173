package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"video-compiler-service/internal/apperror"
)

// Endpoint is one candidate URL shape for a backend operation.
type Endpoint struct {
	Method string
	Path   string
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// ParseEndpoints reads "METHOD /path/{id}" specs; a bare path uses defaultMethod.
func ParseEndpoints(specs []string, defaultMethod string) []Endpoint {
	out := make([]Endpoint, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		method, path := defaultMethod, spec
		if i := strings.IndexByte(spec, ' '); i > 0 {
			method = strings.ToUpper(spec[:i])
			path = strings.TrimSpace(spec[i+1:])
		}
		out = append(out, Endpoint{Method: method, Path: path})
	}
	return out
}

// Attempt records the outcome of one candidate.
type Attempt struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (a Attempt) String() string {
	if a.StatusCode > 0 {
		return fmt.Sprintf("%s -> HTTP %d", a.Endpoint, a.StatusCode)
	}
	if a.Err != nil {
		return fmt.Sprintf("%s -> %v", a.Endpoint, a.Err)
	}
	return a.Endpoint
}

// EndpointResult is the first successful response plus every earlier failure.
type EndpointResult struct {
	Endpoint   string
	StatusCode int
	Body       []byte
	Failures   []Attempt
}

const maxBodyBytes = 1 << 20

// tryEndpoints calls candidates in order and returns the first 2xx response.
// When all fail it returns a BackendUnreachable error together with the
// failures so callers can log every attempt.
func (c *Client) tryEndpoints(ctx context.Context, candidates []Endpoint, ref string) (*EndpointResult, error) {
	res := &EndpointResult{}
	if len(candidates) == 0 {
		return res, apperror.New(apperror.CodeBackendUnreachable, "no backend endpoints configured")
	}

	var lastErr error
	for _, cand := range candidates {
		target := c.baseURL + strings.ReplaceAll(cand.Path, "{id}", ref)
		label := cand.Method + " " + target

		req, err := http.NewRequestWithContext(ctx, cand.Method, target, nil)
		if err != nil {
			lastErr = err
			res.Failures = append(res.Failures, Attempt{Endpoint: label, Err: err})
			continue
		}
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			lastErr = err
			res.Failures = append(res.Failures, Attempt{Endpoint: label, Err: err})
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("%s returned %d", label, resp.StatusCode)
			res.Failures = append(res.Failures, Attempt{Endpoint: label, StatusCode: resp.StatusCode})
			continue
		}
		if readErr != nil {
			lastErr = readErr
			res.Failures = append(res.Failures, Attempt{Endpoint: label, Err: readErr})
			continue
		}

		res.Endpoint = label
		res.StatusCode = resp.StatusCode
		res.Body = body
		return res, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate succeeded")
	}
	return res, apperror.Wrap(apperror.CodeBackendUnreachable,
		fmt.Sprintf("all %d backend endpoints failed", len(candidates)), lastErr)
}
