package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"video-compiler-service/internal/apperror"
	"video-compiler-service/internal/backend"
)

func newClient(srv *httptest.Server, apiKey string) *backend.Client {
	return backend.NewClient(backend.Options{
		BaseURL:      srv.URL,
		APIKey:       apiKey,
		DispatchPath: "/v1/run-ffmpeg-command",
		StatusEndpoints: backend.ParseEndpoints([]string{
			"/v1/commands/{id}", "/v1/commands/{id}/status", "/v1/jobs/{id}",
		}, http.MethodGet),
		CancelEndpoints: backend.ParseEndpoints([]string{
			"POST /v1/commands/{id}/cancel", "DELETE /v1/commands/{id}",
		}, http.MethodPost),
		CleanupEndpoint: backend.Endpoint{Method: http.MethodDelete, Path: "/v1/commands/{id}/files"},
	}, srv.Client())
}

func TestClient_Dispatch_ReturnsReference(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/run-ffmpeg-command" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-KEY") != "secret" {
			t.Errorf("expected api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"command_id":"cmd-42"}`)
	}))
	defer srv.Close()

	cmd, err := backend.BuildCommand([]string{"https://img/1.png", "https://img/2.png"}, backend.CommandOptions{FPS: 10})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ref, err := newClient(srv, "secret").Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ref != "cmd-42" {
		t.Fatalf("expected cmd-42, got %q", ref)
	}
	inputs, _ := got["input_files"].(map[string]any)
	if len(inputs) != 2 || inputs["in_2"] != "https://img/2.png" {
		t.Fatalf("unexpected input_files: %v", got["input_files"])
	}
}

func TestClient_Dispatch_RejectedIsDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	cmd, _ := backend.BuildCommand([]string{"https://img/1.png"}, backend.CommandOptions{FPS: 10})
	_, err := newClient(srv, "k").Dispatch(context.Background(), cmd)
	if apperror.CodeOf(err) != apperror.CodeDispatchFailure {
		t.Fatalf("expected DISPATCH_FAILURE, got %v", err)
	}
	if !strings.Contains(err.Error(), "402") {
		t.Fatalf("expected status code in message, got %v", err)
	}
}

func TestClient_Status_FallsBackToLaterCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/commands/abc":
			http.NotFound(w, r)
		case "/v1/commands/abc/status":
			_, _ = io.WriteString(w, `{"state":"SUCCEEDED","output_files":{"out_1":{"storage_url":"https://files/out.mp4"}}}`)
		default:
			t.Errorf("candidate after success must not be called: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	rep, failures, err := newClient(srv, "").Status(context.Background(), "abc")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.Outcome != backend.OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %v", rep.Outcome)
	}
	if rep.OutputURL != "https://files/out.mp4" {
		t.Fatalf("unexpected output url %q", rep.OutputURL)
	}
	if len(failures) != 1 || failures[0].StatusCode != http.StatusNotFound {
		t.Fatalf("expected one 404 failure, got %#v", failures)
	}
}

func TestClient_Status_AllCandidatesFail(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, failures, err := newClient(srv, "").Status(context.Background(), "abc")
	if apperror.CodeOf(err) != apperror.CodeBackendUnreachable {
		t.Fatalf("expected BACKEND_UNREACHABLE, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 || len(failures) != 3 {
		t.Fatalf("expected 3 attempts, got calls=%d failures=%d", calls, len(failures))
	}
}

func TestClient_Cancel_DisabledWithoutAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	_, err := newClient(srv, "").Cancel(context.Background(), "abc")
	if err != backend.ErrCancelDisabled {
		t.Fatalf("expected ErrCancelDisabled, got %v", err)
	}
}

func TestClient_Cancel_UsesSecondCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/v1/commands/abc" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	res, err := newClient(srv, "k").Cancel(context.Background(), "abc")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.HasPrefix(res.Endpoint, "DELETE ") || len(res.Failures) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseEndpoints(t *testing.T) {
	eps := backend.ParseEndpoints([]string{"delete /a/{id}", " /b/{id} ", ""}, http.MethodPost)
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(eps))
	}
	if eps[0].Method != "DELETE" || eps[0].Path != "/a/{id}" {
		t.Fatalf("unexpected first endpoint %+v", eps[0])
	}
	if eps[1].Method != http.MethodPost || eps[1].Path != "/b/{id}" {
		t.Fatalf("unexpected second endpoint %+v", eps[1])
	}
}

type countingDoer struct {
	calls atomic.Int32
	next  backend.HTTPDoer
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return d.next.Do(req)
}

func TestClient_OpenOutput_UsesTransferClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "secret" {
			t.Errorf("expected api key on backend-hosted output")
		}
		_, _ = io.WriteString(w, "video")
	}))
	defer srv.Close()

	api := &countingDoer{next: srv.Client()}
	transfer := &countingDoer{next: srv.Client()}
	c := backend.NewClient(backend.Options{BaseURL: srv.URL, APIKey: "secret", Transfer: transfer}, api)

	body, _, err := c.OpenOutput(context.Background(), srv.URL+"/files/out.mp4")
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer body.Close()
	b, _ := io.ReadAll(body)
	if string(b) != "video" {
		t.Fatalf("unexpected body %q", b)
	}
	if transfer.calls.Load() != 1 || api.calls.Load() != 0 {
		t.Fatalf("download must use the transfer client: transfer=%d api=%d", transfer.calls.Load(), api.calls.Load())
	}
}
