package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/credentials"
)

func newTestClient(url string, token credentials.Source) *Client {
	cfg := config.DefaultConfig().Remote
	cfg.BaseURL = url
	return New(cfg, token, nil)
}

func TestFetchPending(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/extension/actions/pending" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"batch-7","actions":[{"type":"tap","selector":"#go"},{"action":"goto","url":"https://example.com"}]}`))
	}))
	defer srv.Close()

	batch, err := newTestClient(srv.URL, credentials.Static("tok")).FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", auth)
	}
	if batch.ID != "batch-7" || len(batch.Actions) != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if batch.Actions[0].Type != action.Click || batch.Actions[1].Type != action.Navigate {
		t.Errorf("expected normalized types, got %s and %s", batch.Actions[0].Type, batch.Actions[1].Type)
	}
}

func TestFetchPendingEmpty(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"no content", http.StatusNoContent, ""},
		{"empty object", http.StatusOK, "{}"},
		{"null", http.StatusOK, "null"},
		{"null batch", http.StatusOK, `{"batch":null}`},
		{"no actions", http.StatusOK, `{"id":"b1","actions":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := newTestClient(srv.URL, credentials.Static("tok")).FetchPending(context.Background())
			if !errors.Is(err, ErrNoBatch) {
				t.Errorf("expected ErrNoBatch, got %v", err)
			}
		})
	}
}

func TestFetchPendingWrappedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"batch":{"id":42,"actions":[{"type":"wait","ms":10}]}}`))
	}))
	defer srv.Close()
	batch, err := newTestClient(srv.URL, credentials.Static("tok")).FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if batch.ID != "42" || batch.Actions[0].Type != action.Wait {
		t.Errorf("unexpected batch %+v", batch)
	}
}

func TestUnauthorized(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status 401", http.StatusUnauthorized, `{}`},
		{"error field", http.StatusOK, `{"error":"Not authenticated"}`},
		{"plain body", http.StatusForbidden, `login required`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := newTestClient(srv.URL, credentials.Static("tok")).FetchPending(context.Background())
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestAuthWordsInBatchAreNotAuthFailures(t *testing.T) {
	bodies := map[string]string{
		"pretty printed":   "\n  {\"id\":\"b9\",\"actions\":[{\"type\":\"type\",\"selector\":\"#msg\",\"text\":\"login required for unauthorized users\"}]}",
		"structured error": `{"id":"b9","error":{"code":"login required"},"actions":[{"type":"type","selector":"#msg","text":"Not authenticated"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()
			batch, err := newTestClient(srv.URL, credentials.Static("tok")).FetchPending(context.Background())
			if err != nil {
				t.Fatalf("expected a batch, got %v", err)
			}
			if batch.ID != "b9" || len(batch.Actions) != 1 || batch.Actions[0].Type != action.TypeText {
				t.Errorf("unexpected batch %+v", batch)
			}
		})
	}

	if isAuthFailure(http.StatusOK, []byte(`["login required"]`)) {
		t.Error("expected a 2xx array not to be an auth failure")
	}
	if !isAuthFailure(http.StatusBadRequest, []byte(`login required`)) {
		t.Error("expected error status body to be classified")
	}
}

func TestNoTokenNoRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, credentials.Chain{})
	if _, err := c.FetchPending(context.Background()); !errors.Is(err, credentials.ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
	if err := c.Report(context.Background(), Report{ID: "b"}); !errors.Is(err, credentials.ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("expected no requests without a token, got %d", n)
	}
}

func TestReportAndHeartbeat(t *testing.T) {
	var report Report
	var beat Heartbeat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		switch r.URL.Path {
		case "/api/extension/actions/report":
			_ = json.NewDecoder(r.Body).Decode(&report)
		case "/api/extension/heartbeat":
			_ = json.NewDecoder(r.Body).Decode(&beat)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, credentials.Static("tok"))
	ctx := context.Background()
	if err := c.Report(ctx, Report{ID: "b1", Result: "[ACTION_REPORT]", Status: "completed"}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.ID != "b1" || report.Status != "completed" {
		t.Errorf("unexpected report %+v", report)
	}
	if err := c.Heartbeat(ctx, Heartbeat{ExtensionID: "bridge", Capabilities: []string{"click"}, TabURL: "https://x"}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if beat.ExtensionID != "bridge" || len(beat.Capabilities) != 1 || beat.TabURL != "https://x" {
		t.Errorf("unexpected heartbeat %+v", beat)
	}
}

func TestReportServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	err := newTestClient(srv.URL, credentials.Static("tok")).Report(context.Background(), Report{ID: "b"})
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected transport error, got %v", err)
	}
}
