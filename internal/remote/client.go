// Package remote talks to the remote action queue: pending batches, result
// reports and heartbeats. Every call carries a freshly looked-up bearer token.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/config"
	"taskingbot-bridge/internal/credentials"
)

const maxResponseBytes = 5 << 20

var (
	// ErrNoBatch means the queue has nothing pending.
	ErrNoBatch = errors.New("no pending batch")
	// ErrUnauthorized means the service rejected the session.
	ErrUnauthorized = errors.New("unauthorized")
)

var authFailure = regexp.MustCompile(`(?i)not authenticated|unauthorized|login required`)

// Report is the composite outcome posted once per batch.
type Report struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Status string `json:"status"`
}

// Heartbeat registers the bridge and its current tab with the service.
type Heartbeat struct {
	ExtensionID  string   `json:"extension_id"`
	Capabilities []string `json:"capabilities"`
	TabURL       string   `json:"tab_url"`
	TabTitle     string   `json:"tab_title"`
}

// Client is the HTTP client for the queue endpoints.
type Client struct {
	baseURL       string
	pendingPath   string
	reportPath    string
	heartbeatPath string
	httpClient    *http.Client
	tokens        credentials.Source
	logger        *zap.Logger
}

func New(cfg config.RemoteConfig, tokens credentials.Source, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		pendingPath:   cfg.PendingPath,
		reportPath:    cfg.ReportPath,
		heartbeatPath: cfg.HeartbeatPath,
		httpClient:    &http.Client{Timeout: cfg.GetRequestTimeout()},
		tokens:        tokens,
		logger:        logger.With(zap.String("component", "remote")),
	}
}

// FetchPending asks for the next batch. An empty queue yields ErrNoBatch and
// a rejected session ErrUnauthorized.
func (c *Client) FetchPending(ctx context.Context) (action.Batch, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.pendingPath, nil)
	if err != nil {
		return action.Batch{}, err
	}
	if status == http.StatusNoContent || status == http.StatusNotFound {
		return action.Batch{}, ErrNoBatch
	}
	if status < 200 || status >= 300 {
		return action.Batch{}, fmt.Errorf("fetch pending returned %d: %s", status, snippet(body))
	}
	return decodeBatch(body)
}

// Report posts the outcome of a batch.
func (c *Client) Report(ctx context.Context, r Report) error {
	return c.post(ctx, "report", c.reportPath, r)
}

// Heartbeat posts the bridge registration.
func (c *Client) Heartbeat(ctx context.Context, h Heartbeat) error {
	return c.post(ctx, "heartbeat", c.heartbeatPath, h)
}

func (c *Client) post(ctx context.Context, name, path string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	status, body, err := c.do(ctx, http.MethodPost, path, raw)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s returned %d: %s", name, status, snippet(body))
	}
	return nil
}

// do looks up the token before touching the network and classifies auth
// failures from the status or the reply.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.logger.Debug("remote call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if isAuthFailure(resp.StatusCode, body) {
		return resp.StatusCode, body, ErrUnauthorized
	}
	return resp.StatusCode, body, nil
}

// isAuthFailure trusts the body text only on error statuses. A 2xx reply
// counts as a failure only when its top-level "error" string says so, since
// action text in a batch can contain the same words.
func isAuthFailure(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if status < 200 || status >= 300 {
		return authFailure.MatchString(string(body))
	}
	var reply struct {
		Error interface{} `json:"error"`
	}
	if json.Unmarshal(body, &reply) != nil {
		return false
	}
	msg, _ := reply.Error.(string)
	return msg != "" && authFailure.MatchString(msg)
}

// decodeBatch accepts {id, actions}, {batch: {id, actions}} or an empty body.
func decodeBatch(body []byte) (action.Batch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == "{}" {
		return action.Batch{}, ErrNoBatch
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return action.Batch{}, fmt.Errorf("decode pending batch: %w", err)
	}
	if inner, ok := envelope["batch"]; ok {
		m, ok := inner.(map[string]interface{})
		if !ok {
			return action.Batch{}, ErrNoBatch
		}
		envelope = m
	}

	id := strings.TrimSpace(fmt.Sprint(envelope["id"]))
	if envelope["id"] == nil || id == "" {
		return action.Batch{}, ErrNoBatch
	}
	items := action.ListFrom(envelope)
	if len(items) == 0 {
		return action.Batch{}, ErrNoBatch
	}
	return action.Batch{ID: id, CreatedAt: time.Now().UTC(), Actions: action.DecodeAll(items)}, nil
}

func snippet(body []byte) string {
	return action.Truncate(strings.TrimSpace(string(body)), 200)
}
