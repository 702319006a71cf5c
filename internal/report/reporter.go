// Package report delivers session results to the upstream ingestion API.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/task"
)

// errPermanent marks HTTP failures that retrying cannot fix (4xx responses).
var errPermanent = errors.New("permanent report failure")

// Metadata is the operator-facing summary attached to every report.
type Metadata struct {
	ResultSummary     string `json:"result_summary,omitempty"`
	MediaFileCount    int    `json:"media_file_count"`
	SuccessfulUploads int    `json:"successful_uploads"`
	StartingURL       string `json:"starting_url"`
	TaskPrompt        string `json:"task_prompt,omitempty"`
}

// SessionResult is the payload POSTed to the session-create endpoint. The
// endpoint is upsert-style keyed by project and flow, which keeps
// at-least-once redelivery safe.
type SessionResult struct {
	AgentHistory []task.Step    `json:"agent_history"`
	MediaURLs    []string       `json:"media_urls"`
	Status       task.Status    `json:"status"`
	Timestamp    string         `json:"timestamp"`
	Error        string         `json:"error,omitempty"`
	ScanData     map[string]any `json:"scan_data,omitempty"`
	Metadata     Metadata       `json:"metadata"`
}

// Client delivers an execution outcome for one project/flow pair.
type Client interface {
	SendSessionResult(ctx context.Context, projectID, flowID string, result SessionResult) error
}

// Config controls the HTTP reporter.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// HTTPClient implements Client over plain HTTP with bounded local retries.
type HTTPClient struct {
	base   string
	client *http.Client
	policy retryPolicy
	logger *zap.Logger
}

// NewHTTPClient validates the base URL and builds a reporter.
func NewHTTPClient(cfg Config, logger *zap.Logger) (*HTTPClient, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("report base url %q is not absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{Timeout: timeout},
		policy: newRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		logger: logger,
	}, nil
}

// SendSessionResult posts the result, retrying transient failures with
// jittered backoff. Exhausted retries surface as a ReportFailure.
func (c *HTTPClient) SendSessionResult(ctx context.Context, projectID, flowID string, result SessionResult) error {
	endpoint := fmt.Sprintf("%s/project/%s/flow/%s/session/create",
		c.base, url.PathEscape(projectID), url.PathEscape(flowID))

	body, err := json.Marshal(result)
	if err != nil {
		return task.Errorf(task.KindReportFailure, "marshal session result: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.post(ctx, endpoint, body)
		if lastErr == nil {
			return nil
		}
		if !c.policy.shouldRetry(lastErr, attempt) {
			break
		}
		c.logger.Warn("report delivery failed, retrying",
			zap.String("project_id", projectID),
			zap.String("flow_id", flowID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return task.Errorf(task.KindReportFailure, "report canceled: %w", ctx.Err())
		case <-time.After(c.policy.backoff(attempt)):
		}
	}
	return task.NewError(task.KindReportFailure, lastErr)
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "browser-runner/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post session result: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("report rejected with status %d: %s: %w", resp.StatusCode, snippet, errPermanent)
	}
	return fmt.Errorf("report failed with status %d: %s", resp.StatusCode, snippet)
}
