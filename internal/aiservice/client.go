package aiservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TokenHeader     = "X-Internal-Token"
	RequestIDHeader = "X-Request-ID"

	JobTypeDocumentIngest = "document_ingest"
)

// Config holds the AI service endpoint
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// IngestRequest hands one processing job to the AI service. The service reports
// step progress back through the internal write-back API.
type IngestRequest struct {
	Type       string `json:"type"`
	JobID      string `json:"job_id"`
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
	StepKey    string `json:"step_key,omitempty"`
}

// JobResponse is the AI service's view of an accepted job
type JobResponse struct {
	JobID      string          `json:"job_id"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Progress   float64         `json:"progress"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      *string         `json:"error,omitempty"`
	ProjectID  string          `json:"project_id,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusError is a non-2xx answer from the AI service
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai service returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if sent again
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary reports whether err is worth retrying. Transport failures are.
func IsTemporary(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// Client talks to the AI microservice over HTTP
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("AI client initialized", slog.String("base_url", cfg.BaseURL))

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SubmitIngest asks the AI service to run (or continue) a job's pipeline
func (c *Client) SubmitIngest(ctx context.Context, req IngestRequest) (*JobResponse, error) {
	if req.Type == "" {
		req.Type = JobTypeDocumentIngest
	}

	var resp JobResponse
	if err := c.sendJSON(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck pings the AI service
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	reqID := uuid.NewString()
	start := time.Now()

	var payload io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)
	req.Header.Set(RequestIDHeader, reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("AI service request failed",
			slog.String("request_id", reqID),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return fmt.Errorf("ai service unavailable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("AI service response",
		slog.String("request_id", reqID),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode/100 != 2 {
		message := http.StatusText(resp.StatusCode)
		var errBody errorResponse
		if json.Unmarshal(raw, &errBody) == nil && errBody.Message != "" {
			message = errBody.Message
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid ai service response: %w", err)
	}
	return nil
}
