// Package taskservice is the HTTP/JSON client for the external
// task-dependency service. upm plans and validates locally; when the
// service is enabled, runs and graphs are mirrored to it so other tools
// can see them.
package taskservice

// #region imports
import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

// #endregion

// #region types

// Client talks to one task-dependency service.
type Client struct {
	baseURL string
	http    *http.Client
	retries int
}

// APIError is a structured error body returned by the service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task service: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// Edge is one dependency edge for remote validation.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Plan mirrors a run plan to the service.
type Plan struct {
	RunID        string     `json:"run_id"`
	Project      string     `json:"project"`
	Waves        [][]string `json:"waves"`
	CriticalPath []string   `json:"critical_path"`
}

// ValidationResult is the service's verdict on a graph.
type ValidationResult struct {
	Valid bool     `json:"valid"`
	Cycle []string `json:"cycle,omitempty"`
}

// Assignment is a remotely managed task assignment.
type Assignment struct {
	TaskID   string `json:"task_id"`
	Assignee string `json:"assignee"`
	Priority int    `json:"priority"`
}

// #endregion types

// #region constructor

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient injects a transport, used by tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a client from service config.
func New(cfg config.ServiceConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		retries: cfg.Retries,
		http:    &http.Client{Timeout: cfg.Timeout.Std()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// #endregion constructor

// #region operations

// Health checks the service is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// SyncPlan mirrors a run plan. Idempotent on RunID, so retried.
func (c *Client) SyncPlan(ctx context.Context, plan Plan) error {
	return c.call(ctx, http.MethodPost, "/api/v1/plans", plan, nil)
}

// ValidateGraph asks the service to validate a dependency edge set.
func (c *Client) ValidateGraph(ctx context.Context, edges []Edge) (ValidationResult, error) {
	var out ValidationResult
	err := c.call(ctx, http.MethodPost, "/api/v1/graph/validate",
		map[string]interface{}{"edges": edges}, &out)
	return out, err
}

// FetchAssignments lists remote task assignments for a project.
func (c *Client) FetchAssignments(ctx context.Context, project string) ([]Assignment, error) {
	q := url.Values{"project": {project}}
	var out []Assignment
	err := c.call(ctx, http.MethodGet, "/api/v1/assignments?"+q.Encode(), nil, &out)
	return out, err
}

// #endregion operations

// #region call

// call issues a request with retry on transport errors and 5xx responses.
// 4xx responses are the caller's fault and never retried.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) (retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "unknown", Message: resp.Status}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, apiErr)
		return resp.StatusCode >= 500, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}

func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << uint(attempt)
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// #endregion call
