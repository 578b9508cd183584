package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/tripreel-api/internal/poll"
)

// HTTPClient talks to an orchestrator exposing a small REST API:
//
//	POST {base}/executions        -> {"execution_id": "..."}
//	GET  {base}/executions/{id}   -> {"status": "...", "output": "...", "error": "..."}
type HTTPClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	retryPolicy poll.Policy
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p poll.Policy) ClientOption {
	return func(hc *HTTPClient) {
		hc.retryPolicy = p
	}
}

// NewHTTPClient creates an orchestrator client for baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrRequestFailed)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("workflow: invalid base URL: %w", err)
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryPolicy: poll.Policy{
			InitialInterval: time.Second,
			MaxInterval:     8 * time.Second,
			Multiplier:      2,
			MaxAttempts:     4,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type triggerResponse struct {
	ExecutionID string `json:"execution_id"`
	ID          string `json:"id"`
	Error       string `json:"error,omitempty"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Trigger starts an execution.
func (c *HTTPClient) Trigger(ctx context.Context, payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("workflow: marshal payload: %w", err)
	}

	var resp triggerResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/executions", body, &resp); err != nil {
		return "", err
	}

	id := resp.ExecutionID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrNoExecutionID, resp.Error)
		}
		return "", ErrNoExecutionID
	}
	return id, nil
}

// Status returns the execution state.
func (c *HTTPClient) Status(ctx context.Context, executionID string) (Execution, error) {
	if executionID == "" {
		return Execution{}, ErrExecutionIDRequired
	}

	u := c.baseURL + "/executions/" + url.PathEscape(executionID)

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return Execution{}, err
	}

	exec := Execution{
		ID:     executionID,
		Status: normalizeStatus(resp.Status),
		Error:  resp.Error,
	}
	if len(resp.Output) > 0 && string(resp.Output) != "null" {
		exec.Output = string(resp.Output)
	}
	return exec, nil
}

// normalizeStatus maps the common spellings of execution states onto Status.
func normalizeStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCEEDED", "SUCCESS", "COMPLETED":
		return StatusSucceeded
	case "FAILED", "ERROR":
		return StatusFailed
	case "TIMED_OUT", "TIMEOUT":
		return StatusTimedOut
	case "ABORTED", "CANCELLED", "CANCELED":
		return StatusAborted
	case "", "RUNNING", "PENDING", "IN_PROGRESS", "QUEUED":
		return StatusRunning
	default:
		return Status(strings.ToUpper(s))
	}
}

func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, u string, body []byte, result any) error {
	err := poll.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
		return c.doRequest(ctx, method, u, body, result)
	})
	if err != nil {
		return fmt.Errorf("workflow: %s %s: %w", method, u, err)
	}
	return nil
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, u string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("workflow: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return poll.Retryable(fmt.Errorf("workflow: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return poll.Retryable(fmt.Errorf("workflow: read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return poll.Retryable(fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody)))
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return poll.Retryable(fmt.Errorf("%w: %s", ErrRateLimited, string(respBody)))
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("workflow: unmarshal response: %w", err)
		}
	}
	return nil
}
