package planningsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the external planning store's status-update API:
// update_status(page_id, status, extra_fields).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// temporaryError marks an error retryable by pkg/retry.Classify.
type temporaryError struct{ err error }

func (e *temporaryError) Error() string   { return e.err.Error() }
func (e *temporaryError) Unwrap() error   { return e.err }
func (e *temporaryError) Temporary() bool { return true }

// UpdateStatus POSTs a status update for planningPageID. 5xx responses and
// transport errors are wrapped as temporary (retryable); 4xx are permanent.
func (c *Client) UpdateStatus(ctx context.Context, planningPageID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal planning store payload: %w", err)
	}

	url := c.baseURL + "/pages/" + planningPageID + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build planning store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &temporaryError{fmt.Errorf("planning store request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &temporaryError{fmt.Errorf("planning store returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("planning store rejected update: status %d", resp.StatusCode)
	}
	return nil
}
