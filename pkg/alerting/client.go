package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a thin wrapper around a single outbound webhook URL. Unlike the
// Slack API client this generalizes from, there's no SDK to wrap - the
// contract is "POST a JSON body to one URL" - so a plain http.Client is the
// whole implementation, the same way the reference ingest handler in this
// corpus reaches for net/http directly rather than a webhook SDK for a
// single fixed endpoint.
type Client struct {
	webhookURL string
	http       *http.Client
}

// NewClient builds a Client posting to webhookURL.
func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Post sends alert to the webhook.
func (c *Client) Post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
