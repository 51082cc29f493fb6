package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts completion events as JSON to the orchestrator endpoint.
type Webhook struct {
	url       string
	authToken string
	client    *http.Client
}

// NewWebhook constructs a Webhook notifier. A zero timeout defaults to
// 15 seconds; the signal must never hang cleanup indefinitely.
func NewWebhook(url, authToken string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Webhook{
		url:       url,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Notify delivers the event with a single POST. Non-2xx responses are
// errors; the caller logs and moves on, it never retries.
func (w *Webhook) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build signal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post signal: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // drain-and-close only

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("signal rejected: status %d", resp.StatusCode)
	}
	return nil
}
