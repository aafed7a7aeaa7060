package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// WebhookEvent is the JSON body posted to webhooks.
type WebhookEvent struct {
	Source string             `json:"source"`
	Event  string             `json:"event"` // "alert" or "resolved"
	SentAt time.Time          `json:"sent_at"`
	Alert  model.Notification `json:"alert"`
}

// WebhookProvider posts notifications as JSON to an HTTP endpoint.
type WebhookProvider struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	now     func() time.Time
}

// NewWebhook creates a webhook provider. An empty method means POST.
func NewWebhook(url, method string, headers map[string]string) *WebhookProvider {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookProvider{
		url:     url,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

func (w *WebhookProvider) Send(ctx context.Context, n model.Notification) error {
	ev := WebhookEvent{Source: "diskmon", Event: "alert", SentAt: w.now().UTC(), Alert: n}
	if n.Resolved {
		ev.Event = "resolved"
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Diskmon-Alert", n.AlertType)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
