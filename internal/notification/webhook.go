package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each alert as JSON with an RFC 3339 "ts" field.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient(), now: time.Now}
}

type webhookPayload struct {
	Alert
	TS string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{Alert: alert, TS: w.now().UTC().Format(time.RFC3339Nano)}
	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	slog.Debug("webhook alert sent", slog.String("title", alert.Title))
	return nil
}
