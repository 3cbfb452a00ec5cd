// Package notify delivers operator notifications for scan completion and
// pipeline milestones.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "notify")

// LogNotifier writes notifications to the log. It is the fallback when no
// webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, title, message string) error {
	log.WithField("title", title).Info(message)
	return nil
}

type webhookPayload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookNotifier POSTs a JSON payload to a chat or automation webhook.
// Text carries "title: message" for Slack-compatible receivers.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client, now: time.Now}
}

func (w *WebhookNotifier) Notify(ctx context.Context, title, message string) error {
	body, err := json.Marshal(webhookPayload{
		Title:   title,
		Message: message,
		Text:    title + ": " + message,
		SentAt:  w.now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
