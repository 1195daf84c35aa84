// Package notifier delivers notifications to the human approval channel.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/colonyops/crew/internal/core/notify"
)

var (
	_ notify.Notifier = (*Webhook)(nil)
	_ notify.Notifier = (*Writer)(nil)
)

// Webhook posts notifications to an incoming-webhook URL as {"text": ...}.
// Slack, Mattermost and most chat bridges accept this shape.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook notifier. A zero timeout means no limit
// beyond the caller's context.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// Notify sends n to the webhook. Any non-2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(webhookPayload{Text: Format(n)})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Writer prints notifications one per line. It is used when no webhook is
// configured.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer notifier over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Notify(_ context.Context, n notify.Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.w, "%s %s\n", n.CreatedAt.Format(time.DateTime), Format(n))
	return err
}

// Format renders n as a single chat line.
func Format(n notify.Notification) string {
	var b strings.Builder
	switch n.Level {
	case notify.LevelWarning:
		b.WriteString("[warning] ")
	case notify.LevelError:
		b.WriteString("[error] ")
	}
	if n.TaskID != "" {
		fmt.Fprintf(&b, "(%s) ", n.TaskID)
	}
	b.WriteString(n.Message)
	return b.String()
}
