package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

// DiscordSender posts notifications to a Discord webhook.
type DiscordSender struct {
	client     *http.Client
	webhookURL string
}

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *DiscordSender) Name() string { return "discord" }

func (d *DiscordSender) Send(ctx context.Context, ev domain.NotificationEvent) error {
	body, err := json.Marshal(map[string]string{"content": FormatMessage(ev)})
	if err != nil {
		return fmt.Errorf("notify: discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: discord send: status %d", resp.StatusCode)
	}
	return nil
}

// FilteredSender wraps a Sender and forwards only the listed kinds.
type FilteredSender struct {
	inner Sender
	kinds map[domain.NotificationKind]bool
}

// NewFilteredSender restricts inner to the given kinds. An empty kind list
// forwards everything.
func NewFilteredSender(inner Sender, kinds ...domain.NotificationKind) *FilteredSender {
	set := make(map[domain.NotificationKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &FilteredSender{inner: inner, kinds: set}
}

func (f *FilteredSender) Name() string { return f.inner.Name() }

func (f *FilteredSender) Send(ctx context.Context, ev domain.NotificationEvent) error {
	if len(f.kinds) > 0 && !f.kinds[ev.Kind] {
		return nil
	}
	return f.inner.Send(ctx, ev)
}
