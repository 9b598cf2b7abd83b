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

// TelegramSender posts notifications to a Telegram chat through the bot API.
type TelegramSender struct {
	client *http.Client
	token  string
	chatID string
}

// NewTelegramSender creates a sender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		client: &http.Client{Timeout: 10 * time.Second},
		token:  token,
		chatID: chatID,
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, ev domain.NotificationEvent) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       FormatMessage(ev),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("notify: telegram marshal: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: telegram send: status %d", resp.StatusCode)
	}
	return nil
}

// FormatMessage renders a notification as a short human-readable line.
func FormatMessage(ev domain.NotificationEvent) string {
	switch ev.Kind {
	case domain.NotifyNewLow:
		return fmt.Sprintf("*NEW LOW* %s %.2f → %.2f (%s)",
			ev.Instrument, ev.OldValue, ev.NewValue, ev.Timestamp.Format("15:04:05"))
	case domain.NotifyNearTarget:
		return fmt.Sprintf("*NEAR TARGET* %s at %.2f, target %.2f (%s)",
			ev.Instrument, ev.NewValue, ev.OldValue, ev.Timestamp.Format("15:04:05"))
	case domain.NotifyStopLossHit:
		return fmt.Sprintf("*STOP LOSS* %s entry %.2f now %.2f (%s)",
			ev.Instrument, ev.OldValue, ev.NewValue, ev.Timestamp.Format("15:04:05"))
	default:
		return fmt.Sprintf("%s %s %.2f → %.2f", ev.Kind, ev.Instrument, ev.OldValue, ev.NewValue)
	}
}
