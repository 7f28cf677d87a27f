package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers alerts to a channel through an incoming webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender builds a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newSendClient(),
	}
}

func (d *DiscordSender) Name() string { return "discord" }

// Send posts the alert with the title in bold. Discord answers webhook posts
// with 204 No Content.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := struct {
		Content string `json:"content"`
	}{
		Content: fmt.Sprintf("**%s**\n%s", title, message),
	}

	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}

var _ Sender = (*DiscordSender)(nil)
