// Package notify defines the outbound delivery surfaces. Each adapter wraps
// one transport; the dispatcher only ever sees these interfaces.
package notify

import "context"

// ChatSender posts a text message to a named broadcast destination, such as
// a Telegram channel.
type ChatSender interface {
	SendText(ctx context.Context, destination, text string) error
}

// Embed is the structured payload a webhook destination renders as a card.
// Footer, when set, goes out as a trailing companion embed.
type Embed struct {
	Title       string
	Description string
	Footer      string
}

// WebhookSender posts an embed to a webhook URL.
type WebhookSender interface {
	SendEmbed(ctx context.Context, webhookURL string, embed Embed) error
}

// MailSender delivers a plain-text email to a single recipient.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, body string) error
}
