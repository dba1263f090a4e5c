// Package telegram sends broadcast messages to Telegram channels.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"ensnotify/pkg/logx"
)

// apiTimeout bounds each Bot API call. Without it telebot falls back to
// http.DefaultClient, and a stalled call would leak the send goroutine even
// after the caller's context expires.
const apiTimeout = 30 * time.Second

// Sender posts formatted messages to channels by @username. Messages use
// legacy Markdown parse mode; the formatter escapes accordingly.
type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

func New(token string, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(botSettings(token))
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b, log: log}, nil
}

// botSettings is send-only: no poller, no update handling.
func botSettings(token string) tele.Settings {
	return tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: apiTimeout},
	}
}

// channelName satisfies tele.Recipient for "@channel" destinations.
type channelName string

func (c channelName) Recipient() string { return string(c) }

func (s *Sender) SendText(ctx context.Context, destination, text string) error {
	if strings.TrimSpace(destination) == "" {
		return errors.New("telegram destination is empty")
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(channelName(destination), text, &tele.SendOptions{
			ParseMode: tele.ModeMarkdown,
		})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			s.log.Warn("telegram send failed",
				logx.String("destination", destination), logx.Err(err))
		}
		return err
	}
}
