// Package discord posts embeds to Discord webhook URLs. The webhook API is
// a single JSON POST, so this speaks net/http directly rather than pulling
// in a full Discord client.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ensnotify/internal/notify"
	"ensnotify/pkg/logx"
)

type embedPayload struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type webhookPayload struct {
	Embeds []embedPayload `json:"embeds"`
}

type Sender struct {
	client *http.Client
	log    logx.Logger
}

func New(log logx.Logger) *Sender {
	return &Sender{
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

func (s *Sender) SendEmbed(ctx context.Context, webhookURL string, embed notify.Embed) error {
	if webhookURL == "" {
		return errors.New("discord webhook url is empty")
	}
	payload := webhookPayload{
		Embeds: []embedPayload{{Title: embed.Title, Description: embed.Description}},
	}
	if embed.Footer != "" {
		payload.Embeds = append(payload.Embeds, embedPayload{Description: embed.Footer})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("discord webhook: status %d: %s", resp.StatusCode, b)
		s.log.Warn("discord send failed", logx.Int("status", resp.StatusCode), logx.Err(err))
		return err
	}
	return nil
}
