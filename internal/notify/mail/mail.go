// Package mail delivers plain-text notification emails over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"ensnotify/internal/config"
	"ensnotify/pkg/logx"
)

type Sender struct {
	client *gomail.Client
	cfg    config.MailConfig
	log    logx.Logger
}

func New(cfg config.MailConfig, log logx.Logger) (*Sender, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail host is empty")
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
	}
	if cfg.StartTLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail client: %w", err)
	}
	return &Sender{client: client, cfg: cfg, log: log}, nil
}

func (s *Sender) SendMail(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMsg()
	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return err
		}
	} else if err := msg.From(s.cfg.From); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		s.log.Warn("mail send failed", logx.String("to", to), logx.Err(err))
		return err
	}
	return nil
}
