package mailer

import (
	"context"
	"fmt"

	"github.com/IlyasAtabaev731/barter-market/internal/config"
	"github.com/wneessen/go-mail"
)

// SMTP sends HTML mail through a single relay.
type SMTP struct {
	client *mail.Client
	from   string
}

func New(cfg config.SMTP) (*SMTP, error) {
	const op = "mailer.New"

	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%s: sender address is required", op)
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Pass),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &SMTP{client: client, from: cfg.From}, nil
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	const op = "mailer.Send"

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("%s: from: %w", op, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%s: to: %w", op, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
