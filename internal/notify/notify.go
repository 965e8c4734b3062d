package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers one e-mail shaped message.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// LogNotifier only logs messages. Used when no mail transport is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, to, subject, body string) error {
	n.log.Info("Notification",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_len", len(body)),
	)
	return nil
}
