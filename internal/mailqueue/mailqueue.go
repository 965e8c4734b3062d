package mailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/config"
	"github.com/nats-io/nats.go/jetstream"
)

// Job is one queued e-mail. ID is used for deduplication on both ends.
type Job struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EnsureStream creates the notification stream or brings its config up to date.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg config.NATS) (jetstream.Stream, error) {
	const op = "mailqueue.EnsureStream"

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Outgoing barter notification e-mails",
		Subjects:    []string{cfg.Subject},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return stream, nil
}
