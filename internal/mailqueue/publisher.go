package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher queues e-mails on JetStream instead of sending them.
type Publisher struct {
	log     *slog.Logger
	js      jetstream.JetStream
	subject string
}

func NewPublisher(log *slog.Logger, js jetstream.JetStream, subject string) *Publisher {
	return &Publisher{log: log, js: js, subject: subject}
}

func (p *Publisher) Send(ctx context.Context, to, subject, body string) error {
	const op = "mailqueue.Publisher.Send"

	job := Job{ID: uuid.NewString(), To: to, Subject: subject, Body: body}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ack, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(job.ID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.log.Debug("Notification queued",
		slog.String("job_id", job.ID),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}
