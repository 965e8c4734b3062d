package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/notify"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	errMalformed = errors.New("malformed job")
	errInFlight  = errors.New("job is being sent by another delivery")
)

type ClaimState int

const (
	Claimed ClaimState = iota + 1
	InFlight
	Sent
)

// Deduper guards against sending the same job twice across redeliveries.
// A claim is short lived until Confirm records the job as sent.
type Deduper interface {
	Claim(ctx context.Context, id string) (ClaimState, error)
	Confirm(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type ConsumerConfig struct {
	Stream      string
	Durable     string
	Subject     string
	MaxDeliver  int
	SendTimeout time.Duration
}

// Consumer drains the notification stream and hands each job to a Notifier.
type Consumer struct {
	log      *slog.Logger
	cfg      ConsumerConfig
	dedup    Deduper
	notifier notify.Notifier
}

func NewConsumer(log *slog.Logger, cfg ConsumerConfig, dedup Deduper, notifier notify.Notifier) *Consumer {
	return &Consumer{log: log, cfg: cfg, dedup: dedup, notifier: notifier}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context, js jetstream.JetStream) error {
	const op = "mailqueue.Consumer.Run"

	cons, err := js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.SendTimeout + 15*time.Second,
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer cc.Stop()

	c.log.Info("Consuming notifications",
		slog.String("stream", c.cfg.Stream),
		slog.String("durable", c.cfg.Durable),
	)

	<-ctx.Done()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	err := c.process(ctx, msg.Data())
	switch {
	case err == nil:
		if err := msg.Ack(); err != nil {
			c.log.Error("Failed to ack notification", "error", err)
		}
	case errors.Is(err, errMalformed):
		c.log.Error("Dropping notification", "error", err)
		_ = msg.Term()
	case errors.Is(err, errInFlight):
		c.log.Debug("Notification in flight elsewhere, retrying later")
		_ = msg.NakWithDelay(c.cfg.SendTimeout)
	default:
		c.log.Warn("Notification delivery failed, will retry", "error", err)
		_ = msg.Nak()
	}
}

// process delivers one job. A job confirmed as sent by an earlier delivery is
// skipped. A job still claimed by another delivery is retried later.
func (c *Consumer) process(ctx context.Context, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if job.ID == "" || job.To == "" {
		return fmt.Errorf("%w: missing id or recipient", errMalformed)
	}

	log := c.log.With(slog.String("job_id", job.ID))

	state, err := c.dedup.Claim(ctx, job.ID)
	if err != nil {
		return err
	}
	switch state {
	case Sent:
		log.Info("Notification already sent, skipping")
		return nil
	case InFlight:
		return errInFlight
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	if err := c.notifier.Send(sendCtx, job.To, job.Subject, job.Body); err != nil {
		if rerr := c.dedup.Release(ctx, job.ID); rerr != nil {
			log.Error("Failed to release notification claim", "error", rerr)
		}
		return err
	}

	if err := c.dedup.Confirm(ctx, job.ID); err != nil {
		log.Error("Failed to record notification as sent", "error", err)
	}

	log.Info("Notification sent", slog.String("subject", job.Subject))
	return nil
}
