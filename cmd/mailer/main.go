package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/IlyasAtabaev731/barter-market/internal/config"
	"github.com/IlyasAtabaev731/barter-market/internal/mailer"
	"github.com/IlyasAtabaev731/barter-market/internal/mailqueue"
	"github.com/IlyasAtabaev731/barter-market/internal/storage/redis"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	envLocal = "local"
	envDev   = "dev"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting mailer",
		slog.String("env", cfg.Env),
		slog.String("stream", cfg.NATS.Stream),
		slog.String("smtp_host", cfg.SMTP.Host),
	)

	smtp, err := mailer.New(cfg.SMTP)
	if err != nil {
		log.Error("Failed to set up SMTP", "error", err)
		os.Exit(1)
	}

	dedup, err := redis.New(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, cfg.Redis.InflightTTL, cfg.Redis.DedupTTL)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer dedup.Stop()

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("barter-mailer"))
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Error("Failed to create JetStream context", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := mailqueue.EnsureStream(ctx, js, cfg.NATS); err != nil {
		log.Error("Failed to set up stream", "error", err)
		os.Exit(1)
	}

	consumer := mailqueue.NewConsumer(log, mailqueue.ConsumerConfig{
		Stream:      cfg.NATS.Stream,
		Durable:     cfg.NATS.Durable,
		Subject:     cfg.NATS.Subject,
		MaxDeliver:  cfg.NATS.MaxDeliver,
		SendTimeout: cfg.Notifier.SendTimeout,
	}, dedup, smtp)

	if err := consumer.Run(ctx, js); err != nil {
		log.Error("Consumer stopped", "error", err)
		os.Exit(1)
	}

	log.Info("Mailer stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
