package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/api"
	"github.com/IlyasAtabaev731/barter-market/internal/config"
	"github.com/IlyasAtabaev731/barter-market/internal/mailer"
	"github.com/IlyasAtabaev731/barter-market/internal/mailqueue"
	"github.com/IlyasAtabaev731/barter-market/internal/notify"
	"github.com/IlyasAtabaev731/barter-market/internal/services/barter"
	"github.com/IlyasAtabaev731/barter-market/internal/storage/postgres"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	_ "github.com/lib/pq"
)

const (
	envLocal = "local"
	envDev   = "dev"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("notifier", cfg.Notifier.Transport),
	)

	dbUrl := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Postgres.User,
		cfg.Postgres.Pass,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Db,
	)

	storage, err := postgres.New(dbUrl)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer storage.Stop()

	notifier, closeNotifier, err := setupNotifier(cfg, log)
	if err != nil {
		log.Error("Failed to set up notifier", "error", err)
		os.Exit(1)
	}
	defer closeNotifier()

	dispatcher := notify.NewDispatcher(log, notifier, cfg.Notifier.Workers, cfg.Notifier.QueueSize, cfg.Notifier.SendTimeout)
	dispatcher.Start()

	barters := barter.New(log, storage, dispatcher, cfg.FrontendURL, cfg.StoreTimeout)

	apiServer := api.New(cfg, log, storage, barters, []byte(cfg.JWT.Secret))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", "error", err)
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Error("Notifications left undelivered", "error", err)
	}
}

// setupNotifier builds the transport selected by config. The returned func
// releases its connections.
func setupNotifier(cfg *config.Config, log *slog.Logger) (notify.Notifier, func(), error) {
	switch cfg.Notifier.Transport {
	case "smtp":
		m, err := mailer.New(cfg.SMTP)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("barter-api"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("create JetStream context: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := mailqueue.EnsureStream(ctx, js, cfg.NATS); err != nil {
			nc.Close()
			return nil, nil, err
		}

		return mailqueue.NewPublisher(log, js, cfg.NATS.Subject), func() { _ = nc.Drain() }, nil
	default:
		return notify.NewLogNotifier(log), func() {}, nil
	}
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
