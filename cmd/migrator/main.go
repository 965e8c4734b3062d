package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/url"
	"os"

	"github.com/IlyasAtabaev731/barter-market/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var migrationsPath, migrationsTable string
	var steps int

	flag.StringVar(&migrationsPath, "migrations-path", "./migrations", "path to migrations")
	flag.StringVar(&migrationsTable, "migrations-table", "migrations", "name of migrations table")
	flag.IntVar(&steps, "steps", 0, "apply n migrations, or roll back n when negative; 0 applies all")

	// Parses the flags above together with -config.
	cfg := config.MustLoad()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(
		slog.String("db", cfg.Postgres.Db),
		slog.String("host", cfg.Postgres.Host),
	)

	if migrationsPath == "" {
		log.Error("Migrations path is required")
		os.Exit(1)
	}

	m, err := migrate.New("file://"+migrationsPath, databaseURL(cfg.Postgres, migrationsTable))
	if err != nil {
		log.Error("Failed to open migrations", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if steps != 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("No migrations to apply")
		return
	}
	if err != nil {
		log.Error("Migration failed", "error", err)
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Error("Failed to read schema version", "error", err)
		os.Exit(1)
	}
	log.Info("Migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
}

// databaseURL builds the golang-migrate postgres URL from config.
func databaseURL(pg config.Postgres, migrationsTable string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(pg.User, pg.Pass),
		Host:   pg.Host + ":" + pg.Port,
		Path:   "/" + pg.Db,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("x-migrations-table", migrationsTable)
	u.RawQuery = q.Encode()
	return u.String()
}
