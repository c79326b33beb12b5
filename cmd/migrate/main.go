// Package main provides the database migration CLI tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/db"
)

func main() {
	var (
		dbURL  = flag.String("db", "", "Database URL (or set DATABASE_URL env var)")
		status = flag.Bool("status", false, "Show applied and pending migrations")
		list   = flag.Bool("list", false, "List embedded migrations without connecting")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	migrations, err := db.GetMigrations()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read embedded migrations")
	}

	if *list {
		for _, m := range migrations {
			fmt.Printf("  %03d: %s\n", m.Version, m.Name)
		}
		return
	}

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Fatal().Msg("database URL required: use -db flag or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1
	cfg.ApplicationName = "seatbroker-migrate"

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if *status {
		states, err := database.MigrationStatus(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read migration status")
		}
		printStatus(os.Stdout, states)
		return
	}

	logger.Info().Int("available", len(migrations)).Msg("running database migrations")
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not get current version")
		return
	}
	logger.Info().Int("version", version).Msg("migrations complete")
}

// printStatus writes one line per embedded migration with its applied time.
func printStatus(w io.Writer, states []db.MigrationState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No migrations found")
		return
	}

	pending := 0
	for _, s := range states {
		if s.Pending() {
			pending++
			fmt.Fprintf(w, "  [pending] %03d: %s\n", s.Version, s.Name)
			continue
		}
		fmt.Fprintf(w, "  [applied] %03d: %s (%s)\n", s.Version, s.Name, s.AppliedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "%d applied, %d pending\n", len(states)-pending, pending)
}
