package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/config"
	"github.com/MacJediWizard/seatbroker/internal/crypto"
	"github.com/MacJediWizard/seatbroker/internal/db"
	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/seats"
)

const gatewayTimeout = 30 * time.Second

// env is an open connection to a deployment's database.
type env struct {
	cfg    *config.CLIConfig
	logger zerolog.Logger
	db     *db.DB
	store  *db.Store
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// openEnv loads the configuration and connects to the database.
func openEnv(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(opts.verbose)

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxConns = 5
	dbCfg.MinConns = 1
	dbCfg.ApplicationName = "seatctl"

	database, err := db.New(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		db:     database,
		store:  database.Store(),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

func (e *env) keys() (*crypto.KeyManager, error) {
	if e.cfg.EncryptionKey == "" {
		return nil, errors.New("encryption_key is required for this command")
	}
	km, err := crypto.NewKeyManagerFromString(e.cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	return km, nil
}

// service builds the seat engine. It takes the same advisory locks as
// the server so both can run against one database.
func (e *env) service() (*seats.Service, error) {
	if e.cfg.GatewayBaseURL == "" {
		return nil, errors.New("gateway_base_url is required for this command")
	}
	km, err := e.keys()
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL: e.cfg.GatewayBaseURL,
		Timeout: gatewayTimeout,
		Proxy:   &e.cfg.Proxy,
	}, km, e.store, e.logger)
	if err != nil {
		return nil, fmt.Errorf("create gateway client: %w", err)
	}

	return seats.NewService(e.store, gw, db.NewAdvisoryLocker(e.db, e.logger), nil, seats.DefaultConfig(), e.logger), nil
}

// localService builds the seat engine for commands that never call the
// remote service.
func (e *env) localService() *seats.Service {
	return seats.NewService(e.store, nil, db.NewAdvisoryLocker(e.db, e.logger), nil, seats.DefaultConfig(), e.logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
