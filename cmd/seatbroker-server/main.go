// Package main is the entrypoint for the seatbroker server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/api"
	"github.com/MacJediWizard/seatbroker/internal/config"
	"github.com/MacJediWizard/seatbroker/internal/crypto"
	"github.com/MacJediWizard/seatbroker/internal/db"
	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/maintenance"
	"github.com/MacJediWizard/seatbroker/internal/metrics"
	"github.com/MacJediWizard/seatbroker/internal/seats"
	"github.com/MacJediWizard/seatbroker/internal/vouchers"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting seatbroker server")

	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if cfg.AdminAPIKeyHash == "" {
		logger.Warn().Msg("ADMIN_API_KEY_HASH is not set, admin endpoints are disabled")
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	keyManager, err := crypto.NewKeyManagerFromString(cfg.EncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize key manager")
		return 1
	}

	store := database.Store()

	gw, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL: cfg.GatewayBaseURL,
		Timeout: cfg.GatewayTimeout,
		Proxy:   &cfg.Proxy,
	}, keyManager, store, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize gateway client")
		return 1
	}

	var locker seats.Locker
	switch cfg.LockMode {
	case config.LockModeLocal:
		locker = seats.NewKeyedLocker()
	default:
		locker = db.NewAdvisoryLocker(database, logger)
	}
	logger.Info().Str("lock_mode", string(cfg.LockMode)).Msg("Account locking configured")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	service := seats.NewService(store, gw, locker, recorder, seats.Config{
		MaxAttempts:      cfg.MaxAttempts,
		CommitRetries:    cfg.CommitRetries,
		DeleteOnRemove:   cfg.DeleteOnRemove,
		SyncAccountDelay: cfg.SyncAccountDelay,
	}, logger)

	scheduler := maintenance.NewScheduler(service, maintenance.Config{
		SweepSchedule:  cfg.SweepSchedule,
		SyncSchedule:   cfg.SyncSchedule,
		SweepBatchSize: cfg.SweepBatchSize,
	}, logger)

	routerCfg := api.DefaultConfig()
	routerCfg.Environment = cfg.Environment
	routerCfg.AllowedOrigins = cfg.CORSOrigins
	routerCfg.AdminKeyHash = cfg.AdminAPIKeyHash
	routerCfg.RateLimitRequests = cfg.RateLimitRequests
	routerCfg.RedeemRateLimitRequests = cfg.RedeemRateLimitRequests
	routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	routerCfg.SweepBatchSize = cfg.SweepBatchSize
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate

	router, err := api.NewRouter(routerCfg, api.Deps{
		Broker:   service,
		Store:    store,
		Issuer:   vouchers.NewIssuer(store, logger),
		Sealer:   keyManager,
		Database: database,
		Remote:   gw,
		Gatherer: registry,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create API router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Redemptions wait on the remote service across several failover attempts.
		WriteTimeout: 3 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start maintenance scheduler")
	}

	collector := metrics.NewCollector(service, recorder, cfg.MetricsInterval, logger)
	collector.Start(ctx)
	defer collector.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serveErr:
		logger.Error().Err(err).Msg("HTTP server error")
		code = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		code = 1
	}

	// Wait for a running sweep or sync to finish its current item.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Scheduled jobs still running at shutdown")
	}

	if code == 0 {
		logger.Info().Msg("Server stopped gracefully")
	}
	return code
}
