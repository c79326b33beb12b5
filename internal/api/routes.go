// Package api provides the HTTP API for the seatbroker server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/api/handlers"
	"github.com/MacJediWizard/seatbroker/internal/api/middleware"
	"github.com/MacJediWizard/seatbroker/internal/config"
)

// maxBodyBytes caps request bodies. The largest legitimate body is a
// voucher import of 1000 codes.
const maxBodyBytes = 256 << 10

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS on the public redemption route.
	AllowedOrigins []string
	// AdminKeyHash is the bcrypt hash of the admin bearer key.
	AdminKeyHash string
	// RateLimitRequests is the number of admin requests allowed per period and client.
	RateLimitRequests int64
	// RedeemRateLimitRequests is the number of redemptions allowed per period and client.
	RedeemRateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// SweepBatchSize is the default batch of a sweep started over HTTP.
	SweepBatchSize int
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:             config.EnvDevelopment,
		AllowedOrigins:          []string{},
		RateLimitRequests:       100,
		RedeemRateLimitRequests: 10,
		RateLimitPeriod:         "1m",
		Version:                 "dev",
		Commit:                  "unknown",
		BuildDate:               "unknown",
	}
}

// Broker is the seat engine surface served over HTTP.
type Broker interface {
	handlers.Allocator
	handlers.MemberRemover
	handlers.Sweeper
	handlers.Auditor
	handlers.RosterSyncer
	handlers.SeatQuerier
}

// Store is the persistence surface used directly by admin handlers.
type Store interface {
	handlers.AccountStore
	handlers.VoucherStore
}

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Broker   Broker
	Store    Store
	Issuer   handlers.VoucherIssuer
	Sealer   handlers.Sealer
	Database handlers.DatabaseHealthChecker
	Remote   handlers.RemoteHealthChecker
	Gatherer prometheus.Gatherer
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.BodyLimit(maxBodyBytes))

	redeemLimiter, err := middleware.NewRateLimiter(cfg.RedeemRateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	adminLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}

	// Public endpoints
	handlers.NewHealthHandler(deps.Database, deps.Remote, logger).RegisterPublicRoutes(r.Engine)
	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	}
	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	public := r.Engine.Group("/api/v1")
	public.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger))
	public.Use(redeemLimiter)
	handlers.NewRedeemHandler(deps.Broker, logger).RegisterRoutes(public)
	// Preflight for the redemption page.
	public.OPTIONS("/redeem", func(*gin.Context) {})

	// Admin endpoints
	admin := r.Engine.Group("/api/v1")
	admin.Use(adminLimiter)
	admin.Use(middleware.AdminAuth(cfg.AdminKeyHash, logger))

	versionHandler.RegisterRoutes(admin)
	handlers.NewMembersHandler(deps.Broker, logger).RegisterRoutes(admin)
	handlers.NewMaintenanceHandler(deps.Broker, cfg.SweepBatchSize, logger).RegisterRoutes(admin)
	handlers.NewConsistencyHandler(deps.Broker, logger).RegisterRoutes(admin)
	handlers.NewSyncHandler(deps.Broker, logger).RegisterRoutes(admin)
	handlers.NewSeatsHandler(deps.Broker, logger).RegisterRoutes(admin)
	handlers.NewAccountsHandler(deps.Store, deps.Sealer, logger).RegisterRoutes(admin)
	handlers.NewVouchersHandler(deps.Store, deps.Issuer, logger).RegisterRoutes(admin)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
