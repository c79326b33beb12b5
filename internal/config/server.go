// Package config loads seatbroker configuration from the environment and
// from YAML files.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// LockMode selects how account reservations are serialized.
type LockMode string

const (
	// LockModeAdvisory uses PostgreSQL advisory locks, safe across replicas.
	LockModeAdvisory LockMode = "advisory"
	// LockModeLocal uses in-process locks for a single replica.
	LockModeLocal LockMode = "local"
)

// ServerConfig holds server configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string
	DatabaseURL string
	// EncryptionKey is the hex encoded AES-256 key protecting account credentials.
	EncryptionKey string
	// AdminAPIKeyHash is the bcrypt hash of the admin bearer key.
	AdminAPIKeyHash string
	CORSOrigins     []string

	RateLimitRequests       int64
	RateLimitPeriod         string
	RedeemRateLimitRequests int64

	MaxAttempts      int
	CommitRetries    int
	DeleteOnRemove   bool
	LockMode         LockMode
	SweepBatchSize   int
	SweepSchedule    string
	SyncSchedule     string
	SyncAccountDelay time.Duration
	// MetricsInterval is how often account gauges are refreshed. Zero disables it.
	MetricsInterval time.Duration

	GatewayBaseURL string
	GatewayTimeout time.Duration
	Proxy          ProxyConfig
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		listenAddr = ":" + port
	}

	lockMode := LockMode(strings.ToLower(os.Getenv("LOCK_MODE")))
	if lockMode != LockModeLocal {
		lockMode = LockModeAdvisory
	}

	maxAttempts := getEnvInt("ALLOCATION_MAX_ATTEMPTS", 5)
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	commitRetries := getEnvInt("COMMIT_RETRIES", 3)
	if commitRetries < 1 {
		commitRetries = 3
	}
	sweepBatch := getEnvInt("SWEEP_BATCH_SIZE", 100)
	if sweepBatch < 1 {
		sweepBatch = 100
	}

	rateLimitPeriod := os.Getenv("RATE_LIMIT_PERIOD")
	if rateLimitPeriod == "" {
		rateLimitPeriod = "1m"
	}

	return ServerConfig{
		Environment:             env,
		ListenAddr:              listenAddr,
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		EncryptionKey:           os.Getenv("ENCRYPTION_KEY"),
		AdminAPIKeyHash:         os.Getenv("ADMIN_API_KEY_HASH"),
		CORSOrigins:             splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitRequests:       int64(getEnvInt("RATE_LIMIT_REQUESTS", 100)),
		RateLimitPeriod:         rateLimitPeriod,
		RedeemRateLimitRequests: int64(getEnvInt("REDEEM_RATE_LIMIT_REQUESTS", 10)),
		MaxAttempts:             maxAttempts,
		CommitRetries:           commitRetries,
		DeleteOnRemove:          getEnvBool("DELETE_ON_REMOVE", true),
		LockMode:                lockMode,
		SweepBatchSize:          sweepBatch,
		SweepSchedule:           getEnvString("SWEEP_SCHEDULE", "*/30 * * * *"),
		SyncSchedule:            getEnvString("SYNC_SCHEDULE", "0 4 * * *"),
		SyncAccountDelay:        getEnvDuration("SYNC_ACCOUNT_DELAY", 2*time.Second),
		MetricsInterval:         getEnvDuration("METRICS_REFRESH_INTERVAL", 5*time.Minute),
		GatewayBaseURL:          strings.TrimRight(os.Getenv("GATEWAY_BASE_URL"), "/"),
		GatewayTimeout:          getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		Proxy:                   LoadProxyConfig(),
	}
}

// Validate checks the settings required to serve traffic.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	}
	if c.GatewayBaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_BASE_URL is required"))
	}
	if c.Environment == EnvProduction && c.AdminAPIKeyHash == "" {
		errs = append(errs, errors.New("ADMIN_API_KEY_HASH is required in production"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration, returning the default if unset, invalid or negative.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
