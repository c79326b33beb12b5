// Package maintenance runs the periodic seat jobs: expiry sweeps and
// remote member synchronization.
package maintenance

import (
	"context"
	"errors"
	"sync"

	"github.com/MacJediWizard/seatbroker/internal/seats"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SeatJobs is the part of the seat service driven by the scheduler.
type SeatJobs interface {
	SweepExpired(ctx context.Context, limit int) (seats.SweepStats, error)
	SyncAll(ctx context.Context) ([]*seats.SyncResult, error)
	ValidateConsistency(ctx context.Context) ([]seats.Finding, error)
}

// Config holds the cron expressions and batch size for scheduled jobs.
// An empty schedule disables that job.
type Config struct {
	SweepSchedule  string
	SyncSchedule   string
	SweepBatchSize int
}

// Scheduler runs expiry sweeps and member syncs on a cron schedule.
type Scheduler struct {
	jobs    SeatJobs
	cfg     Config
	cron    *cron.Cron
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new maintenance scheduler.
func NewScheduler(jobs SeatJobs, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = seats.DefaultSweepLimit
	}
	return &Scheduler{
		jobs:   jobs,
		cfg:    cfg,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the configured jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("maintenance scheduler already running")
	}

	if s.cfg.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.RunSweep); err != nil {
			return err
		}
	}
	if s.cfg.SyncSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.SyncSchedule, s.RunSync); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("sweep_schedule", s.cfg.SweepSchedule).
		Str("sync_schedule", s.cfg.SyncSchedule).
		Int("sweep_batch_size", s.cfg.SweepBatchSize).
		Msg("maintenance scheduler started")

	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping maintenance scheduler")
	return s.cron.Stop()
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunSweep ends one batch of expired seats and logs any consistency findings.
func (s *Scheduler) RunSweep() {
	ctx := context.Background()

	s.logger.Info().Int("limit", s.cfg.SweepBatchSize).Msg("starting expiry sweep")

	stats, err := s.jobs.SweepExpired(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		if errors.Is(err, seats.ErrJobRunning) {
			s.logger.Warn().Msg("expiry sweep skipped, previous sweep still running")
			return
		}
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}

	s.logger.Info().
		Int("found", stats.Found).
		Int("removed", stats.Removed).
		Int("revoked", stats.Revoked).
		Int("processed", stats.Processed).
		Int("errored", stats.Errored).
		Int("skipped", stats.Skipped).
		Msg("expiry sweep completed")

	findings, err := s.jobs.ValidateConsistency(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("consistency check failed")
		return
	}
	if len(findings) > 0 {
		s.logger.Warn().Int("findings", len(findings)).Msg("consistency findings after sweep")
	}
}

// RunSync reconciles every account with its remote roster.
func (s *Scheduler) RunSync() {
	ctx := context.Background()

	s.logger.Info().Msg("starting member sync")

	results, err := s.jobs.SyncAll(ctx)
	if err != nil {
		if errors.Is(err, seats.ErrJobRunning) {
			s.logger.Warn().Msg("member sync skipped, another sync is running")
			return
		}
		s.logger.Error().Err(err).Msg("member sync failed")
		return
	}

	var linked, created, cleaned int
	for _, r := range results {
		linked += r.Linked
		created += r.Created
		cleaned += r.Cleaned
	}

	s.logger.Info().
		Int("accounts", len(results)).
		Int("linked", linked).
		Int("created", created).
		Int("cleaned", cleaned).
		Msg("member sync completed")
}
