package seats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// DefaultSweepLimit caps remote calls per sweep.
const DefaultSweepLimit = 100

// SweepStats summarizes one expiry sweep.
type SweepStats struct {
	Found     int `json:"found"`
	Removed   int `json:"removed"`
	Revoked   int `json:"revoked"`
	Processed int `json:"processed"`
	Errored   int `json:"errored"`
	// Skipped counts records renewed, reassigned or ended elsewhere after
	// they were listed.
	Skipped int `json:"skipped"`
}

// ExpiryReconciler ends seats whose expiry has passed.
type ExpiryReconciler struct {
	store     Store
	remover   *Remover
	occupancy *Occupancy
	recorder  Recorder
	job       *JobHandle
	cfg       Config
	logger    zerolog.Logger
}

// NewExpiryReconciler creates a new ExpiryReconciler.
func NewExpiryReconciler(store Store, remover *Remover, occupancy *Occupancy, recorder Recorder, cfg Config, logger zerolog.Logger) *ExpiryReconciler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ExpiryReconciler{
		store:     store,
		remover:   remover,
		occupancy: occupancy,
		recorder:  recorder,
		job:       NewJobHandle("expiry_sweep"),
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "expiry_sweep").Logger(),
	}
}

// Sweep ends up to limit expired, non-cleaned seats. Per-record failures
// are counted and do not stop the batch. It returns ErrJobRunning if a
// sweep is already in progress.
func (e *ExpiryReconciler) Sweep(ctx context.Context, limit int) (SweepStats, error) {
	var stats SweepStats
	if limit <= 0 {
		limit = DefaultSweepLimit
	}

	if !e.job.Begin(0, e.cfg.Now()) {
		return stats, ErrJobRunning
	}
	defer func() { e.job.Finish(e.cfg.Now()) }()

	now := e.cfg.Now()
	records, err := e.store.ListExpiredSeats(ctx, now, limit)
	if err != nil {
		return stats, fmt.Errorf("list expired seats: %w", err)
	}
	e.job.SetTotal(len(records))

	touched := make(map[uuid.UUID]struct{})
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if rec.Cleaned || rec.ExpiresAt == nil || !rec.ExpiresAt.Before(now) {
			continue
		}
		stats.Found++
		touched[rec.AccountID] = struct{}{}
		e.job.Start(rec.Subject)

		action, err := e.end(ctx, rec)
		if errors.Is(err, ErrRecordChanged) || errors.Is(err, ErrRecordNotFound) {
			e.job.Done(nil)
			stats.Skipped++
			e.logger.Debug().
				Str("subject", rec.Subject).
				Str("seat_id", rec.ID.String()).
				Msg("expired seat changed since listing, skipped")
			continue
		}
		e.job.Done(err)
		if err != nil {
			stats.Errored++
			e.logger.Error().
				Err(err).
				Str("subject", rec.Subject).
				Str("seat_id", rec.ID.String()).
				Msg("failed to end expired seat")
			continue
		}
		switch action {
		case ActionRemoved:
			stats.Removed++
		case ActionRevoked:
			stats.Revoked++
		default:
			stats.Processed++
		}
	}

	for accountID := range touched {
		if _, err := e.occupancy.ResyncByID(ctx, nil, accountID); err != nil {
			e.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to resync account after sweep")
		}
	}

	e.recorder.SweepFinished(stats.Found, stats.Removed, stats.Revoked, stats.Processed, stats.Errored)
	e.logger.Info().
		Int("found", stats.Found).
		Int("removed", stats.Removed).
		Int("revoked", stats.Revoked).
		Int("processed", stats.Processed).
		Int("errored", stats.Errored).
		Int("skipped", stats.Skipped).
		Msg("expiry sweep completed")

	return stats, ctx.Err()
}

func (e *ExpiryReconciler) end(ctx context.Context, rec *models.SeatRecord) (string, error) {
	const reason = "expired"
	var (
		res *RemovalResult
		err error
	)
	switch {
	case IsRemovable(rec):
		res, err = e.remover.Remove(ctx, rec, reason)
	case IsRevokable(rec):
		res, err = e.remover.Revoke(ctx, rec, reason)
	default:
		res, err = e.remover.MarkProcessed(ctx, rec, reason)
	}
	if err != nil {
		return "", err
	}
	return res.Action, nil
}

// Progress returns the status of the current or last sweep.
func (e *ExpiryReconciler) Progress() JobStatus {
	return e.job.Status()
}
