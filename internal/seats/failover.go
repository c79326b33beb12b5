package seats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// failoverInviter runs the bounded select-and-invite loop shared by fresh
// allocation and reactivation.
type failoverInviter struct {
	store    Store
	selector *Selector
	gateway  gateway.Gateway
	recorder Recorder
	cfg      Config
	logger   zerolog.Logger
}

type invitation struct {
	reservation *Reservation
	result      *gateway.InviteResult
	attempts    int
}

// run invites subject on successive accounts until one accepts. Every
// account that fails is excluded and pushed to the back of the LRU order.
// On success the returned reservation still holds the account lock.
func (f *failoverInviter) run(ctx context.Context, subject string, expiresAt *time.Time, exclude map[uuid.UUID]struct{}) (*invitation, error) {
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &AllocationError{Kind: ErrAllFailed, Attempts: attempt - 1, Cause: err}
		}

		res, err := f.selector.SelectAvailable(ctx, exclude)
		if errors.Is(err, ErrNoCapacity) {
			return nil, &AllocationError{Kind: ErrNoCapacity, Attempts: attempt - 1, Cause: lastErr}
		}
		if err != nil {
			return nil, fmt.Errorf("select account: %w", err)
		}

		result, err := f.invite(ctx, res.Account, subject, expiresAt)
		if err == nil {
			if result == nil {
				result = &gateway.InviteResult{}
			}
			f.logger.Info().
				Str("account", res.Account.Email).
				Str("subject", subject).
				Int("attempt", attempt).
				Msg("invitation sent")
			return &invitation{reservation: res, result: result, attempts: attempt}, nil
		}

		kind := gateway.KindOf(err)
		f.logger.Warn().
			Err(err).
			Str("account", res.Account.Email).
			Str("subject", subject).
			Str("reason", kind.String()).
			Int("attempt", attempt).
			Msg("invitation failed, failing over")
		f.recorder.FailoverAttempt(kind.String())

		exclude[res.Account.ID] = struct{}{}
		if err := f.store.TouchAccount(ctx, res.Account.ID, f.cfg.Now()); err != nil {
			f.logger.Warn().Err(err).Str("account", res.Account.Email).Msg("failed to deprioritize account")
		}
		res.Release()
		lastErr = err
	}

	return nil, &AllocationError{Kind: ErrAllFailed, Attempts: f.cfg.MaxAttempts, Cause: lastErr}
}

func (f *failoverInviter) invite(ctx context.Context, account *models.Account, subject string, expiresAt *time.Time) (*gateway.InviteResult, error) {
	sess, err := f.gateway.Acquire(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer releaseSession(ctx, sess, f.logger)

	return sess.Invite(ctx, subject, expiresAt)
}

func releaseSession(ctx context.Context, sess gateway.Session, logger zerolog.Logger) {
	if err := sess.Release(context.WithoutCancel(ctx)); err != nil {
		logger.Warn().Err(err).Msg("failed to release remote session")
	}
}
