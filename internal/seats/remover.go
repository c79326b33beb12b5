package seats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// RemovalResult describes a completed removal or revocation.
type RemovalResult struct {
	Seat          *models.SeatRecord `json:"seat"`
	Account       *models.Account    `json:"account"`
	Action        string             `json:"action"`
	AlreadyAbsent bool               `json:"already_absent"`
	Deleted       bool               `json:"deleted"`
	Occupancy     int                `json:"occupancy"`
}

// Removal actions.
const (
	ActionRemoved   = "removed"
	ActionRevoked   = "revoked"
	ActionProcessed = "processed"
)

// Remover ends seats remotely and then locally, with the local write and
// the occupancy resync in one transaction.
type Remover struct {
	store     Store
	gateway   gateway.Gateway
	locker    Locker
	occupancy *Occupancy
	recorder  Recorder
	cfg       Config
	logger    zerolog.Logger
}

// NewRemover creates a new Remover.
func NewRemover(store Store, gw gateway.Gateway, locker Locker, occupancy *Occupancy, recorder Recorder, cfg Config, logger zerolog.Logger) *Remover {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Remover{
		store:     store,
		gateway:   gw,
		locker:    locker,
		occupancy: occupancy,
		recorder:  recorder,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "remover").Logger(),
	}
}

// Remove removes an accepted member. A member already absent remotely is
// treated as removed. Remote failure aborts before any local change.
func (r *Remover) Remove(ctx context.Context, rec *models.SeatRecord, reason string) (*RemovalResult, error) {
	if !IsRemovable(rec) {
		return nil, ErrNotRemovable
	}
	return r.end(ctx, rec, ActionRemoved, reason, IsRemovable, func(ctx context.Context, sess gateway.Session, cur *models.SeatRecord) error {
		return sess.RemoveMember(ctx, *cur.RemoteMemberID)
	})
}

// Revoke withdraws a pending invitation. An invitation already absent
// remotely is treated as revoked.
func (r *Remover) Revoke(ctx context.Context, rec *models.SeatRecord, reason string) (*RemovalResult, error) {
	if !IsRevokable(rec) {
		return nil, ErrNotRevokable
	}
	return r.end(ctx, rec, ActionRevoked, reason, IsRevokable, func(ctx context.Context, sess gateway.Session, cur *models.SeatRecord) error {
		return sess.RevokeInvite(ctx, cur.Subject)
	})
}

// MarkProcessed ends a record locally without any remote call.
func (r *Remover) MarkProcessed(ctx context.Context, rec *models.SeatRecord, reason string) (*RemovalResult, error) {
	return r.end(ctx, rec, ActionProcessed, reason, func(cur *models.SeatRecord) bool { return !cur.Cleaned }, nil)
}

// RemoveBySubject removes the subject's newest accepted, non-cleaned seat.
func (r *Remover) RemoveBySubject(ctx context.Context, subject string) (*RemovalResult, error) {
	subject = models.NormalizeSubject(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidSubject)
	}

	records, err := r.store.ListSeatsBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list seats for subject: %w", err)
	}

	var target *models.SeatRecord
	for _, rec := range records {
		if IsRemovable(rec) && (target == nil || newer(rec, target)) {
			target = rec
		}
	}
	if target == nil {
		return nil, ErrRecordNotFound
	}
	return r.Remove(ctx, target, "removed by request")
}

// end ends the record seen as snapshot. The record is reloaded under the
// account lock and again, row locked, inside the commit; if it no longer
// matches snapshot or eligible, nothing local is written and
// ErrRecordChanged is returned.
func (r *Remover) end(ctx context.Context, snapshot *models.SeatRecord, action, reason string,
	eligible func(*models.SeatRecord) bool, remote func(context.Context, gateway.Session, *models.SeatRecord) error,
) (*RemovalResult, error) {
	unlock, err := r.locker.Lock(ctx, snapshot.AccountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	rec, err := reloadUnchanged(ctx, r.store, snapshot, eligible)
	if err != nil {
		return nil, err
	}

	account, err := r.store.GetAccountByID(ctx, rec.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	result := &RemovalResult{Seat: rec, Account: account, Action: action}

	if remote != nil {
		sess, err := r.gateway.Acquire(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("acquire session: %w", err)
		}
		err = remote(ctx, sess, rec)
		releaseSession(ctx, sess, r.logger)
		if err != nil {
			if !gateway.IsNotFound(err) {
				return nil, fmt.Errorf("%s seat: %w", action, err)
			}
			result.AlreadyAbsent = true
		}
	}

	// The remote side effect happened; the commit must not be abandoned.
	ctx = context.WithoutCancel(ctx)
	err = r.store.ExecTx(ctx, func(tx Store) error {
		current, err := reloadUnchanged(ctx, tx, rec, eligible)
		if err != nil {
			return err
		}

		now := r.cfg.Now()
		if r.cfg.DeleteOnRemove {
			if err := tx.DeleteSeat(ctx, current.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("delete seat: %w", err)
			}
			result.Deleted = true
		} else {
			updated := current.Clone()
			updated.Cleaned = true
			updated.UpdatedAt = now
			updated.Outcome = updated.Outcome.Append(models.OutcomeProcessed, now, &account.ID, map[string]any{
				"action":         action,
				"reason":         reason,
				"already_absent": result.AlreadyAbsent,
			})
			if err := tx.UpdateSeat(ctx, updated); err != nil {
				return fmt.Errorf("mark seat processed: %w", err)
			}
			result.Seat = updated
		}

		count, err := r.occupancy.ResyncByID(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		result.Occupancy = count
		return nil
	})
	if errors.Is(err, ErrRecordChanged) || errors.Is(err, ErrRecordNotFound) {
		r.logger.Warn().
			Str("subject", rec.Subject).
			Str("seat_id", rec.ID.String()).
			Str("action", action).
			Msg("seat changed during remote call, local record left as is")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", action, err)
	}

	r.recorder.SeatRemoved(action)
	r.logger.Info().
		Str("subject", rec.Subject).
		Str("account", account.Email).
		Str("action", action).
		Str("reason", reason).
		Bool("already_absent", result.AlreadyAbsent).
		Msg("seat ended")

	return result, nil
}

// reloadUnchanged rereads snapshot's record through store and checks that
// no allocation, reactivation or sync rewrote it since.
func reloadUnchanged(ctx context.Context, store Store, snapshot *models.SeatRecord, eligible func(*models.SeatRecord) bool) (*models.SeatRecord, error) {
	current, err := store.GetSeatForUpdate(ctx, snapshot.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reload seat: %w", err)
	}
	if !sameSeat(snapshot, current) || !eligible(current) {
		return nil, ErrRecordChanged
	}
	return current, nil
}

// sameSeat reports whether b still describes the seat a was read as.
func sameSeat(a, b *models.SeatRecord) bool {
	return a.AccountID == b.AccountID &&
		a.Cleaned == b.Cleaned &&
		equalPtr(a.RemoteMemberID, b.RemoteMemberID) &&
		equalPtr(a.VoucherID, b.VoucherID) &&
		equalTime(a.ExpiresAt, b.ExpiresAt)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
