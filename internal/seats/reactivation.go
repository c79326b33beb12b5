package seats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// reactivate moves rec to a different account, keeping its expiry.
func (a *Allocator) reactivate(ctx context.Context, voucher *models.Voucher, rec *models.SeatRecord) (*AllocationResult, error) {
	oldOwner := rec.AccountID
	exclude := map[uuid.UUID]struct{}{oldOwner: {}}

	inv, err := a.inviter.run(ctx, rec.Subject, rec.ExpiresAt, exclude)
	if err != nil {
		return nil, err
	}
	defer inv.reservation.Release()

	ctx = context.WithoutCancel(ctx)
	account := inv.reservation.Account
	result := &AllocationResult{
		Account:     account,
		Reactivated: true,
		Attempts:    inv.attempts,
		ExpiresAt:   rec.ExpiresAt,
	}

	cleanup := "skipped"
	if rec.HasMember() {
		if err := a.cleanupOldOwner(ctx, oldOwner, *rec.RemoteMemberID); err != nil {
			cleanup = "failed"
			a.logger.Warn().
				Err(err).
				Str("subject", rec.Subject).
				Str("old_account", oldOwner.String()).
				Msg("failed to remove member from previous account")
			result.Warnings = append(result.Warnings, fmt.Sprintf("previous account cleanup failed: %v", err))
		} else {
			cleanup = "removed"
		}
	}

	err = a.commit(ctx, func(tx Store) error {
		now := a.cfg.Now()
		cur, err := tx.GetSeatByID(ctx, rec.ID)
		created := false
		switch {
		case errors.Is(err, models.ErrNotFound):
			// Swept away concurrently; bring the thread back.
			cur = rec.Clone()
			created = true
		case err != nil:
			return fmt.Errorf("reload seat: %w", err)
		}

		cur.AccountID = account.ID
		cur.ExpiresAt = rec.ExpiresAt
		cur.Cleaned = false
		cur.RemoteMemberID = inv.result.MemberID
		cur.UpdatedAt = now
		detail := inviteDetail(inv.result, voucher.Code, inv.attempts)
		detail["from_account"] = oldOwner.String()
		detail["old_cleanup"] = cleanup
		cur.Outcome = cur.Outcome.Append(models.OutcomeReactivated, now, &account.ID, detail)

		if created {
			err = tx.CreateSeat(ctx, cur)
		} else {
			err = tx.UpdateSeat(ctx, cur)
		}
		if err != nil {
			return fmt.Errorf("save seat: %w", err)
		}
		if err := tx.TouchAccount(ctx, account.ID, now); err != nil {
			return fmt.Errorf("touch account: %w", err)
		}
		if _, err := a.occupancy.ResyncByID(ctx, tx, account.ID); err != nil {
			return err
		}
		if err := a.resyncIfExists(ctx, tx, oldOwner); err != nil {
			return err
		}
		result.Seat = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("subject", rec.Subject).
		Str("from_account", oldOwner.String()).
		Str("to_account", account.Email).
		Str("cleanup", cleanup).
		Msg("seat reactivated")

	return result, nil
}

// cleanupOldOwner removes the member from the previous account. A member
// that is already gone counts as removed.
func (a *Allocator) cleanupOldOwner(ctx context.Context, accountID uuid.UUID, memberID string) error {
	account, err := a.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get previous account: %w", err)
	}

	sess, err := a.gateway.Acquire(ctx, account)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer releaseSession(ctx, sess, a.logger)

	if err := sess.RemoveMember(ctx, memberID); err != nil && !gateway.IsNotFound(err) {
		return err
	}
	return nil
}
