package seats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// ListManual returns records without an expiry that still hold a seat.
func (s *Service) ListManual(ctx context.Context) ([]*models.SeatRecord, error) {
	records, err := s.store.ListManualSeats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list manual seats: %w", err)
	}
	out := make([]*models.SeatRecord, 0, len(records))
	for _, rec := range records {
		if !rec.Cleaned {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ResolveManual gives a manual record an expiry days from now, optionally
// linking and consuming a voucher. Once set, the record is swept like any
// other. The voucher and then the owning account are locked in the same
// order Allocate takes them.
func (s *Service) ResolveManual(ctx context.Context, seatID uuid.UUID, days int, voucherCode string) (*models.SeatRecord, error) {
	if days <= 0 {
		return nil, fmt.Errorf("invalid days: %d", days)
	}

	rec, err := s.manualSeat(ctx, seatID)
	if err != nil {
		return nil, err
	}

	var voucher *models.Voucher
	if code := strings.TrimSpace(voucherCode); code != "" {
		voucher, err = s.store.GetVoucherByCode(ctx, code)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, voucherInvalid("unknown code")
			}
			return nil, fmt.Errorf("get voucher: %w", err)
		}

		unlockVoucher, err := s.locker.Lock(ctx, voucher.ID)
		if err != nil {
			return nil, fmt.Errorf("lock voucher: %w", err)
		}
		defer unlockVoucher()

		voucher, err = s.store.GetVoucherByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("reload voucher: %w", err)
		}
		if voucher.Consumed {
			return nil, voucherInvalid("already used")
		}
	}

	unlockAccount, err := s.locker.Lock(ctx, rec.AccountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	defer unlockAccount()

	// The record may have been swept, synced or reassigned while unlocked.
	current, err := s.manualSeat(ctx, seatID)
	if err != nil {
		return nil, err
	}
	if current.AccountID != rec.AccountID {
		return nil, ErrRecordChanged
	}
	rec = current

	now := s.cfg.Now()
	expiresAt := now.Add(time.Duration(days) * 24 * time.Hour)
	updated := rec.Clone()
	updated.ExpiresAt = &expiresAt
	updated.UpdatedAt = now
	detail := map[string]any{"days": days}

	err = s.store.ExecTx(ctx, func(tx Store) error {
		if voucher != nil {
			if err := tx.ConsumeVoucher(ctx, voucher.ID, now); err != nil {
				return fmt.Errorf("consume voucher: %w", err)
			}
			updated.VoucherID = &voucher.ID
			detail["voucher"] = voucher.Code
		}
		updated.Outcome = rec.Outcome.Append(models.OutcomeExpirySet, now, &rec.AccountID, detail)
		if err := tx.UpdateSeat(ctx, updated); err != nil {
			return fmt.Errorf("update seat: %w", err)
		}
		_, err := s.occupancy.ResyncByID(ctx, tx, rec.AccountID)
		return err
	})
	if errors.Is(err, models.ErrVoucherConsumed) {
		return nil, voucherInvalid("already used")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("subject", rec.Subject).
		Int("days", days).
		Time("expires_at", expiresAt).
		Msg("manual seat given an expiry")

	return updated, nil
}

// manualSeat loads a record that can still be given an expiry.
func (s *Service) manualSeat(ctx context.Context, seatID uuid.UUID) (*models.SeatRecord, error) {
	rec, err := s.store.GetSeatByID(ctx, seatID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get seat: %w", err)
	}
	if rec.ExpiresAt != nil {
		return nil, ErrExpiryAlreadySet
	}
	return rec, nil
}
