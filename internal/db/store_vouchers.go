package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

const voucherColumns = `id, code, validity_days, consumed, consumed_at, created_at`

func scanVoucher(row rowScanner) (*models.Voucher, error) {
	var v models.Voucher
	if err := row.Scan(&v.ID, &v.Code, &v.ValidityDays, &v.Consumed, &v.ConsumedAt, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVoucherByCode returns a voucher by its code.
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	v, err := scanVoucher(s.q.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
	if err != nil {
		return nil, wrap(err, "get voucher")
	}
	return v, nil
}

// ConsumeVoucher marks a voucher used. It returns models.ErrVoucherConsumed
// if the voucher was already used, so a second claim fails its transaction.
func (s *Store) ConsumeVoucher(ctx context.Context, id uuid.UUID, at time.Time) error {
	var exists, updated bool
	err := s.q.QueryRow(ctx, `
		WITH upd AS (
			UPDATE vouchers SET consumed = TRUE, consumed_at = $2
			WHERE id = $1 AND NOT consumed
			RETURNING id
		)
		SELECT EXISTS(SELECT 1 FROM vouchers WHERE id = $1), EXISTS(SELECT 1 FROM upd)
	`, id, at).Scan(&exists, &updated)
	if err != nil {
		return wrap(err, "consume voucher")
	}
	if !exists {
		return fmt.Errorf("consume voucher: %w", models.ErrNotFound)
	}
	if !updated {
		return fmt.Errorf("consume voucher: %w", models.ErrVoucherConsumed)
	}
	return nil
}

// CreateVouchers inserts vouchers, skipping codes that already exist.
// It returns the vouchers actually inserted.
func (s *Store) CreateVouchers(ctx context.Context, vouchers []*models.Voucher) ([]*models.Voucher, error) {
	var created []*models.Voucher
	for _, v := range vouchers {
		tag, err := s.q.Exec(ctx, `
			INSERT INTO vouchers (id, code, validity_days, consumed, consumed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO NOTHING
		`, v.ID, v.Code, v.ValidityDays, v.Consumed, v.ConsumedAt, v.CreatedAt)
		if err != nil {
			return nil, wrap(err, "create voucher")
		}
		if tag.RowsAffected() > 0 {
			created = append(created, v)
		}
	}
	return created, nil
}

// ListVouchers returns vouchers, newest first. A nil consumed lists all.
func (s *Store) ListVouchers(ctx context.Context, consumed *bool, limit int) ([]*models.Voucher, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE $1::boolean IS NULL OR consumed = $1
		ORDER BY created_at DESC, code
		LIMIT $2
	`, consumed, limit)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	vouchers, err := collect(rows, scanVoucher)
	if err != nil {
		return nil, fmt.Errorf("scan voucher: %w", err)
	}
	return vouchers, nil
}

// DeleteVoucher deletes an unused voucher.
func (s *Store) DeleteVoucher(ctx context.Context, code string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM vouchers WHERE code = $1 AND NOT consumed`, code)
	return affected(tag, err, "delete voucher")
}
