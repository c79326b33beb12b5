package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

const seatColumns = `id, account_id, voucher_id, subject, remote_member_id, expires_at,
	created_at, updated_at, cleaned, outcome`

// newestFirst matches the engine's record ordering.
const newestFirst = `ORDER BY created_at DESC, updated_at DESC, id DESC`

func scanSeat(row rowScanner) (*models.SeatRecord, error) {
	var (
		rec     models.SeatRecord
		outcome []byte
	)
	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.VoucherID, &rec.Subject, &rec.RemoteMemberID, &rec.ExpiresAt,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.Cleaned, &outcome,
	)
	if err != nil {
		return nil, err
	}
	if rec.Outcome, err = models.UnmarshalOutcome(outcome); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) listSeats(ctx context.Context, what, where string, args ...any) ([]*models.SeatRecord, error) {
	rows, err := s.q.Query(ctx, `SELECT `+seatColumns+` FROM seat_records `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	recs, err := collect(rows, scanSeat)
	if err != nil {
		return nil, fmt.Errorf("scan seat record: %w", err)
	}
	return recs, nil
}

// GetSeatByID returns a seat record by ID.
func (s *Store) GetSeatByID(ctx context.Context, id uuid.UUID) (*models.SeatRecord, error) {
	rec, err := scanSeat(s.q.QueryRow(ctx, `SELECT `+seatColumns+` FROM seat_records WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "get seat record")
	}
	return rec, nil
}

// GetSeatForUpdate returns a seat record by ID, locking its row for the
// rest of the enclosing transaction.
func (s *Store) GetSeatForUpdate(ctx context.Context, id uuid.UUID) (*models.SeatRecord, error) {
	rec, err := scanSeat(s.q.QueryRow(ctx, `SELECT `+seatColumns+` FROM seat_records WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap(err, "lock seat record")
	}
	return rec, nil
}

// ListSeats returns every seat record, newest first.
func (s *Store) ListSeats(ctx context.Context) ([]*models.SeatRecord, error) {
	return s.listSeats(ctx, "list seat records", newestFirst)
}

// ListSeatsByAccount returns an account's records, newest first.
func (s *Store) ListSeatsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.SeatRecord, error) {
	return s.listSeats(ctx, "list seat records by account", `WHERE account_id = $1 `+newestFirst, accountID)
}

// ListSeatsBySubject returns the subject's records, newest first.
func (s *Store) ListSeatsBySubject(ctx context.Context, subject string) ([]*models.SeatRecord, error) {
	return s.listSeats(ctx, "list seat records by subject", `WHERE subject = $1 `+newestFirst, subject)
}

// ListSeatsByVoucher returns the voucher's records, newest first.
func (s *Store) ListSeatsByVoucher(ctx context.Context, voucherID uuid.UUID) ([]*models.SeatRecord, error) {
	return s.listSeats(ctx, "list seat records by voucher", `WHERE voucher_id = $1 `+newestFirst, voucherID)
}

// ListManualSeats returns records without an expiry, newest first.
func (s *Store) ListManualSeats(ctx context.Context) ([]*models.SeatRecord, error) {
	return s.listSeats(ctx, "list manual seat records", `WHERE expires_at IS NULL `+newestFirst)
}

// ListExpiredSeats returns up to limit uncleaned records past their expiry, oldest expiry first.
func (s *Store) ListExpiredSeats(ctx context.Context, now time.Time, limit int) ([]*models.SeatRecord, error) {
	return s.listSeats(ctx, "list expired seat records", `
		WHERE NOT cleaned AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at, created_at
		LIMIT $2
	`, now, limit)
}

// CreateSeat inserts a seat record.
func (s *Store) CreateSeat(ctx context.Context, rec *models.SeatRecord) error {
	outcome, err := rec.Outcome.Marshal()
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO seat_records (`+seatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.AccountID, rec.VoucherID, rec.Subject, rec.RemoteMemberID, rec.ExpiresAt,
		rec.CreatedAt, rec.UpdatedAt, rec.Cleaned, outcome)
	return wrap(err, "create seat record")
}

// UpdateSeat overwrites every mutable column of a seat record.
func (s *Store) UpdateSeat(ctx context.Context, rec *models.SeatRecord) error {
	outcome, err := rec.Outcome.Marshal()
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE seat_records
		SET account_id = $2, voucher_id = $3, subject = $4, remote_member_id = $5,
			expires_at = $6, updated_at = $7, cleaned = $8, outcome = $9
		WHERE id = $1
	`, rec.ID, rec.AccountID, rec.VoucherID, rec.Subject, rec.RemoteMemberID,
		rec.ExpiresAt, rec.UpdatedAt, rec.Cleaned, outcome)
	return affected(tag, err, "update seat record")
}

// DeleteSeat deletes a seat record.
func (s *Store) DeleteSeat(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM seat_records WHERE id = $1`, id)
	return affected(tag, err, "delete seat record")
}
