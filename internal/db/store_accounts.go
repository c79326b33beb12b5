package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

const accountColumns = `id, email, group_id, password_encrypted, session_encrypted,
	capacity, cached_occupancy, last_allocated_at, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.GroupID, &a.PasswordEncrypted, &a.SessionEncrypted,
		&a.Capacity, &a.CachedOccupancy, &a.LastAllocatedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns all accounts, least recently allocated first.
func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.ListAccountsExcluding(ctx, nil)
}

// ListAccountsExcluding returns the accounts not in exclude, least recently allocated first.
func (s *Store) ListAccountsExcluding(ctx context.Context, exclude []uuid.UUID) ([]*models.Account, error) {
	ids := make([]string, len(exclude))
	for i, id := range exclude {
		ids[i] = id.String()
	}

	rows, err := s.q.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE NOT (id = ANY($1::uuid[]))
		ORDER BY last_allocated_at, created_at, id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts, err := collect(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return accounts, nil
}

// GetAccountByID returns an account by ID.
func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "get account")
	}
	return a, nil
}

// GetAccountByEmail returns an account by its login email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, wrap(err, "get account by email")
	}
	return a, nil
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO accounts (id, email, group_id, password_encrypted, session_encrypted,
			capacity, cached_occupancy, last_allocated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.Email, a.GroupID, a.PasswordEncrypted, a.SessionEncrypted,
		a.Capacity, a.CachedOccupancy, a.LastAllocatedAt, a.CreatedAt, a.UpdatedAt)
	return wrap(err, "create account")
}

// UpdateAccountCredentials replaces the sealed password and drops any stored session.
func (s *Store) UpdateAccountCredentials(ctx context.Context, id uuid.UUID, groupID string, capacity int, sealedPassword []byte) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE accounts
		SET group_id = $2, capacity = $3, password_encrypted = $4, session_encrypted = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, groupID, capacity, sealedPassword)
	return affected(tag, err, "update account credentials")
}

// DeleteAccount deletes an account and, by cascade, its seat records.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return affected(tag, err, "delete account")
}

// UpdateAccountOccupancy stores the recomputed occupancy of an account.
func (s *Store) UpdateAccountOccupancy(ctx context.Context, id uuid.UUID, occupancy int) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE accounts SET cached_occupancy = $2, updated_at = NOW() WHERE id = $1
	`, id, occupancy)
	return affected(tag, err, "update account occupancy")
}

// TouchAccount moves the account to the back of the selection order.
func (s *Store) TouchAccount(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE accounts SET last_allocated_at = $2 WHERE id = $1`, id, at)
	return affected(tag, err, "touch account")
}

// SaveAccountSession stores the sealed remote session for an account.
func (s *Store) SaveAccountSession(ctx context.Context, id uuid.UUID, sealed []byte) error {
	tag, err := s.q.Exec(ctx, `UPDATE accounts SET session_encrypted = $2 WHERE id = $1`, id, sealed)
	return affected(tag, err, "save account session")
}
