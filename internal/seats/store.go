// Package seats brokers seats on remote groups: it picks accounts with
// free capacity, invites subjects with failover, reactivates and removes
// them, and keeps local occupancy consistent with the remote side.
package seats

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// Store persists accounts, vouchers and seat records. Missing rows are
// reported with an error wrapping models.ErrNotFound.
type Store interface {
	// ListAccounts returns all accounts, least recently allocated first.
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	// ListAccountsExcluding returns accounts not in exclude, least
	// recently allocated first.
	ListAccountsExcluding(ctx context.Context, exclude []uuid.UUID) ([]*models.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateAccountOccupancy(ctx context.Context, id uuid.UUID, occupancy int) error
	TouchAccount(ctx context.Context, id uuid.UUID, at time.Time) error

	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	ConsumeVoucher(ctx context.Context, id uuid.UUID, at time.Time) error

	GetSeatByID(ctx context.Context, id uuid.UUID) (*models.SeatRecord, error)
	// GetSeatForUpdate reads a record and, inside a transaction, locks its
	// row until the transaction ends.
	GetSeatForUpdate(ctx context.Context, id uuid.UUID) (*models.SeatRecord, error)
	ListSeats(ctx context.Context) ([]*models.SeatRecord, error)
	ListSeatsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.SeatRecord, error)
	// ListSeatsBySubject returns the subject's records, newest first.
	ListSeatsBySubject(ctx context.Context, subject string) ([]*models.SeatRecord, error)
	// ListSeatsByVoucher returns the voucher's records, newest first.
	ListSeatsByVoucher(ctx context.Context, voucherID uuid.UUID) ([]*models.SeatRecord, error)
	// ListManualSeats returns records without an expiry, newest first.
	ListManualSeats(ctx context.Context) ([]*models.SeatRecord, error)
	// ListExpiredSeats returns up to limit non-cleaned records whose expiry
	// is before now, oldest expiry first.
	ListExpiredSeats(ctx context.Context, now time.Time, limit int) ([]*models.SeatRecord, error)
	CreateSeat(ctx context.Context, rec *models.SeatRecord) error
	UpdateSeat(ctx context.Context, rec *models.SeatRecord) error
	DeleteSeat(ctx context.Context, id uuid.UUID) error

	// ExecTx runs fn against a transactional view of the store. The
	// transaction commits if fn returns nil and rolls back otherwise.
	ExecTx(ctx context.Context, fn func(tx Store) error) error
}

// Config tunes the engine.
type Config struct {
	// MaxAttempts bounds the failover loop.
	MaxAttempts int
	// CommitRetries bounds retries of the local commit after a remote success.
	CommitRetries int
	// DeleteOnRemove deletes removed records instead of marking them processed.
	DeleteOnRemove bool
	// SyncAccountDelay is the pause between accounts during a full member sync.
	SyncAccountDelay time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		CommitRetries:    3,
		DeleteOnRemove:   true,
		SyncAccountDelay: 2 * time.Second,
		Now:              time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.CommitRetries <= 0 {
		c.CommitRetries = d.CommitRetries
	}
	if c.SyncAccountDelay < 0 {
		c.SyncAccountDelay = 0
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Recorder receives engine events for metrics. All methods must be safe
// for concurrent use.
type Recorder interface {
	AllocationFinished(outcome string, attempts int)
	FailoverAttempt(reason string)
	SeatRemoved(action string)
	SweepFinished(found, removed, revoked, processed, errored int)
	OccupancySynced(account string, occupancy, capacity int)
	FindingsObserved(counts map[string]int)
}

type nopRecorder struct{}

func (nopRecorder) AllocationFinished(string, int) {}
func (nopRecorder) FailoverAttempt(string) {}
func (nopRecorder) SeatRemoved(string) {}
func (nopRecorder) SweepFinished(int, int, int, int, int) {}
func (nopRecorder) OccupancySynced(string, int, int) {}
func (nopRecorder) FindingsObserved(map[string]int) {}
