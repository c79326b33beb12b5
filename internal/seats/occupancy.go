package seats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// newer reports whether a supersedes b in latest-wins ordering.
func newer(a, b *models.SeatRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID.String() > b.ID.String()
}

// LatestBySubject keeps only the newest record per subject.
func LatestBySubject(records []*models.SeatRecord) map[string]*models.SeatRecord {
	latest := make(map[string]*models.SeatRecord, len(records))
	for _, rec := range records {
		cur, ok := latest[rec.Subject]
		if !ok || newer(rec, cur) {
			latest[rec.Subject] = rec
		}
	}
	return latest
}

// CountActive returns the authoritative occupancy of one account's records.
func CountActive(records []*models.SeatRecord, now time.Time) int {
	n := 0
	for _, rec := range LatestBySubject(records) {
		if countsTowardOccupancy(rec, now) {
			n++
		}
	}
	return n
}

// Occupancy computes and resyncs account occupancy.
type Occupancy struct {
	store    Store
	recorder Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// NewOccupancy creates a new Occupancy calculator.
func NewOccupancy(store Store, recorder Recorder, now func() time.Time, logger zerolog.Logger) *Occupancy {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if now == nil {
		now = time.Now
	}
	return &Occupancy{
		store:    store,
		recorder: recorder,
		now:      now,
		logger:   logger.With().Str("component", "occupancy").Logger(),
	}
}

// ActiveCount computes the occupancy of an account from its records.
func (o *Occupancy) ActiveCount(ctx context.Context, store Store, accountID uuid.UUID) (int, error) {
	if store == nil {
		store = o.store
	}
	records, err := store.ListSeatsByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("list seats for account: %w", err)
	}
	return CountActive(records, o.now()), nil
}

// Resync recomputes the occupancy of account and writes it back when the
// cached value diverges. It uses store, which may be transactional.
func (o *Occupancy) Resync(ctx context.Context, store Store, account *models.Account) (int, error) {
	if store == nil {
		store = o.store
	}
	count, err := o.ActiveCount(ctx, store, account.ID)
	if err != nil {
		return 0, err
	}
	if err := o.apply(ctx, store, account, count); err != nil {
		return 0, err
	}
	return count, nil
}

// apply writes count back to account if it diverges from the cached value.
func (o *Occupancy) apply(ctx context.Context, store Store, account *models.Account, count int) error {
	if count != account.CachedOccupancy {
		if err := store.UpdateAccountOccupancy(ctx, account.ID, count); err != nil {
			return fmt.Errorf("update account occupancy: %w", err)
		}
		o.logger.Debug().
			Str("account", account.Email).
			Int("old", account.CachedOccupancy).
			Int("new", count).
			Msg("occupancy resynced")
		account.CachedOccupancy = count
	}
	o.recorder.OccupancySynced(account.Email, count, account.Capacity)
	return nil
}

// ResyncByID loads an account and resyncs it.
func (o *Occupancy) ResyncByID(ctx context.Context, store Store, accountID uuid.UUID) (int, error) {
	if store == nil {
		store = o.store
	}
	account, err := store.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}
	return o.Resync(ctx, store, account)
}
