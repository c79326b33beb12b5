package seats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// Reservation is an account picked for allocation. The account stays
// locked until Release is called.
type Reservation struct {
	Account   *models.Account
	Occupancy int
	unlock    func()
}

// Release unlocks the reserved account. It is safe to call more than once.
func (r *Reservation) Release() {
	if r == nil || r.unlock == nil {
		return
	}
	r.unlock()
	r.unlock = nil
}

// Selector picks the least recently used account with a free seat.
type Selector struct {
	store     Store
	occupancy *Occupancy
	locker    Locker
	logger    zerolog.Logger
}

// NewSelector creates a new Selector.
func NewSelector(store Store, occupancy *Occupancy, locker Locker, logger zerolog.Logger) *Selector {
	return &Selector{
		store:     store,
		occupancy: occupancy,
		locker:    locker,
		logger:    logger.With().Str("component", "selector").Logger(),
	}
}

// SelectAvailable scans accounts not in exclude, least recently allocated
// first, and reserves the first one whose recomputed occupancy is below
// capacity. It returns ErrNoCapacity when no account qualifies.
func (s *Selector) SelectAvailable(ctx context.Context, exclude map[uuid.UUID]struct{}) (*Reservation, error) {
	ids := make([]uuid.UUID, 0, len(exclude))
	for id := range exclude {
		ids = append(ids, id)
	}

	candidates, err := s.store.ListAccountsExcluding(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list candidate accounts: %w", err)
	}

	for _, candidate := range candidates {
		if _, skip := exclude[candidate.ID]; skip {
			continue
		}
		if candidate.Capacity <= 0 {
			continue
		}

		res, err := s.tryReserve(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	return nil, ErrNoCapacity
}

// tryReserve locks the account and checks its occupancy under the lock.
// It returns nil without error when the account is full or gone.
func (s *Selector) tryReserve(ctx context.Context, accountID uuid.UUID) (*Reservation, error) {
	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		unlock()
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	count, err := s.occupancy.ActiveCount(ctx, s.store, account.ID)
	if err != nil {
		unlock()
		return nil, err
	}
	if count >= account.Capacity {
		s.logger.Debug().
			Str("account", account.Email).
			Int("occupancy", count).
			Int("capacity", account.Capacity).
			Msg("account full, skipping")
		if err := s.occupancy.apply(ctx, s.store, account, count); err != nil {
			s.logger.Warn().Err(err).Str("account", account.Email).Msg("failed to resync full account")
		}
		unlock()
		return nil, nil
	}

	if err := s.occupancy.apply(ctx, s.store, account, count); err != nil {
		unlock()
		return nil, err
	}

	return &Reservation{Account: account, Occupancy: count, unlock: unlock}, nil
}
