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

// SyncResult summarizes the reconciliation of one account's roster.
type SyncResult struct {
	AccountID     uuid.UUID `json:"account_id"`
	Account       string    `json:"account"`
	RemoteMembers int       `json:"remote_members"`
	Linked        int       `json:"linked"`
	Restored      int       `json:"restored"`
	Cleaned       int       `json:"cleaned"`
	Created       int       `json:"created"`
	Occupancy     int       `json:"occupancy"`
}

// MemberSyncer reconciles local seat records with remote rosters.
type MemberSyncer struct {
	store     Store
	gateway   gateway.Gateway
	locker    Locker
	occupancy *Occupancy
	job       *JobHandle
	cfg       Config
	logger    zerolog.Logger
}

// NewMemberSyncer creates a new MemberSyncer.
func NewMemberSyncer(store Store, gw gateway.Gateway, locker Locker, occupancy *Occupancy, cfg Config, logger zerolog.Logger) *MemberSyncer {
	return &MemberSyncer{
		store:     store,
		gateway:   gw,
		locker:    locker,
		occupancy: occupancy,
		job:       NewJobHandle("member_sync"),
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "member_sync").Logger(),
	}
}

// SyncAccount reconciles one account. Records of members the remote side
// confirms are linked or restored, records absent remotely are cleaned,
// and unknown remote members get manual records.
func (s *MemberSyncer) SyncAccount(ctx context.Context, accountID uuid.UUID) (*SyncResult, error) {
	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	members, err := s.listMembers(ctx, account)
	if err != nil {
		return nil, err
	}

	owner := models.NormalizeSubject(account.Email)
	remote := make(map[string]gateway.Member, len(members))
	for _, m := range members {
		subject := models.NormalizeSubject(m.Subject)
		if subject == "" || subject == owner {
			continue
		}
		remote[subject] = m
	}

	result := &SyncResult{AccountID: account.ID, Account: account.Email, RemoteMembers: len(remote)}

	err = s.store.ExecTx(ctx, func(tx Store) error {
		*result = SyncResult{AccountID: account.ID, Account: account.Email, RemoteMembers: len(remote)}
		now := s.cfg.Now()

		records, err := tx.ListSeatsByAccount(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("list seats for account: %w", err)
		}
		latest := LatestBySubject(records)

		for subject, rec := range latest {
			updated := rec.Clone()
			changes := map[string]any{}

			if m, ok := remote[subject]; ok {
				if updated.Cleaned {
					updated.Cleaned = false
					changes["restored"] = true
					result.Restored++
				}
				if !m.Pending && m.ID != "" && (updated.RemoteMemberID == nil || *updated.RemoteMemberID != m.ID) {
					id := m.ID
					updated.RemoteMemberID = &id
					changes["linked"] = id
					result.Linked++
				}
			} else if !updated.Cleaned {
				updated.Cleaned = true
				changes["absent_remotely"] = true
				result.Cleaned++
			}

			if len(changes) == 0 {
				continue
			}
			updated.UpdatedAt = now
			updated.Outcome = updated.Outcome.Append(models.OutcomeSynced, now, &account.ID, changes)
			if err := tx.UpdateSeat(ctx, updated); err != nil {
				return fmt.Errorf("update seat: %w", err)
			}
		}

		for subject, m := range remote {
			if _, ok := latest[subject]; ok || m.Pending || m.ID == "" {
				continue
			}
			rec := models.NewSeatRecord(account.ID, subject, nil, now)
			id := m.ID
			rec.RemoteMemberID = &id
			rec.Outcome = rec.Outcome.Append(models.OutcomeManual, now, &account.ID, map[string]any{
				"source": "remote_sync",
			})
			if err := tx.CreateSeat(ctx, rec); err != nil {
				return fmt.Errorf("create manual seat: %w", err)
			}
			result.Created++
		}

		count, err := s.occupancy.ResyncByID(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		result.Occupancy = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit member sync: %w", err)
	}

	s.logger.Info().
		Str("account", account.Email).
		Int("remote_members", result.RemoteMembers).
		Int("linked", result.Linked).
		Int("restored", result.Restored).
		Int("cleaned", result.Cleaned).
		Int("created", result.Created).
		Int("occupancy", result.Occupancy).
		Msg("account synced")

	return result, nil
}

func (s *MemberSyncer) listMembers(ctx context.Context, account *models.Account) ([]gateway.Member, error) {
	sess, err := s.gateway.Acquire(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer releaseSession(ctx, sess, s.logger)

	members, err := sess.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote members: %w", err)
	}
	return members, nil
}

// SyncAll reconciles every account in turn. A failing account is logged
// and skipped.
func (s *MemberSyncer) SyncAll(ctx context.Context) ([]*SyncResult, error) {
	if !s.job.Begin(0, s.cfg.Now()) {
		return nil, ErrJobRunning
	}
	defer func() { s.job.Finish(s.cfg.Now()) }()
	return s.syncAll(ctx)
}

// StartSyncAll runs SyncAll in the background and returns immediately.
// Progress is available from Progress.
func (s *MemberSyncer) StartSyncAll(ctx context.Context) error {
	if !s.job.Begin(0, s.cfg.Now()) {
		return ErrJobRunning
	}
	go func() {
		defer s.job.Finish(s.cfg.Now())
		if _, err := s.syncAll(ctx); err != nil {
			s.logger.Error().Err(err).Msg("member sync failed")
		}
	}()
	return nil
}

func (s *MemberSyncer) syncAll(ctx context.Context) ([]*SyncResult, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	s.job.SetTotal(len(accounts))

	results := make([]*SyncResult, 0, len(accounts))
	for i, account := range accounts {
		if i > 0 && s.cfg.SyncAccountDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(s.cfg.SyncAccountDelay):
			}
		}

		s.job.Start(account.Email)
		res, err := s.SyncAccount(ctx, account.ID)
		s.job.Done(err)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return results, err
			}
			s.logger.Error().Err(err).Str("account", account.Email).Msg("failed to sync account")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// Progress returns the status of the current or last full sync.
func (s *MemberSyncer) Progress() JobStatus {
	return s.job.Status()
}
