package seats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// AllocationResult is the outcome of a successful redemption.
type AllocationResult struct {
	Seat        *models.SeatRecord `json:"seat"`
	Account     *models.Account    `json:"account"`
	Reactivated bool               `json:"reactivated"`
	Attempts    int                `json:"attempts"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Allocator redeems vouchers into seats.
type Allocator struct {
	store     Store
	locker    Locker
	gateway   gateway.Gateway
	occupancy *Occupancy
	inviter   *failoverInviter
	recorder  Recorder
	cfg       Config
	logger    zerolog.Logger
}

// NewAllocator creates a new Allocator.
func NewAllocator(store Store, gw gateway.Gateway, locker Locker, occupancy *Occupancy, selector *Selector, recorder Recorder, cfg Config, logger zerolog.Logger) *Allocator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	cfg = cfg.withDefaults()
	log := logger.With().Str("component", "allocator").Logger()
	return &Allocator{
		store:     store,
		locker:    locker,
		gateway:   gw,
		occupancy: occupancy,
		inviter: &failoverInviter{
			store:    store,
			selector: selector,
			gateway:  gw,
			recorder: recorder,
			cfg:      cfg,
			logger:   log,
		},
		recorder: recorder,
		cfg:      cfg,
		logger:   log,
	}
}

// Allocate redeems voucherCode for subject. An unused voucher yields a fresh
// seat; a voucher already used by the same subject within its validity
// moves that subject's seat to another account.
func (a *Allocator) Allocate(ctx context.Context, voucherCode, subject string) (result *AllocationResult, err error) {
	defer func() {
		attempts := 0
		if result != nil {
			attempts = result.Attempts
		} else {
			var ae *AllocationError
			if errors.As(err, &ae) {
				attempts = ae.Attempts
			}
		}
		a.recorder.AllocationFinished(allocationOutcome(result, err), attempts)
	}()

	subject = models.NormalizeSubject(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidSubject)
	}
	code := strings.TrimSpace(voucherCode)
	if code == "" {
		return nil, voucherInvalid("empty code")
	}

	voucher, err := a.store.GetVoucherByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, voucherInvalid("unknown code")
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}

	unlock, err := a.locker.Lock(ctx, voucher.ID)
	if err != nil {
		return nil, fmt.Errorf("lock voucher: %w", err)
	}
	defer unlock()

	// Reload under the lock; a concurrent redemption may have consumed it.
	voucher, err = a.store.GetVoucherByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("reload voucher: %w", err)
	}

	if !voucher.Consumed {
		return a.allocateFresh(ctx, voucher, subject)
	}

	rec, err := a.reactivationCandidate(ctx, voucher, subject)
	if err != nil {
		return nil, err
	}
	return a.reactivate(ctx, voucher, rec)
}

func (a *Allocator) allocateFresh(ctx context.Context, voucher *models.Voucher, subject string) (*AllocationResult, error) {
	expiresAt := a.cfg.Now().Add(voucher.Validity())

	inv, err := a.inviter.run(ctx, subject, &expiresAt, make(map[uuid.UUID]struct{}))
	if err != nil {
		return nil, err
	}
	defer inv.reservation.Release()

	// The remote side effect happened; the commit must not be abandoned.
	ctx = context.WithoutCancel(ctx)
	account := inv.reservation.Account
	result := &AllocationResult{
		Account:   account,
		Attempts:  inv.attempts,
		ExpiresAt: &expiresAt,
	}

	err = a.commit(ctx, func(tx Store) error {
		now := a.cfg.Now()
		if err := tx.ConsumeVoucher(ctx, voucher.ID, now); err != nil {
			return fmt.Errorf("consume voucher: %w", err)
		}
		if err := tx.TouchAccount(ctx, account.ID, now); err != nil {
			return fmt.Errorf("touch account: %w", err)
		}

		existing, err := tx.ListSeatsBySubject(ctx, subject)
		if err != nil {
			return fmt.Errorf("list seats for subject: %w", err)
		}
		result.Warnings = crossOwnerWarnings(existing, account.ID, now)

		detail := inviteDetail(inv.result, voucher.Code, inv.attempts)
		var rec *models.SeatRecord
		previousOwner := uuid.Nil
		if prior := latestRecord(existing); prior != nil {
			rec = prior.Clone()
			previousOwner = rec.AccountID
			rec.AccountID = account.ID
			rec.VoucherID = &voucher.ID
			rec.ExpiresAt = &expiresAt
			rec.Cleaned = false
			rec.RemoteMemberID = inv.result.MemberID
			rec.UpdatedAt = now
			rec.Outcome = rec.Outcome.Append(models.OutcomeAllocated, now, &account.ID, detail)
			if err := tx.UpdateSeat(ctx, rec); err != nil {
				return fmt.Errorf("update seat: %w", err)
			}
		} else {
			rec = models.NewSeatRecord(account.ID, subject, &expiresAt, now)
			rec.VoucherID = &voucher.ID
			rec.RemoteMemberID = inv.result.MemberID
			rec.Outcome = rec.Outcome.Append(models.OutcomeAllocated, now, &account.ID, detail)
			if err := tx.CreateSeat(ctx, rec); err != nil {
				return fmt.Errorf("create seat: %w", err)
			}
		}

		if _, err := a.occupancy.ResyncByID(ctx, tx, account.ID); err != nil {
			return err
		}
		if previousOwner != uuid.Nil && previousOwner != account.ID {
			if err := a.resyncIfExists(ctx, tx, previousOwner); err != nil {
				return err
			}
		}
		result.Seat = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		a.logger.Warn().Str("subject", subject).Str("account", account.Email).Msg(w)
	}
	a.logger.Info().
		Str("subject", subject).
		Str("account", account.Email).
		Str("voucher", voucher.Code).
		Time("expires_at", expiresAt).
		Msg("seat allocated")

	return result, nil
}

func (a *Allocator) reactivationCandidate(ctx context.Context, voucher *models.Voucher, subject string) (*models.SeatRecord, error) {
	records, err := a.store.ListSeatsByVoucher(ctx, voucher.ID)
	if err != nil {
		return nil, fmt.Errorf("list seats for voucher: %w", err)
	}

	var match *models.SeatRecord
	for _, rec := range records {
		if rec.Subject == subject && (match == nil || newer(rec, match)) {
			match = rec
		}
	}
	if match == nil {
		return nil, voucherInvalid("already used")
	}
	if match.ExpiresAt == nil {
		return nil, voucherInvalid("seat has no validity window")
	}
	if !match.ExpiresAt.After(a.cfg.Now()) {
		return nil, voucherInvalid("validity expired")
	}
	return match, nil
}

// commit runs fn in a transaction, retrying a bounded number of times.
// Every write in fn is keyed by record id, so a retry converges.
func (a *Allocator) commit(ctx context.Context, fn func(tx Store) error) error {
	var err error
	for i := 0; i < a.cfg.CommitRetries; i++ {
		if err = a.store.ExecTx(ctx, fn); err == nil {
			return nil
		}
		a.logger.Error().Err(err).Int("attempt", i+1).Msg("commit failed after remote success")
		if errors.Is(err, models.ErrVoucherConsumed) {
			break
		}
	}
	return fmt.Errorf("commit allocation: %w", err)
}

func (a *Allocator) resyncIfExists(ctx context.Context, tx Store, accountID uuid.UUID) error {
	if _, err := a.occupancy.ResyncByID(ctx, tx, accountID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// latestRecord returns the newest record, or nil.
func latestRecord(records []*models.SeatRecord) *models.SeatRecord {
	var latest *models.SeatRecord
	for _, rec := range records {
		if latest == nil || newer(rec, latest) {
			latest = rec
		}
	}
	return latest
}

// crossOwnerWarnings lists other accounts under which the subject still
// holds a seat.
func crossOwnerWarnings(records []*models.SeatRecord, owner uuid.UUID, now time.Time) []string {
	byOwner := make(map[uuid.UUID][]*models.SeatRecord)
	for _, rec := range records {
		if rec.AccountID != owner {
			byOwner[rec.AccountID] = append(byOwner[rec.AccountID], rec)
		}
	}

	var warnings []string
	for accountID, recs := range byOwner {
		if latest := latestRecord(recs); countsTowardOccupancy(latest, now) {
			warnings = append(warnings, fmt.Sprintf("subject also active under account %s", accountID))
		}
	}
	sort.Strings(warnings)
	return warnings
}

func inviteDetail(result *gateway.InviteResult, voucherCode string, attempts int) map[string]any {
	detail := map[string]any{
		"voucher":  voucherCode,
		"attempts": attempts,
	}
	if result.AlreadyMember {
		detail["already_member"] = true
	}
	if len(result.Raw) > 0 {
		detail["remote"] = result.Raw
	}
	return detail
}

func allocationOutcome(result *AllocationResult, err error) string {
	switch {
	case err == nil && result != nil && result.Reactivated:
		return "reactivated"
	case err == nil:
		return "allocated"
	case errors.Is(err, ErrVoucherInvalid), errors.Is(err, ErrInvalidSubject):
		return "voucher_invalid"
	case errors.Is(err, ErrNoCapacity):
		return "no_capacity"
	case errors.Is(err, ErrAllFailed):
		return "all_failed"
	default:
		return "error"
	}
}
