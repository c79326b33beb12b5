package seats

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// Service wires the engine components together and exposes the broker
// operations.
type Service struct {
	store     Store
	locker    Locker
	occupancy *Occupancy
	selector  *Selector
	allocator *Allocator
	remover   *Remover
	expiry    *ExpiryReconciler
	validator *Validator
	syncer    *MemberSyncer
	cfg       Config
	logger    zerolog.Logger
}

// NewService creates a new Service. A nil locker falls back to an
// in-process KeyedLocker and a nil recorder discards metrics.
func NewService(store Store, gw gateway.Gateway, locker Locker, recorder Recorder, cfg Config, logger zerolog.Logger) *Service {
	cfg = cfg.withDefaults()
	if locker == nil {
		locker = NewKeyedLocker()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	occupancy := NewOccupancy(store, recorder, cfg.Now, logger)
	selector := NewSelector(store, occupancy, locker, logger)
	remover := NewRemover(store, gw, locker, occupancy, recorder, cfg, logger)

	return &Service{
		store:     store,
		locker:    locker,
		occupancy: occupancy,
		selector:  selector,
		allocator: NewAllocator(store, gw, locker, occupancy, selector, recorder, cfg, logger),
		remover:   remover,
		expiry:    NewExpiryReconciler(store, remover, occupancy, recorder, cfg, logger),
		validator: NewValidator(store, recorder, cfg, logger),
		syncer:    NewMemberSyncer(store, gw, locker, occupancy, cfg, logger),
		cfg:       cfg,
		logger:    logger.With().Str("component", "seats").Logger(),
	}
}

// Allocate redeems a voucher for subject.
func (s *Service) Allocate(ctx context.Context, voucherCode, subject string) (*AllocationResult, error) {
	return s.allocator.Allocate(ctx, voucherCode, subject)
}

// RemoveBySubject removes the subject's accepted seat.
func (s *Service) RemoveBySubject(ctx context.Context, subject string) (*RemovalResult, error) {
	return s.remover.RemoveBySubject(ctx, subject)
}

// SweepExpired ends up to limit expired seats.
func (s *Service) SweepExpired(ctx context.Context, limit int) (SweepStats, error) {
	return s.expiry.Sweep(ctx, limit)
}

// SweepProgress returns the status of the current or last sweep.
func (s *Service) SweepProgress() JobStatus {
	return s.expiry.Progress()
}

// ValidateConsistency audits the store without changing it.
func (s *Service) ValidateConsistency(ctx context.Context) ([]Finding, error) {
	return s.validator.Validate(ctx)
}

// FixCounts corrects cached occupancy, or previews the corrections.
func (s *Service) FixCounts(ctx context.Context, dryRun bool) (*FixReport, error) {
	return s.validator.FixCounts(ctx, dryRun)
}

// Report summarizes every account.
func (s *Service) Report(ctx context.Context) ([]AccountSummary, error) {
	return s.validator.Report(ctx)
}

// SyncAccount reconciles one account with its remote roster.
func (s *Service) SyncAccount(ctx context.Context, accountID uuid.UUID) (*SyncResult, error) {
	return s.syncer.SyncAccount(ctx, accountID)
}

// SyncAll reconciles every account and waits for completion.
func (s *Service) SyncAll(ctx context.Context) ([]*SyncResult, error) {
	return s.syncer.SyncAll(ctx)
}

// StartSyncAll reconciles every account in the background.
func (s *Service) StartSyncAll(ctx context.Context) error {
	return s.syncer.StartSyncAll(ctx)
}

// SyncProgress returns the status of the current or last full sync.
func (s *Service) SyncProgress() JobStatus {
	return s.syncer.Progress()
}

// ResyncAccount recomputes one account's cached occupancy.
func (s *Service) ResyncAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.occupancy.ResyncByID(ctx, nil, accountID)
}

// SeatsBySubject returns the subject's records with derived statuses.
func (s *Service) SeatsBySubject(ctx context.Context, subject string) ([]SeatView, error) {
	records, err := s.store.ListSeatsBySubject(ctx, models.NormalizeSubject(subject))
	if err != nil {
		return nil, fmt.Errorf("list seats for subject: %w", err)
	}
	now := s.cfg.Now()
	views := make([]SeatView, 0, len(records))
	for _, rec := range records {
		views = append(views, SeatView{SeatRecord: rec, Status: DeriveStatus(rec, now)})
	}
	return views, nil
}

// SeatView pairs a record with its derived status.
type SeatView struct {
	*models.SeatRecord
	Status Status `json:"status"`
}
