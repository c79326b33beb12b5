package handlers

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// mockBroker stands in for seats.Service in handler tests.
type mockBroker struct {
	mu sync.Mutex

	allocateResult *seats.AllocationResult
	allocateErr    error
	allocateCalls  []string

	removeResult *seats.RemovalResult
	removeErr    error

	sweepStats  seats.SweepStats
	sweepErr    error
	sweepLimits []int
	jobStatus   seats.JobStatus

	findings  []seats.Finding
	summaries []seats.AccountSummary
	fixReport *seats.FixReport
	auditErr  error
	fixDryRun []bool

	startErr   error
	started    int
	syncResult *seats.SyncResult
	syncErr    error

	views      []seats.SeatView
	manual     []*models.SeatRecord
	resolved   *models.SeatRecord
	resolveErr error
	queryErr   error
}

func (m *mockBroker) Allocate(_ context.Context, voucherCode, subject string) (*seats.AllocationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocateCalls = append(m.allocateCalls, voucherCode+"|"+subject)
	return m.allocateResult, m.allocateErr
}

func (m *mockBroker) RemoveBySubject(_ context.Context, _ string) (*seats.RemovalResult, error) {
	return m.removeResult, m.removeErr
}

func (m *mockBroker) SweepExpired(_ context.Context, limit int) (seats.SweepStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLimits = append(m.sweepLimits, limit)
	return m.sweepStats, m.sweepErr
}

func (m *mockBroker) SweepProgress() seats.JobStatus {
	return m.jobStatus
}

func (m *mockBroker) ValidateConsistency(_ context.Context) ([]seats.Finding, error) {
	return m.findings, m.auditErr
}

func (m *mockBroker) Report(_ context.Context) ([]seats.AccountSummary, error) {
	return m.summaries, m.auditErr
}

func (m *mockBroker) FixCounts(_ context.Context, dryRun bool) (*seats.FixReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixDryRun = append(m.fixDryRun, dryRun)
	if m.auditErr != nil {
		return nil, m.auditErr
	}
	report := *m.fixReport
	report.DryRun = dryRun
	return &report, nil
}

func (m *mockBroker) StartSyncAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started++
	return nil
}

func (m *mockBroker) SyncAccount(_ context.Context, accountID uuid.UUID) (*seats.SyncResult, error) {
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	res := *m.syncResult
	res.AccountID = accountID
	return &res, nil
}

func (m *mockBroker) SyncProgress() seats.JobStatus {
	return m.jobStatus
}

func (m *mockBroker) SeatsBySubject(_ context.Context, _ string) ([]seats.SeatView, error) {
	return m.views, m.queryErr
}

func (m *mockBroker) ListManual(_ context.Context) ([]*models.SeatRecord, error) {
	return m.manual, m.queryErr
}

func (m *mockBroker) ResolveManual(_ context.Context, _ uuid.UUID, _ int, _ string) (*models.SeatRecord, error) {
	return m.resolved, m.resolveErr
}

var (
	_ Allocator     = (*mockBroker)(nil)
	_ MemberRemover = (*mockBroker)(nil)
	_ Sweeper       = (*mockBroker)(nil)
	_ Auditor       = (*mockBroker)(nil)
	_ RosterSyncer  = (*mockBroker)(nil)
	_ SeatQuerier   = (*mockBroker)(nil)
)
