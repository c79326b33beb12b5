package seats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/gateway"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// memStore is an in-memory Store. ExecTx restores a snapshot on failure.
type memStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	vouchers map[uuid.UUID]*models.Voucher
	seats    map[uuid.UUID]*models.SeatRecord

	failCommits  int
	commits      int
	occupancyErr error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]*models.Account),
		vouchers: make(map[uuid.UUID]*models.Voucher),
		seats:    make(map[uuid.UUID]*models.SeatRecord),
	}
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, models.ErrNotFound)
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func cloneVoucher(v *models.Voucher) *models.Voucher {
	c := *v
	if v.ConsumedAt != nil {
		t := *v.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}

func (m *memStore) addAccount(email string, capacity int, lastAllocated time.Time) *models.Account {
	a := models.NewAccount(email, "group-"+email, capacity)
	a.LastAllocatedAt = lastAllocated
	m.mu.Lock()
	m.accounts[a.ID] = cloneAccount(a)
	m.mu.Unlock()
	return a
}

func (m *memStore) addVoucher(code string, days int) *models.Voucher {
	v := models.NewVoucher(code, days)
	m.mu.Lock()
	m.vouchers[v.ID] = cloneVoucher(v)
	m.mu.Unlock()
	return v
}

func (m *memStore) addSeat(rec *models.SeatRecord) *models.SeatRecord {
	m.mu.Lock()
	m.seats[rec.ID] = rec.Clone()
	m.mu.Unlock()
	return rec
}

func (m *memStore) account(id uuid.UUID) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAccount(m.accounts[id])
}

func (m *memStore) voucher(id uuid.UUID) *models.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneVoucher(m.vouchers[id])
}

func (m *memStore) seat(id uuid.UUID) *models.SeatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.seats[id]
	if !ok {
		return nil
	}
	return rec.Clone()
}

func (m *memStore) seatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seats)
}

func (m *memStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return m.ListAccountsExcluding(ctx, nil)
}

func (m *memStore) ListAccountsExcluding(_ context.Context, exclude []uuid.UUID) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []*models.Account
	for _, a := range m.accounts {
		if !skip[a.ID] {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAllocatedAt.Equal(out[j].LastAllocatedAt) {
			return out[i].LastAllocatedAt.Before(out[j].LastAllocatedAt)
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

func (m *memStore) GetAccountByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, notFound("account")
	}
	return cloneAccount(a), nil
}

func (m *memStore) UpdateAccountOccupancy(_ context.Context, id uuid.UUID, occupancy int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.occupancyErr != nil {
		return m.occupancyErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return notFound("account")
	}
	a.CachedOccupancy = occupancy
	return nil
}

func (m *memStore) TouchAccount(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return notFound("account")
	}
	a.LastAllocatedAt = at
	return nil
}

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if v.Code == code {
			return cloneVoucher(v), nil
		}
	}
	return nil, notFound("voucher")
}

func (m *memStore) ConsumeVoucher(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return notFound("voucher")
	}
	if v.Consumed {
		return fmt.Errorf("consume voucher: %w", models.ErrVoucherConsumed)
	}
	v.MarkConsumed(at)
	return nil
}

func (m *memStore) GetSeatByID(_ context.Context, id uuid.UUID) (*models.SeatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.seats[id]
	if !ok {
		return nil, notFound("seat")
	}
	return rec.Clone(), nil
}

func (m *memStore) GetSeatForUpdate(ctx context.Context, id uuid.UUID) (*models.SeatRecord, error) {
	return m.GetSeatByID(ctx, id)
}

func (m *memStore) filterSeats(keep func(*models.SeatRecord) bool) []*models.SeatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SeatRecord
	for _, rec := range m.seats {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

func (m *memStore) ListSeats(context.Context) ([]*models.SeatRecord, error) {
	return m.filterSeats(func(*models.SeatRecord) bool { return true }), nil
}

func (m *memStore) ListSeatsByAccount(_ context.Context, accountID uuid.UUID) ([]*models.SeatRecord, error) {
	return m.filterSeats(func(r *models.SeatRecord) bool { return r.AccountID == accountID }), nil
}

func (m *memStore) ListSeatsBySubject(_ context.Context, subject string) ([]*models.SeatRecord, error) {
	return m.filterSeats(func(r *models.SeatRecord) bool { return r.Subject == subject }), nil
}

func (m *memStore) ListSeatsByVoucher(_ context.Context, voucherID uuid.UUID) ([]*models.SeatRecord, error) {
	return m.filterSeats(func(r *models.SeatRecord) bool { return r.VoucherID != nil && *r.VoucherID == voucherID }), nil
}

func (m *memStore) ListManualSeats(context.Context) ([]*models.SeatRecord, error) {
	return m.filterSeats(func(r *models.SeatRecord) bool { return r.ExpiresAt == nil }), nil
}

func (m *memStore) ListExpiredSeats(_ context.Context, now time.Time, limit int) ([]*models.SeatRecord, error) {
	out := m.filterSeats(func(r *models.SeatRecord) bool {
		return !r.Cleaned && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateSeat(_ context.Context, rec *models.SeatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seats[rec.ID]; ok {
		return errors.New("duplicate seat id")
	}
	m.seats[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) UpdateSeat(ctx context.Context, rec *models.SeatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seats[rec.ID]; !ok {
		return notFound("seat")
	}
	m.seats[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) DeleteSeat(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seats[id]; !ok {
		return notFound("seat")
	}
	delete(m.seats, id)
	return nil
}

type memSnapshot struct {
	accounts map[uuid.UUID]*models.Account
	vouchers map[uuid.UUID]*models.Voucher
	seats    map[uuid.UUID]*models.SeatRecord
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		accounts: make(map[uuid.UUID]*models.Account, len(m.accounts)),
		vouchers: make(map[uuid.UUID]*models.Voucher, len(m.vouchers)),
		seats:    make(map[uuid.UUID]*models.SeatRecord, len(m.seats)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = cloneAccount(v)
	}
	for k, v := range m.vouchers {
		s.vouchers[k] = cloneVoucher(v)
	}
	for k, v := range m.seats {
		s.seats[k] = v.Clone()
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = s.accounts
	m.vouchers = s.vouchers
	m.seats = s.seats
}

var errCommitFailed = errors.New("commit failed")

func (m *memStore) ExecTx(_ context.Context, fn func(tx Store) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	m.mu.Lock()
	fail := m.failCommits > 0
	if fail {
		m.failCommits--
	} else {
		m.commits++
	}
	m.mu.Unlock()
	if fail {
		m.restore(snap)
		return errCommitFailed
	}
	return nil
}

type gwCall struct {
	Account string
	Arg     string
}

// fakeGateway scripts remote behavior per account email.
type fakeGateway struct {
	mu          sync.Mutex
	inviteErrs  map[string][]error
	inviteIDs   map[string]string
	removeErrs  map[string]error
	revokeErrs  map[string]error
	acquireErrs map[string]error
	members     map[string][]gateway.Member
	inviteDelay time.Duration
	// onEnd runs after a remote removal or revocation is recorded.
	onEnd func()

	invites     []gwCall
	removals    []gwCall
	revocations []gwCall
	acquired    int
	released    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		inviteErrs:  make(map[string][]error),
		inviteIDs:   make(map[string]string),
		removeErrs:  make(map[string]error),
		revokeErrs:  make(map[string]error),
		acquireErrs: make(map[string]error),
		members:     make(map[string][]gateway.Member),
	}
}

func (g *fakeGateway) failInvites(account string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inviteErrs[account] = append(g.inviteErrs[account], errs...)
}

func (g *fakeGateway) inviteCalls() []gwCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gwCall(nil), g.invites...)
}

func (g *fakeGateway) removalCalls() []gwCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gwCall(nil), g.removals...)
}

func (g *fakeGateway) revocationCalls() []gwCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gwCall(nil), g.revocations...)
}

func (g *fakeGateway) Acquire(_ context.Context, account *models.Account) (gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.acquireErrs[account.Email]; err != nil {
		return nil, err
	}
	g.acquired++
	return &fakeSession{gw: g, account: account.Email}, nil
}

type fakeSession struct {
	gw      *fakeGateway
	account string
}

func (s *fakeSession) Invite(ctx context.Context, subject string, _ *time.Time) (*gateway.InviteResult, error) {
	if s.gw.inviteDelay > 0 {
		select {
		case <-time.After(s.gw.inviteDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	s.gw.invites = append(s.gw.invites, gwCall{Account: s.account, Arg: subject})
	if errs := s.gw.inviteErrs[s.account]; len(errs) > 0 {
		s.gw.inviteErrs[s.account] = errs[1:]
		return nil, errs[0]
	}
	result := &gateway.InviteResult{}
	if id, ok := s.gw.inviteIDs[s.account]; ok {
		result.MemberID = &id
		result.AlreadyMember = true
	}
	return result, nil
}

func (s *fakeSession) RemoveMember(_ context.Context, memberID string) error {
	s.gw.mu.Lock()
	s.gw.removals = append(s.gw.removals, gwCall{Account: s.account, Arg: memberID})
	err, hook := s.gw.removeErrs[s.account], s.gw.onEnd
	s.gw.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (s *fakeSession) RevokeInvite(_ context.Context, subject string) error {
	s.gw.mu.Lock()
	s.gw.revocations = append(s.gw.revocations, gwCall{Account: s.account, Arg: subject})
	err, hook := s.gw.revokeErrs[s.account], s.gw.onEnd
	s.gw.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (s *fakeSession) ListMembers(context.Context) ([]gateway.Member, error) {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	return append([]gateway.Member(nil), s.gw.members[s.account]...), nil
}

func (s *fakeSession) Release(context.Context) error {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	s.gw.released++
	return nil
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	errGroupFull = gateway.NewRemoteError(gateway.KindGroupFull, "invite", 422, errors.New("group is full"))
	errTransient = gateway.NewRemoteError(gateway.KindTransient, "invite", 502, errors.New("bad gateway"))
	errNotFound  = gateway.NewRemoteError(gateway.KindNotFound, "remove", 404, errors.New("no such member"))
)

var day = 24 * time.Hour

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memStore
	gw     *fakeGateway
	clock  *testClock
	locker *KeyedLocker
	svc    *Service
	cfg    Config
}

func newFixture(mods ...func(*Config)) *fixture {
	store := newMemStore()
	gw := newFakeGateway()
	clock := newTestClock(epoch)
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.SyncAccountDelay = 0
	for _, mod := range mods {
		mod(&cfg)
	}
	locker := NewKeyedLocker()
	return &fixture{
		store:  store,
		gw:     gw,
		clock:  clock,
		locker: locker,
		cfg:    cfg,
		svc:    NewService(store, gw, locker, nil, cfg, zerolog.Nop()),
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func ptrString(s string) *string {
	return &s
}

// seatAt builds a seat record created at createdAt.
func seatAt(accountID uuid.UUID, subject string, createdAt time.Time, expiresAt *time.Time) *models.SeatRecord {
	return models.NewSeatRecord(accountID, subject, expiresAt, createdAt)
}

// waitForWaiter blocks until someone besides the holder is queued on key.
func waitForWaiter(t *testing.T, l *KeyedLocker, key uuid.UUID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		slot, ok := l.slots[key]
		queued := ok && slot.refs > 1
		l.mu.Unlock()
		if queued {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no waiter queued on %s", key)
}
