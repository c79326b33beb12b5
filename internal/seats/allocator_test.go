package seats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

func TestAllocate_Fresh(t *testing.T) {
	f := newFixture()
	account := f.store.addAccount("owner@example.com", 2, epoch.Add(-day))
	voucher := f.store.addVoucher("abc12", 7)

	res, err := f.svc.Allocate(context.Background(), "abc12", " Alice@Example.com ")
	require.NoError(t, err)

	assert.False(t, res.Reactivated)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, account.ID, res.Account.ID)
	require.NotNil(t, res.Seat)
	assert.Equal(t, "alice@example.com", res.Seat.Subject)
	assert.Equal(t, epoch.Add(7*day), *res.Seat.ExpiresAt)
	assert.Equal(t, voucher.ID, *res.Seat.VoucherID)
	assert.Equal(t, models.OutcomeAllocated, res.Seat.Outcome.Last().Kind)

	v := f.store.voucher(voucher.ID)
	assert.True(t, v.Consumed)
	stored := f.store.account(account.ID)
	assert.Equal(t, 1, stored.CachedOccupancy)
	assert.Equal(t, epoch, stored.LastAllocatedAt)

	calls := f.gw.inviteCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice@example.com", calls[0].Arg)
	assert.Equal(t, f.gw.acquired, f.gw.released, "every session released")
}

func TestAllocate_VoucherInvalid(t *testing.T) {
	f := newFixture()
	f.store.addAccount("owner@example.com", 2, epoch)

	_, err := f.svc.Allocate(context.Background(), "nope", "a@example.com")
	assert.ErrorIs(t, err, ErrVoucherInvalid)

	_, err = f.svc.Allocate(context.Background(), "  ", "a@example.com")
	assert.ErrorIs(t, err, ErrVoucherInvalid)

	f.store.addVoucher("abc12", 7)
	_, err = f.svc.Allocate(context.Background(), "abc12", "   ")
	assert.ErrorIs(t, err, ErrInvalidSubject)

	assert.Empty(t, f.gw.inviteCalls())
}

func TestAllocate_VoucherUsedByAnotherSubject(t *testing.T) {
	f := newFixture()
	f.store.addAccount("owner@example.com", 5, epoch)
	f.store.addVoucher("abc12", 7)

	_, err := f.svc.Allocate(context.Background(), "abc12", "a@example.com")
	require.NoError(t, err)

	_, err = f.svc.Allocate(context.Background(), "abc12", "b@example.com")
	assert.ErrorIs(t, err, ErrVoucherInvalid)
	assert.Len(t, f.gw.inviteCalls(), 1)
	assert.Equal(t, 1, f.store.seatCount())
}

func TestAllocate_FailoverOnGroupFull(t *testing.T) {
	f := newFixture()
	first := f.store.addAccount("first@example.com", 5, epoch.Add(-2*day))
	second := f.store.addAccount("second@example.com", 5, epoch.Add(-day))
	f.store.addVoucher("abc12", 7)
	f.gw.failInvites("first@example.com", errGroupFull)

	res, err := f.svc.Allocate(context.Background(), "abc12", "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, second.ID, res.Account.ID)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, epoch, f.store.account(first.ID).LastAllocatedAt, "failed account pushed to back of LRU")
	assert.Equal(t, 0, f.store.account(first.ID).CachedOccupancy)
	assert.Equal(t, 1, f.store.account(second.ID).CachedOccupancy)
}

func TestAllocate_FailoverOnTransient(t *testing.T) {
	f := newFixture()
	f.store.addAccount("first@example.com", 5, epoch.Add(-2*day))
	second := f.store.addAccount("second@example.com", 5, epoch.Add(-day))
	f.store.addVoucher("abc12", 7)
	f.gw.failInvites("first@example.com", errTransient)

	res, err := f.svc.Allocate(context.Background(), "abc12", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, res.Account.ID)
}

func TestAllocate_AllFailed(t *testing.T) {
	f := newFixture(func(c *Config) { c.MaxAttempts = 2 })
	f.store.addAccount("a@example.com", 5, epoch.Add(-3*day))
	f.store.addAccount("b@example.com", 5, epoch.Add(-2*day))
	f.store.addAccount("c@example.com", 5, epoch.Add(-day))
	voucher := f.store.addVoucher("abc12", 7)
	f.gw.failInvites("a@example.com", errGroupFull)
	f.gw.failInvites("b@example.com", errTransient)

	_, err := f.svc.Allocate(context.Background(), "abc12", "x@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.ErrorIs(t, err, errTransient, "last cause reported")

	var ae *AllocationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 2, ae.Attempts)

	assert.False(t, f.store.voucher(voucher.ID).Consumed)
	assert.Equal(t, 0, f.store.seatCount())
	assert.Len(t, f.gw.inviteCalls(), 2)
}

func TestAllocate_NoCapacity(t *testing.T) {
	f := newFixture()
	a := f.store.addAccount("a@example.com", 1, epoch)
	f.store.addSeat(seatAt(a.ID, "taken@example.com", epoch.Add(-day), nil))
	f.store.addVoucher("abc12", 7)

	_, err := f.svc.Allocate(context.Background(), "abc12", "x@example.com")
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Empty(t, f.gw.inviteCalls())
}

func TestAllocate_NoCapacityAfterFailures(t *testing.T) {
	f := newFixture()
	f.store.addAccount("a@example.com", 5, epoch)
	f.store.addVoucher("abc12", 7)
	f.gw.failInvites("a@example.com", errGroupFull)

	_, err := f.svc.Allocate(context.Background(), "abc12", "x@example.com")
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.ErrorIs(t, err, errGroupFull)
}

func TestAllocate_ConcurrentLastSeat(t *testing.T) {
	f := newFixture()
	f.gw.inviteDelay = 20 * time.Millisecond
	account := f.store.addAccount("a@example.com", 1, epoch)
	f.store.addVoucher("code1", 7)
	f.store.addVoucher("code2", 7)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, code := range []string{"code1", "code2"} {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			_, errs[i] = f.svc.Allocate(context.Background(), code, code+"@example.com")
		}(i, code)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrNoCapacity)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.store.account(account.ID).CachedOccupancy)
	assert.Len(t, f.gw.inviteCalls(), 1)
}

func TestAllocate_SameVoucherConcurrently(t *testing.T) {
	f := newFixture()
	f.gw.inviteDelay = 10 * time.Millisecond
	f.store.addAccount("a@example.com", 5, epoch)
	f.store.addVoucher("abc12", 7)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, subject := range []string{"x@example.com", "y@example.com"} {
		wg.Add(1)
		go func(i int, subject string) {
			defer wg.Done()
			_, errs[i] = f.svc.Allocate(context.Background(), "abc12", subject)
		}(i, subject)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, ErrVoucherInvalid)
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, f.store.seatCount())
}

func TestAllocate_CrossOwnerDuplicateIsFlagged(t *testing.T) {
	f := newFixture()
	other := f.store.addAccount("other@example.com", 5, epoch.Add(-day))
	target := f.store.addAccount("target@example.com", 5, epoch.Add(-2*day))
	prior := seatAt(other.ID, "dup@example.com", epoch.Add(-3*day), ptrTime(epoch.Add(4*day)))
	prior.RemoteMemberID = ptrString("m-9")
	f.store.addSeat(prior)
	f.store.addVoucher("abc12", 7)

	res, err := f.svc.Allocate(context.Background(), "abc12", "dup@example.com")
	require.NoError(t, err)

	assert.Equal(t, target.ID, res.Account.ID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], other.ID.String())

	// The single thread for the subject moved to the new owner.
	assert.Equal(t, prior.ID, res.Seat.ID)
	assert.Equal(t, 1, f.store.seatCount())
	assert.Equal(t, target.ID, f.store.seat(prior.ID).AccountID)
	assert.Nil(t, f.store.seat(prior.ID).RemoteMemberID)
	assert.Equal(t, 1, f.store.account(target.ID).CachedOccupancy)
	assert.Equal(t, 0, f.store.account(other.ID).CachedOccupancy)
}

func TestAllocate_AlreadyMemberIsSuccess(t *testing.T) {
	f := newFixture()
	f.store.addAccount("a@example.com", 5, epoch)
	f.store.addVoucher("abc12", 7)
	f.gw.inviteIDs["a@example.com"] = "member-7"

	res, err := f.svc.Allocate(context.Background(), "abc12", "x@example.com")
	require.NoError(t, err)
	require.NotNil(t, res.Seat.RemoteMemberID)
	assert.Equal(t, "member-7", *res.Seat.RemoteMemberID)
	assert.Equal(t, true, res.Seat.Outcome.Last().Detail["already_member"])
}

func TestAllocate_CommitRetried(t *testing.T) {
	f := newFixture()
	account := f.store.addAccount("a@example.com", 5, epoch)
	voucher := f.store.addVoucher("abc12", 7)
	f.store.failCommits = 1

	res, err := f.svc.Allocate(context.Background(), "abc12", "x@example.com")
	require.NoError(t, err)

	assert.Len(t, f.gw.inviteCalls(), 1, "remote invite is not repeated")
	assert.Equal(t, 1, f.store.seatCount())
	assert.True(t, f.store.voucher(voucher.ID).Consumed)
	assert.Equal(t, 1, f.store.account(account.ID).CachedOccupancy)
	assert.Equal(t, res.Seat.ID, f.store.seat(res.Seat.ID).ID)
}

func TestAllocate_CommitExhausted(t *testing.T) {
	f := newFixture(func(c *Config) { c.CommitRetries = 2 })
	f.store.addAccount("a@example.com", 5, epoch)
	voucher := f.store.addVoucher("abc12", 7)
	f.store.failCommits = 2

	_, err := f.svc.Allocate(context.Background(), "abc12", "x@example.com")
	assert.ErrorIs(t, err, errCommitFailed)
	assert.False(t, f.store.voucher(voucher.ID).Consumed)
	assert.Equal(t, 0, f.store.seatCount())
}

func TestAllocationError_Message(t *testing.T) {
	err := &AllocationError{Kind: ErrAllFailed, Attempts: 5, Cause: errTransient}
	assert.Contains(t, err.Error(), "all allocation attempts failed after 5 attempt(s)")
	assert.ErrorIs(t, err, ErrAllFailed)

	err = &AllocationError{Kind: ErrVoucherInvalid, Reason: "unknown code"}
	assert.Equal(t, "voucher invalid: unknown code", err.Error())
}
