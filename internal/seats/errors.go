package seats

import (
	"errors"
	"fmt"
)

var (
	// ErrVoucherInvalid is returned for unknown, foreign or expired vouchers.
	ErrVoucherInvalid = errors.New("voucher invalid")
	// ErrInvalidSubject is returned for an empty subject identity.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrNoCapacity is returned when no eligible account has a free seat.
	ErrNoCapacity = errors.New("no account with free capacity")
	// ErrAllFailed is returned when every failover attempt failed remotely.
	ErrAllFailed = errors.New("all allocation attempts failed")
	// ErrNotRemovable is returned when removal is asked for a record that
	// has no accepted membership to remove.
	ErrNotRemovable = errors.New("seat is not removable")
	// ErrNotRevokable is returned when revocation is asked for a record
	// that is not a pending invitation.
	ErrNotRevokable = errors.New("seat is not revokable")
	// ErrRecordNotFound is returned when no matching seat record exists.
	ErrRecordNotFound = errors.New("seat record not found")
	// ErrRecordChanged is returned when a seat record was reassigned,
	// renewed or ended by someone else before it could be ended.
	ErrRecordChanged = errors.New("seat record changed concurrently")
	// ErrJobRunning is returned when a background job of the same kind is
	// already in progress.
	ErrJobRunning = errors.New("job already running")
	// ErrExpiryAlreadySet is returned when resolving a manual record that
	// already carries an expiry.
	ErrExpiryAlreadySet = errors.New("seat already has an expiry")
)

// AllocationError describes why an allocation did not produce a seat.
// It unwraps to both its Kind sentinel and the last underlying cause.
type AllocationError struct {
	Kind     error
	Reason   string
	Attempts int
	Cause    error
}

func (e *AllocationError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AllocationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func voucherInvalid(reason string) error {
	return &AllocationError{Kind: ErrVoucherInvalid, Reason: reason}
}
