package seats

import (
	"time"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// Status is the derived lifecycle state of a seat record.
type Status string

const (
	// StatusPending is an outstanding invitation that has not expired.
	StatusPending Status = "pending"
	// StatusAccepted is a confirmed member. It holds a seat regardless of
	// expiry until removed remotely.
	StatusAccepted Status = "accepted"
	// StatusExpired is an unaccepted invitation past its expiry.
	StatusExpired Status = "expired"
	// StatusProcessed is terminal.
	StatusProcessed Status = "processed"
)

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusAccepted, StatusExpired, StatusProcessed}
}

// DeriveStatus computes the status of rec at now.
func DeriveStatus(rec *models.SeatRecord, now time.Time) Status {
	switch {
	case rec.Cleaned:
		return StatusProcessed
	case rec.HasMember():
		return StatusAccepted
	case rec.ExpiresAt != nil && rec.ExpiresAt.Before(now):
		return StatusExpired
	default:
		return StatusPending
	}
}

// IsRemovable reports whether cleaning up rec requires a remote member removal.
func IsRemovable(rec *models.SeatRecord) bool {
	return rec.HasMember() && !rec.Cleaned
}

// IsRevokable reports whether cleaning up rec requires revoking a remote invitation.
func IsRevokable(rec *models.SeatRecord) bool {
	return !rec.HasMember() && !rec.Cleaned
}

// countsTowardOccupancy reports whether a latest record holds a seat at now.
// Manual records always count until resolved.
func countsTowardOccupancy(rec *models.SeatRecord, now time.Time) bool {
	if rec.Cleaned {
		return false
	}
	return rec.HasMember() || rec.ExpiresAt == nil || rec.ExpiresAt.After(now)
}
