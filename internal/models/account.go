package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultAccountCapacity is the seat limit applied when an account is
// created without an explicit capacity.
const DefaultAccountCapacity = 100

// Account is a paid subscription on the remote service that owns a group
// with a fixed number of seats.
type Account struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	GroupID           string    `json:"group_id"`
	PasswordEncrypted []byte    `json:"-"`
	SessionEncrypted  []byte    `json:"-"`
	Capacity          int       `json:"capacity"`
	CachedOccupancy   int       `json:"cached_occupancy"`
	LastAllocatedAt   time.Time `json:"last_allocated_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewAccount creates a new Account. A non-positive capacity falls back to
// DefaultAccountCapacity.
func NewAccount(email, groupID string, capacity int) *Account {
	if capacity <= 0 {
		capacity = DefaultAccountCapacity
	}
	now := time.Now()
	return &Account{
		ID:        uuid.New(),
		Email:     email,
		GroupID:   groupID,
		Capacity:  capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Available returns the number of free seats according to the cached
// occupancy. It never returns a negative number.
func (a *Account) Available() int {
	if a.CachedOccupancy >= a.Capacity {
		return 0
	}
	return a.Capacity - a.CachedOccupancy
}

// HasSession reports whether a persisted remote session is stored.
func (a *Account) HasSession() bool {
	return len(a.SessionEncrypted) > 0
}

// CreateAccountRequest is the request body for registering an account.
type CreateAccountRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=1"`
	GroupID  string `json:"group_id" binding:"required,max=64"`
	Capacity int    `json:"capacity" binding:"omitempty,min=1,max=10000"`
}
