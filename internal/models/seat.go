package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Outcome kinds recorded on seat records.
const (
	OutcomeAllocated   = "allocated"
	OutcomeReactivated = "reactivated"
	OutcomeProcessed   = "processed"
	OutcomeSynced      = "synced"
	OutcomeManual      = "manual"
	OutcomeExpirySet   = "expiry_set"
)

// OutcomeEntry is one step in the history of a seat record.
type OutcomeEntry struct {
	Kind      string         `json:"kind"`
	At        time.Time      `json:"at"`
	AccountID *uuid.UUID     `json:"account_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Outcome is the append-only history attached to a seat record.
type Outcome []OutcomeEntry

// Append adds an entry and returns the extended history.
func (o Outcome) Append(kind string, at time.Time, accountID *uuid.UUID, detail map[string]any) Outcome {
	return append(o, OutcomeEntry{Kind: kind, At: at, AccountID: accountID, Detail: detail})
}

// Last returns the most recent entry, or nil for an empty history.
func (o Outcome) Last() *OutcomeEntry {
	if len(o) == 0 {
		return nil
	}
	return &o[len(o)-1]
}

// Marshal encodes the history for storage.
func (o Outcome) Marshal() ([]byte, error) {
	if o == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// UnmarshalOutcome decodes a stored history. Empty input yields an empty history.
func UnmarshalOutcome(data []byte) (Outcome, error) {
	if len(data) == 0 {
		return Outcome{}, nil
	}
	var o Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return o, nil
}

// SeatRecord tracks one subject's seat on one account.
// A nil ExpiresAt marks a manual record that never expires.
type SeatRecord struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	VoucherID      *uuid.UUID `json:"voucher_id,omitempty"`
	Subject        string     `json:"subject"`
	RemoteMemberID *string    `json:"remote_member_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Cleaned        bool       `json:"cleaned"`
	Outcome        Outcome    `json:"outcome"`
}

// NewSeatRecord creates a new seat record owned by accountID.
func NewSeatRecord(accountID uuid.UUID, subject string, expiresAt *time.Time, now time.Time) *SeatRecord {
	return &SeatRecord{
		ID:        uuid.New(),
		AccountID: accountID,
		Subject:   NormalizeSubject(subject),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
		Outcome:   Outcome{},
	}
}

// IsManual returns true for records without an expiry.
func (s *SeatRecord) IsManual() bool {
	return s.ExpiresAt == nil
}

// HasMember returns true if the remote side reported the subject as a member.
func (s *SeatRecord) HasMember() bool {
	return s.RemoteMemberID != nil && *s.RemoteMemberID != ""
}

// Clone returns a deep copy of the record.
func (s *SeatRecord) Clone() *SeatRecord {
	c := *s
	if s.VoucherID != nil {
		v := *s.VoucherID
		c.VoucherID = &v
	}
	if s.RemoteMemberID != nil {
		m := *s.RemoteMemberID
		c.RemoteMemberID = &m
	}
	if s.ExpiresAt != nil {
		e := *s.ExpiresAt
		c.ExpiresAt = &e
	}
	c.Outcome = append(Outcome(nil), s.Outcome...)
	return &c
}

// NormalizeSubject returns the canonical form of a subject identity.
// A Caser keeps state, so one is built per call.
func NormalizeSubject(subject string) string {
	return cases.Fold().String(strings.TrimSpace(subject))
}

// RedeemRequest is the request body for redeeming a voucher.
type RedeemRequest struct {
	Code  string `json:"code" binding:"required,max=64"`
	Email string `json:"email" binding:"required,email,max=320"`
}

// RemoveMemberRequest is the request body for removing a member.
type RemoveMemberRequest struct {
	Email string `json:"email" binding:"required,email,max=320"`
}

// SetExpiryRequest is the request body for giving a manual record an expiry.
type SetExpiryRequest struct {
	Days        int    `json:"days" binding:"required,min=1,max=3650"`
	VoucherCode string `json:"voucher_code,omitempty" binding:"omitempty,max=64"`
}
