package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrVoucherConsumed is returned by stores when consuming a voucher that
// is already used.
var ErrVoucherConsumed = errors.New("voucher already consumed")

// DefaultValidityDays is the seat validity granted by a voucher when none
// is specified.
const DefaultValidityDays = 7

// Voucher is a single-use redemption code granting a seat for a fixed
// number of days.
type Voucher struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	ValidityDays int        `json:"validity_days"`
	Consumed     bool       `json:"consumed"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewVoucher creates a new unconsumed Voucher.
func NewVoucher(code string, validityDays int) *Voucher {
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}
	return &Voucher{
		ID:           uuid.New(),
		Code:         code,
		ValidityDays: validityDays,
		CreatedAt:    time.Now(),
	}
}

// Validity returns the validity window as a duration.
func (v *Voucher) Validity() time.Duration {
	return time.Duration(v.ValidityDays) * 24 * time.Hour
}

// MarkConsumed flags the voucher as used at the given time.
func (v *Voucher) MarkConsumed(at time.Time) {
	v.Consumed = true
	v.ConsumedAt = &at
}

// CreateVouchersRequest is the request body for adding vouchers in bulk.
// Either Codes are imported as given or Count new codes are generated.
type CreateVouchersRequest struct {
	Codes        []string `json:"codes,omitempty" binding:"omitempty,max=1000,dive,min=3,max=64"`
	Count        int      `json:"count,omitempty" binding:"omitempty,min=1,max=1000"`
	ValidityDays int      `json:"validity_days" binding:"omitempty,min=1,max=3650"`
}

// VouchersResponse lists vouchers.
type VouchersResponse struct {
	Vouchers []*Voucher `json:"vouchers"`
}
