package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// Allocator redeems vouchers into seats.
type Allocator interface {
	Allocate(ctx context.Context, voucherCode, subject string) (*seats.AllocationResult, error)
}

// RedeemResponse is returned to the person redeeming a voucher. It does
// not reveal which account hosts the seat.
type RedeemResponse struct {
	Status      string     `json:"status"`
	Subject     string     `json:"subject"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reactivated bool       `json:"reactivated"`
}

// RedeemHandler handles the public redemption endpoint.
type RedeemHandler struct {
	allocator Allocator
	logger    zerolog.Logger
}

// NewRedeemHandler creates a new RedeemHandler.
func NewRedeemHandler(allocator Allocator, logger zerolog.Logger) *RedeemHandler {
	return &RedeemHandler{
		allocator: allocator,
		logger:    logger.With().Str("component", "redeem_handler").Logger(),
	}
}

// RegisterRoutes registers redemption routes on the given router group.
func (h *RedeemHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/redeem", h.Redeem)
}

// Redeem consumes a voucher and invites the email into a group.
// POST /api/v1/redeem
func (h *RedeemHandler) Redeem(c *gin.Context) {
	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	// Remote invitations should not be abandoned halfway by a client hang-up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Minute)
	defer cancel()

	result, err := h.allocator.Allocate(ctx, req.Code, req.Email)
	if err != nil {
		respondError(c, h.logger, err, "failed to redeem voucher")
		return
	}

	status := "invited"
	if result.Seat.HasMember() {
		status = "member"
	}
	c.JSON(http.StatusOK, RedeemResponse{
		Status:      status,
		Subject:     result.Seat.Subject,
		ExpiresAt:   result.ExpiresAt,
		Reactivated: result.Reactivated,
	})
}
