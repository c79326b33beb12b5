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

// MemberRemover ends a subject's seat.
type MemberRemover interface {
	RemoveBySubject(ctx context.Context, subject string) (*seats.RemovalResult, error)
}

// MembersHandler handles member administration endpoints.
type MembersHandler struct {
	remover MemberRemover
	logger  zerolog.Logger
}

// NewMembersHandler creates a new MembersHandler.
func NewMembersHandler(remover MemberRemover, logger zerolog.Logger) *MembersHandler {
	return &MembersHandler{
		remover: remover,
		logger:  logger.With().Str("component", "members_handler").Logger(),
	}
}

// RegisterRoutes registers member routes on the given router group.
func (h *MembersHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/members/remove", h.Remove)
}

// Remove removes the subject's current seat from its group.
// POST /api/v1/members/remove
func (h *MembersHandler) Remove(c *gin.Context) {
	var req models.RemoveMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), time.Minute)
	defer cancel()

	result, err := h.remover.RemoveBySubject(ctx, req.Email)
	if err != nil {
		respondError(c, h.logger, err, "failed to remove member")
		return
	}

	h.logger.Info().
		Str("subject", result.Seat.Subject).
		Str("account", result.Account.Email).
		Str("action", result.Action).
		Msg("member removed by admin")

	c.JSON(http.StatusOK, result)
}
