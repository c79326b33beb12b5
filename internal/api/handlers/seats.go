package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// SeatQuerier looks up and amends seat records.
type SeatQuerier interface {
	SeatsBySubject(ctx context.Context, subject string) ([]seats.SeatView, error)
	ListManual(ctx context.Context) ([]*models.SeatRecord, error)
	ResolveManual(ctx context.Context, seatID uuid.UUID, days int, voucherCode string) (*models.SeatRecord, error)
}

// SeatsHandler handles seat record endpoints.
type SeatsHandler struct {
	seats  SeatQuerier
	logger zerolog.Logger
}

// NewSeatsHandler creates a new SeatsHandler.
func NewSeatsHandler(querier SeatQuerier, logger zerolog.Logger) *SeatsHandler {
	return &SeatsHandler{
		seats:  querier,
		logger: logger.With().Str("component", "seats_handler").Logger(),
	}
}

// RegisterRoutes registers seat routes on the given router group.
func (h *SeatsHandler) RegisterRoutes(r *gin.RouterGroup) {
	s := r.Group("/seats")
	{
		s.GET("", h.BySubject)
		s.GET("/manual", h.Manual)
		s.PUT("/:id/expiry", h.SetExpiry)
	}
}

// BySubject returns every record of a subject with its derived status.
// GET /api/v1/seats?subject=
func (h *SeatsHandler) BySubject(c *gin.Context) {
	subject := strings.TrimSpace(c.Query("subject"))
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}

	views, err := h.seats.SeatsBySubject(c.Request.Context(), subject)
	if err != nil {
		respondError(c, h.logger, err, "failed to list seats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"seats": views})
}

// Manual returns records without an expiry that still hold a seat.
// GET /api/v1/seats/manual
func (h *SeatsHandler) Manual(c *gin.Context) {
	records, err := h.seats.ListManual(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to list manual seats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"seats": records})
}

// SetExpiry gives a manual record an expiry.
// PUT /api/v1/seats/:id/expiry
func (h *SeatsHandler) SetExpiry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seat ID"})
		return
	}

	var req models.SetExpiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	rec, err := h.seats.ResolveManual(c.Request.Context(), id, req.Days, req.VoucherCode)
	if err != nil {
		respondError(c, h.logger, err, "failed to set expiry")
		return
	}

	h.logger.Info().
		Str("seat_id", rec.ID.String()).
		Str("subject", rec.Subject).
		Int("days", req.Days).
		Msg("manual seat given an expiry")

	c.JSON(http.StatusOK, rec)
}
