package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// RosterSyncer reconciles local records with remote rosters.
type RosterSyncer interface {
	StartSyncAll(ctx context.Context) error
	SyncAccount(ctx context.Context, accountID uuid.UUID) (*seats.SyncResult, error)
	SyncProgress() seats.JobStatus
}

// SyncHandler handles member sync endpoints.
type SyncHandler struct {
	syncer RosterSyncer
	logger zerolog.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer RosterSyncer, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		syncer: syncer,
		logger: logger.With().Str("component", "sync_handler").Logger(),
	}
}

// RegisterRoutes registers sync routes on the given router group.
func (h *SyncHandler) RegisterRoutes(r *gin.RouterGroup) {
	s := r.Group("/sync")
	{
		s.POST("", h.StartAll)
		s.GET("/status", h.Status)
		s.POST("/accounts/:id", h.SyncAccount)
	}
}

// StartAll starts a background sync of every account.
// POST /api/v1/sync
func (h *SyncHandler) StartAll(c *gin.Context) {
	// The job outlives the request.
	if err := h.syncer.StartSyncAll(context.WithoutCancel(c.Request.Context())); err != nil {
		respondError(c, h.logger, err, "failed to start sync")
		return
	}
	c.JSON(http.StatusAccepted, h.syncer.SyncProgress())
}

// Status returns progress of the current or last full sync.
// GET /api/v1/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.syncer.SyncProgress())
}

// SyncAccount reconciles one account and returns the result.
// POST /api/v1/sync/accounts/:id
func (h *SyncHandler) SyncAccount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Minute)
	defer cancel()

	result, err := h.syncer.SyncAccount(ctx, id)
	if err != nil {
		respondError(c, h.logger, err, "failed to sync account")
		return
	}
	c.JSON(http.StatusOK, result)
}
