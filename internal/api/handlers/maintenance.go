package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// Sweeper ends expired seats in batches.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (seats.SweepStats, error)
	SweepProgress() seats.JobStatus
}

// maxSweepLimit bounds one request's batch.
const maxSweepLimit = 1000

// MaintenanceHandler handles expiry sweep endpoints.
type MaintenanceHandler struct {
	sweeper      Sweeper
	defaultLimit int
	logger       zerolog.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler. defaultLimit is
// used when a request does not name a batch size.
func NewMaintenanceHandler(sweeper Sweeper, defaultLimit int, logger zerolog.Logger) *MaintenanceHandler {
	if defaultLimit <= 0 {
		defaultLimit = seats.DefaultSweepLimit
	}
	return &MaintenanceHandler{
		sweeper:      sweeper,
		defaultLimit: defaultLimit,
		logger:       logger.With().Str("component", "maintenance_handler").Logger(),
	}
}

// RegisterRoutes registers maintenance routes on the given router group.
func (h *MaintenanceHandler) RegisterRoutes(r *gin.RouterGroup) {
	m := r.Group("/maintenance")
	{
		m.POST("/sweep", h.Sweep)
		m.GET("/sweep/status", h.Status)
	}
}

// Sweep runs one expiry sweep batch and returns its counters.
// POST /api/v1/maintenance/sweep?limit=N
func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSweepLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxSweepLimit)})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 10*time.Minute)
	defer cancel()

	stats, err := h.sweeper.SweepExpired(ctx, limit)
	if err != nil {
		respondError(c, h.logger, err, "failed to sweep expired seats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Status returns progress of the current or last sweep.
// GET /api/v1/maintenance/sweep/status
func (h *MaintenanceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sweeper.SweepProgress())
}
