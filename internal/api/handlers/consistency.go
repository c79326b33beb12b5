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

// Auditor inspects and repairs stored occupancy.
type Auditor interface {
	ValidateConsistency(ctx context.Context) ([]seats.Finding, error)
	Report(ctx context.Context) ([]seats.AccountSummary, error)
	FixCounts(ctx context.Context, dryRun bool) (*seats.FixReport, error)
}

// FindingsResponse is the response for the validate endpoint.
type FindingsResponse struct {
	Findings []seats.Finding           `json:"findings"`
	Counts   map[seats.FindingType]int `json:"counts"`
}

// ConsistencyHandler handles consistency audit endpoints.
type ConsistencyHandler struct {
	auditor Auditor
	logger  zerolog.Logger
}

// NewConsistencyHandler creates a new ConsistencyHandler.
func NewConsistencyHandler(auditor Auditor, logger zerolog.Logger) *ConsistencyHandler {
	return &ConsistencyHandler{
		auditor: auditor,
		logger:  logger.With().Str("component", "consistency_handler").Logger(),
	}
}

// RegisterRoutes registers consistency routes on the given router group.
func (h *ConsistencyHandler) RegisterRoutes(r *gin.RouterGroup) {
	cg := r.Group("/consistency")
	{
		cg.GET("/validate", h.Validate)
		cg.GET("/report", h.Report)
		cg.POST("/fix-counts", h.FixCounts)
	}
}

// Validate lists detected inconsistencies without changing anything.
// GET /api/v1/consistency/validate
func (h *ConsistencyHandler) Validate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	findings, err := h.auditor.ValidateConsistency(ctx)
	if err != nil {
		respondError(c, h.logger, err, "failed to validate consistency")
		return
	}

	counts := make(map[seats.FindingType]int)
	for _, f := range findings {
		counts[f.Type]++
	}
	if findings == nil {
		findings = []seats.Finding{}
	}
	c.JSON(http.StatusOK, FindingsResponse{Findings: findings, Counts: counts})
}

// Report returns per-account occupancy summaries.
// GET /api/v1/consistency/report
func (h *ConsistencyHandler) Report(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	summaries, err := h.auditor.Report(ctx)
	if err != nil {
		respondError(c, h.logger, err, "failed to build report")
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": summaries})
}

// FixCounts rewrites cached occupancy from the records. It is a dry run
// unless dry_run=false is passed.
// POST /api/v1/consistency/fix-counts?dry_run=false
func (h *ConsistencyHandler) FixCounts(c *gin.Context) {
	dryRun := true
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
			return
		}
		dryRun = v
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), time.Minute)
	defer cancel()

	report, err := h.auditor.FixCounts(ctx, dryRun)
	if err != nil {
		respondError(c, h.logger, err, "failed to fix counts")
		return
	}

	if !dryRun && report.AccountsFixed > 0 {
		h.logger.Info().Int("accounts_fixed", report.AccountsFixed).Msg("occupancy counts corrected")
	}
	c.JSON(http.StatusOK, report)
}
