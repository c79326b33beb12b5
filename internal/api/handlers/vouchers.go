package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/vouchers"
)

// VoucherStore defines the interface for voucher listing and deletion.
type VoucherStore interface {
	ListVouchers(ctx context.Context, consumed *bool, limit int) ([]*models.Voucher, error)
	DeleteVoucher(ctx context.Context, code string) error
}

// VoucherIssuer creates vouchers.
type VoucherIssuer interface {
	Generate(ctx context.Context, days, count int, f vouchers.Format) ([]*models.Voucher, error)
	Import(ctx context.Context, codes []string, days int) ([]*models.Voucher, error)
}

const (
	defaultVoucherListLimit = 100
	maxVoucherListLimit     = 1000
)

// VouchersHandler handles voucher administration endpoints.
type VouchersHandler struct {
	store  VoucherStore
	issuer VoucherIssuer
	logger zerolog.Logger
}

// NewVouchersHandler creates a new VouchersHandler.
func NewVouchersHandler(store VoucherStore, issuer VoucherIssuer, logger zerolog.Logger) *VouchersHandler {
	return &VouchersHandler{
		store:  store,
		issuer: issuer,
		logger: logger.With().Str("component", "vouchers_handler").Logger(),
	}
}

// RegisterRoutes registers voucher routes on the given router group.
func (h *VouchersHandler) RegisterRoutes(r *gin.RouterGroup) {
	v := r.Group("/vouchers")
	{
		v.GET("", h.List)
		v.POST("", h.Create)
		v.DELETE("/:code", h.Delete)
	}
}

// List returns vouchers, newest first.
// GET /api/v1/vouchers?consumed=false&limit=100
func (h *VouchersHandler) List(c *gin.Context) {
	var consumed *bool
	if raw := c.Query("consumed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "consumed must be a boolean"})
			return
		}
		consumed = &v
	}

	limit := defaultVoucherListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxVoucherListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxVoucherListLimit)})
			return
		}
		limit = n
	}

	list, err := h.store.ListVouchers(c.Request.Context(), consumed, limit)
	if err != nil {
		respondError(c, h.logger, err, "failed to list vouchers")
		return
	}
	if list == nil {
		list = []*models.Voucher{}
	}
	c.JSON(http.StatusOK, models.VouchersResponse{Vouchers: list})
}

// Create imports the given codes or generates count new ones.
// POST /api/v1/vouchers
func (h *VouchersHandler) Create(c *gin.Context) {
	var req models.CreateVouchersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if (len(req.Codes) == 0) == (req.Count == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of codes or count is required"})
		return
	}

	days := req.ValidityDays
	if days <= 0 {
		days = models.DefaultValidityDays
	}

	var (
		created []*models.Voucher
		err     error
	)
	if req.Count > 0 {
		format := vouchers.FormatFor(days)
		if verr := format.Validate(req.Count); verr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		created, err = h.issuer.Generate(c.Request.Context(), days, req.Count, format)
	} else {
		created, err = h.issuer.Import(c.Request.Context(), req.Codes, days)
	}
	if err != nil && len(created) == 0 {
		respondError(c, h.logger, err, "failed to create vouchers")
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Int("created", len(created)).Msg("voucher batch partially created")
	}
	if created == nil {
		created = []*models.Voucher{}
	}

	c.JSON(http.StatusCreated, models.VouchersResponse{Vouchers: created})
}

// Delete removes an unused voucher.
// DELETE /api/v1/vouchers/:code
func (h *VouchersHandler) Delete(c *gin.Context) {
	code := c.Param("code")
	if err := h.store.DeleteVoucher(c.Request.Context(), code); err != nil {
		respondError(c, h.logger, err, "failed to delete voucher")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "voucher deleted"})
}
