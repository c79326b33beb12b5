package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// AccountStore defines the interface for account persistence operations.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	CreateAccount(ctx context.Context, a *models.Account) error
	UpdateAccountCredentials(ctx context.Context, id uuid.UUID, groupID string, capacity int, sealedPassword []byte) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

// Sealer encrypts secrets before they are stored.
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// AccountsHandler handles account registration endpoints.
type AccountsHandler struct {
	store  AccountStore
	sealer Sealer
	logger zerolog.Logger
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(store AccountStore, sealer Sealer, logger zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		store:  store,
		sealer: sealer,
		logger: logger.With().Str("component", "accounts_handler").Logger(),
	}
}

// RegisterRoutes registers account routes on the given router group.
func (h *AccountsHandler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts")
	{
		accounts.GET("", h.List)
		accounts.POST("", h.Create)
		accounts.PUT("/:id", h.Update)
		accounts.DELETE("/:id", h.Delete)
	}
}

// List returns all accounts. Credentials are never serialized.
// GET /api/v1/accounts
func (h *AccountsHandler) List(c *gin.Context) {
	accounts, err := h.store.ListAccounts(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// Create registers an account and seals its password.
// POST /api/v1/accounts
func (h *AccountsHandler) Create(c *gin.Context) {
	var req models.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	sealed, err := h.sealer.Encrypt([]byte(req.Password))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to seal account password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	account := models.NewAccount(strings.TrimSpace(req.Email), strings.TrimSpace(req.GroupID), req.Capacity)
	account.PasswordEncrypted = sealed

	if err := h.store.CreateAccount(c.Request.Context(), account); err != nil {
		respondError(c, h.logger, err, "failed to create account")
		return
	}

	h.logger.Info().
		Str("account_id", account.ID.String()).
		Str("email", account.Email).
		Int("capacity", account.Capacity).
		Msg("account created")

	c.JSON(http.StatusCreated, account)
}

// Update replaces an account's credentials, group and capacity. The stored
// remote session is dropped.
// PUT /api/v1/accounts/:id
func (h *AccountsHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account ID"})
		return
	}

	var req models.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	account, err := h.store.GetAccountByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get account")
		return
	}
	if !strings.EqualFold(account.Email, strings.TrimSpace(req.Email)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email cannot be changed"})
		return
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = account.Capacity
	}

	sealed, err := h.sealer.Encrypt([]byte(req.Password))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to seal account password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update account"})
		return
	}

	groupID := strings.TrimSpace(req.GroupID)
	if err := h.store.UpdateAccountCredentials(c.Request.Context(), id, groupID, capacity, sealed); err != nil {
		respondError(c, h.logger, err, "failed to update account")
		return
	}

	account.GroupID = groupID
	account.Capacity = capacity
	account.SessionEncrypted = nil
	c.JSON(http.StatusOK, account)
}

// Delete removes an account and its seat records. Accounts with occupied
// seats are only deleted with force=true.
// DELETE /api/v1/accounts/:id
func (h *AccountsHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account ID"})
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	account, err := h.store.GetAccountByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get account")
		return
	}
	if account.CachedOccupancy > 0 && !force {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "account still has occupied seats",
			"occupancy": account.CachedOccupancy,
		})
		return
	}

	if err := h.store.DeleteAccount(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err, "failed to delete account")
		return
	}

	h.logger.Info().
		Str("account_id", id.String()).
		Str("email", account.Email).
		Int("occupancy", account.CachedOccupancy).
		Msg("account deleted")

	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}
