package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/db"
	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// statusFor maps broker errors to HTTP status codes. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, seats.ErrVoucherInvalid), errors.Is(err, seats.ErrInvalidSubject):
		return http.StatusBadRequest
	case errors.Is(err, seats.ErrRecordNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, seats.ErrJobRunning),
		errors.Is(err, seats.ErrExpiryAlreadySet),
		errors.Is(err, models.ErrVoucherConsumed),
		errors.Is(err, seats.ErrNotRemovable),
		errors.Is(err, seats.ErrNotRevokable),
		errors.Is(err, seats.ErrRecordChanged),
		errors.Is(err, db.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, seats.ErrNoCapacity):
		return http.StatusServiceUnavailable
	case errors.Is(err, seats.ErrAllFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error. Internal errors are logged and
// replaced by fallback so storage details never reach the client.
func respondError(c *gin.Context, logger zerolog.Logger, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(fallback)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg(fallback)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
