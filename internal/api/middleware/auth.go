// Package middleware provides HTTP middleware for the seatbroker API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// AdminContextKey is set on requests that passed AdminAuth.
const AdminContextKey ContextKey = "admin"

// ExtractBearerToken returns the token of an "Authorization: Bearer" header,
// or "" when the header has another scheme.
func ExtractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AdminAuth returns a middleware that requires a bearer key matching the
// bcrypt hash. With an empty hash every admin request is refused.
func AdminAuth(keyHash string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_auth").Logger()
	hash := []byte(keyHash)

	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin access is not configured"})
			return
		}

		token := ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			log.Warn().
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Msg("rejected admin key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(string(AdminContextKey), true)
		c.Next()
	}
}

// IsAdmin reports whether the request was authenticated by AdminAuth.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(string(AdminContextKey))
}
