package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testAdminKey = "sb_0123456789abcdef0123456789abcdef"

func adminRouter(t *testing.T, hash string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminAuth(hash, zerolog.Nop()))
	r.GET("/admin", func(c *gin.Context) {
		if !IsAdmin(c) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "admin flag not set"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func testKeyHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	return string(hash)
}

func TestAdminAuth(t *testing.T) {
	hash := testKeyHash(t)

	tests := []struct {
		name   string
		hash   string
		header string
		want   int
	}{
		{"valid key", hash, "Bearer " + testAdminKey, http.StatusOK},
		{"lowercase scheme", hash, "bearer " + testAdminKey, http.StatusOK},
		{"wrong key", hash, "Bearer sb_nope", http.StatusUnauthorized},
		{"missing header", hash, "", http.StatusUnauthorized},
		{"basic scheme", hash, "Basic " + testAdminKey, http.StatusUnauthorized},
		{"empty bearer", hash, "Bearer ", http.StatusUnauthorized},
		{"not configured", "", "Bearer " + testAdminKey, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := adminRouter(t, tt.hash)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"BEARER abc", "abc"},
		{"Token abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractBearerToken(tt.header); got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
