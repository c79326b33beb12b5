package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// VersionInfo describes the running build. Anonymous callers only see
// Version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
}

// VersionHandler handles version-related HTTP endpoints.
type VersionHandler struct {
	info    VersionInfo
	started time.Time
	logger  zerolog.Logger
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(version, commit, buildDate string, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		info: VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
			GoVersion: runtime.Version(),
		},
		started: time.Now(),
		logger:  logger.With().Str("component", "version_handler").Logger(),
	}
}

// RegisterRoutes registers the detailed version route on an admin group.
func (h *VersionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/version", h.Get)
}

// RegisterPublicRoutes registers the version route that doesn't require authentication.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/version", h.Public)
}

// Public returns the version string only.
// GET /version
func (h *VersionHandler) Public(c *gin.Context) {
	c.JSON(http.StatusOK, VersionInfo{Version: h.info.Version})
}

// Get returns the full build information and uptime.
// GET /api/v1/version
func (h *VersionHandler) Get(c *gin.Context) {
	info := h.info
	info.Uptime = time.Since(h.started).Truncate(time.Second).String()
	c.JSON(http.StatusOK, info)
}
