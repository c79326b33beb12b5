package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// sensitiveParams lists query and route parameter names whose values must be
// redacted from logs. Voucher codes are bearer credentials until consumed.
var sensitiveParams = map[string]bool{
	"token":    true,
	"key":      true,
	"secret":   true,
	"password": true,
	"code":     true,
	"voucher":  true,
	"email":    true,
	"subject":  true,
}

const redacted = "[REDACTED]"

// redactQueryString replaces values of known sensitive query parameters.
func redactQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	changed := false
	for name, values := range params {
		if !sensitiveParams[strings.ToLower(name)] {
			continue
		}
		for i := range values {
			values[i] = redacted
		}
		changed = true
	}
	if !changed {
		return rawQuery
	}
	return params.Encode()
}

// redactPath masks path segments bound to sensitive route parameters, so
// DELETE /vouchers/AB12C is logged as /vouchers/[REDACTED].
func redactPath(path string, params gin.Params) string {
	var hide []string
	for _, p := range params {
		if sensitiveParams[strings.ToLower(p.Key)] && p.Value != "" {
			hide = append(hide, p.Value)
		}
	}
	if len(hide) == 0 {
		return path
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		for _, v := range hide {
			if seg == v {
				segments[i] = redacted
			}
		}
	}
	return strings.Join(segments, "/")
}

// RequestLogger returns a middleware that logs one line per request. Paths
// are logged after routing so route parameters can be masked, and the
// matched route template is included for grouping.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		query := redactQueryString(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", redactPath(c.Request.URL.Path, c.Params)).
			Str("query", query).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size())
		if id := c.Param("id"); id != "" {
			event = event.Str("resource_id", id)
		}
		if IsAdmin(c) {
			event = event.Bool("admin", true)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("request")
	}
}
