// Package http wires the gin router: request logging, recovery, CORS,
// bearer-token gating, and the metrics and vault/webhook route groups.
package http

import (
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/sirrvault/internal/errors"
	"github.com/allisson/sirrvault/internal/httputil"
)

// CustomLoggerMiddleware logs each request's method, path, status, duration,
// and request id once it completes.
func CustomLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", c.ClientIP()),
			slog.String("request_id", requestid.Get(c)),
		)
	}
}

// BearerAuthMiddleware rejects requests that do not present
// "Authorization: Bearer <apiKey>" with 401. If apiKey is empty, gating is
// disabled and every request passes through, matching the core spec's
// "unset API_KEY means no auth" default.
func BearerAuthMiddleware(apiKey string, logger *slog.Logger) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) { c.Next() }
	}

	expected := []byte("Bearer " + apiKey)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if len(got) != len(expected) || subtle.ConstantTimeCompare(got, expected) != 1 {
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}
		c.Next()
	}
}
