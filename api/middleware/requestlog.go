package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestObserver receives one call per served request.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, d time.Duration)
}

// RequestLog logs every finished request. Responses with status >= 400 are
// logged at warn level. obs may be nil.
func RequestLog(logger *slog.Logger, obs RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d := time.Since(start)
		status := c.Writer.Status()

		if obs != nil {
			obs.ObserveRequest(c.FullPath(), c.Request.Method, status, d)
		}

		level := slog.LevelInfo
		if status >= 400 {
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", d),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.String("request_id", GetRequestID(c)),
		)
	}
}
