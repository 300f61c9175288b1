package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/models"
)

const genericMessage = "An unexpected error occurred"

// StatusFor translates error codes to HTTP status codes.
func StatusFor(code string) int {
	switch code {
	case models.ErrCodeNoContent, models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodePoolExhausted, models.ErrCodeSessionCreation,
		models.ErrCodeShuttingDown, models.ErrCodePoolClosed:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}

// respondError writes err as a structured JSON error. Messages of errors
// without a known code are hidden in release mode.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	code := models.CodeOf(err)
	status := StatusFor(code)

	message := err.Error()
	var se *models.ScrapeError
	if errors.As(err, &se) {
		message = se.Message
	}
	if code == models.ErrCodeInternal && gin.Mode() == gin.ReleaseMode {
		message = genericMessage
	}

	if status >= 500 {
		logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "code", code, "error", err)
	} else {
		logger.Warn("client error", "method", c.Request.Method, "path", c.Request.URL.Path, "code", code, "status", status)
	}

	c.JSON(status, models.NewErrorResponse(code, message, status, c.Request.URL.Path))
}

// NotFound handles unmatched routes.
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		msg := "Route " + c.Request.Method + " " + c.Request.URL.Path + " not found"
		c.JSON(http.StatusNotFound, models.NewErrorResponse(models.ErrCodeNotFound, msg, http.StatusNotFound, c.Request.URL.Path))
	}
}

// Recovery turns handler panics into a 500 error body.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error("panic serving request", "method", c.Request.Method, "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.NewErrorResponse(
			models.ErrCodeInternal, genericMessage, http.StatusInternalServerError, c.Request.URL.Path))
	})
}
