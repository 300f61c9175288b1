package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ornabmomin/poem-api/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		models.ErrCodeNoContent:       http.StatusNotFound,
		models.ErrCodeNotFound:        http.StatusNotFound,
		models.ErrCodePoolExhausted:   http.StatusServiceUnavailable,
		models.ErrCodeSessionCreation: http.StatusServiceUnavailable,
		models.ErrCodeShuttingDown:    http.StatusServiceUnavailable,
		models.ErrCodePoolClosed:      http.StatusServiceUnavailable,
		models.ErrCodeTimeout:         http.StatusGatewayTimeout,
		models.ErrCodeRateLimited:     http.StatusTooManyRequests,
		models.ErrCodeUnauthorized:    http.StatusUnauthorized,
		models.ErrCodeExtraction:      http.StatusInternalServerError,
		models.ErrCodeDisconnected:    http.StatusInternalServerError,
		models.ErrCodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), code)
	}
}

func respond(t *testing.T, mode string, err error) (int, *models.ErrorDetail) {
	t.Helper()
	prev := gin.Mode()
	gin.SetMode(mode)
	t.Cleanup(func() { gin.SetMode(prev) })

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/poetry-episode", nil)
	respondError(c, discard, err)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Error
}

func TestRespondError_UsesScrapeErrorMessage(t *testing.T) {
	err := models.NewScrapeError(models.ErrCodeNoContent, "no audio poems found from any source", errors.New("reveal missing"))
	status, detail := respond(t, gin.ReleaseMode, err)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no audio poems found from any source", detail.Message)
	assert.Equal(t, "/api/poetry-episode", detail.Path)
}

func TestRespondError_HidesInternalMessagesInRelease(t *testing.T) {
	err := errors.New("dial tcp 10.0.0.3:9222: connection refused")

	_, detail := respond(t, gin.ReleaseMode, err)
	assert.Equal(t, genericMessage, detail.Message)
	assert.Equal(t, models.ErrCodeInternal, detail.Code)

	_, detail = respond(t, gin.DebugMode, err)
	assert.Equal(t, err.Error(), detail.Message)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(discard))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), genericMessage)
}
