package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ornabmomin/poem-api/api"
	"github.com/ornabmomin/poem-api/config"
	"github.com/ornabmomin/poem-api/metrics"
	"github.com/ornabmomin/poem-api/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeEpisodes struct {
	episodes []models.Episode
	err      error
	cleared  atomic.Int32
}

func (f *fakeEpisodes) GetEpisodes(context.Context) ([]models.Episode, error) {
	return f.episodes, f.err
}

func (f *fakeEpisodes) ClearCache() { f.cleared.Add(1) }

type fakePool struct{ stats models.PoolStats }

func (f fakePool) Stats() models.PoolStats { return f.stats }

type fakeCache struct{ stats models.CacheStats }

func (f fakeCache) Stats() models.CacheStats { return f.stats }

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		RateLimit: config.RateLimitConfig{Window: time.Minute, Max: 100},
	}
}

type routerFixture struct {
	router   *gin.Engine
	episodes *fakeEpisodes
	metrics  *metrics.Collector
}

func newFixture(t *testing.T, cfg *config.Config, pool models.PoolStats) *routerFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &routerFixture{
		episodes: &fakeEpisodes{},
		metrics:  metrics.New("", discard),
	}
	f.router = api.NewRouter(ctx, api.Deps{
		Episodes:  f.episodes,
		Pool:      fakePool{stats: pool},
		Cache:     fakeCache{stats: models.CacheStats{Total: 1, Valid: 1, Enabled: true}},
		Metrics:   f.metrics,
		Config:    cfg,
		StartTime: time.Now().Add(-time.Minute),
		Version:   "test",
		Logger:    discard,
	})
	return f
}

func (f *routerFixture) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *models.ErrorDetail {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestRouter_Episodes(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})
	f.episodes.episodes = []models.Episode{
		{Type: "Poem of the Day", Title: models.StringPtr("Ode"), AudioSrc: "https://cdn.test/ode.mp3"},
		{Type: "Audio Poem of the Day", AudioSrc: "https://cdn.test/owl.mp3", NullDate: true},
	}

	rec := f.do(http.MethodGet, "/api/poetry-episode", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Poem of the Day", got[0]["type"])
	assert.Equal(t, "https://cdn.test/ode.mp3", got[0]["audioSrc"])
	assert.Nil(t, got[0]["description"], "missing optional fields serialise as null")
	assert.NotContains(t, got[0], "date")
	assert.Contains(t, got[1], "date", "a failed date read is sent as null")
	assert.Nil(t, got[1]["date"])
}

func TestRouter_EpisodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no content", models.NewScrapeError(models.ErrCodeNoContent, "no audio poems found from any source", nil), 404, models.ErrCodeNoContent},
		{"pool exhausted", models.NewScrapeError(models.ErrCodePoolExhausted, "timed out", nil), 503, models.ErrCodePoolExhausted},
		{"session creation", models.NewScrapeError(models.ErrCodeSessionCreation, "launch failed", nil), 503, models.ErrCodeSessionCreation},
		{"shutting down", models.NewScrapeError(models.ErrCodeShuttingDown, "server is shutting down", nil), 503, models.ErrCodeShuttingDown},
		{"timeout", models.NewScrapeError(models.ErrCodeTimeout, "canceled", nil), 504, models.ErrCodeTimeout},
		{"untyped", io.ErrUnexpectedEOF, 500, models.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})
			f.episodes.err = tt.err

			rec := f.do(http.MethodGet, "/api/poetry-episode", nil)
			assert.Equal(t, tt.status, rec.Code)

			detail := decodeError(t, rec)
			assert.Equal(t, tt.code, detail.Code)
			assert.Equal(t, tt.status, detail.StatusCode)
			assert.Equal(t, "/api/poetry-episode", detail.Path)
			assert.NotEmpty(t, detail.Timestamp)
		})
	}
}

func TestRouter_EmptyEpisodesIsNotFound(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})

	rec := f.do(http.MethodGet, "/api/poetry-episode", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No audio poems found", decodeError(t, rec).Message)
}

func TestRouter_CacheClear(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})

	rec := f.do(http.MethodPost, "/api/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.CacheClearResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Poetry cache cleared successfully", body.Message)
	assert.Equal(t, int32(1), f.episodes.cleared.Load())
}

func TestRouter_CacheClearRequiresAdminKey(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AdminKeys = []string{"s3cret"}
	f := newFixture(t, cfg, models.PoolStats{MaxCapacity: 3})

	rec := f.do(http.MethodPost, "/api/cache/clear", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decodeError(t, rec).Code)

	rec = f.do(http.MethodPost, "/api/cache/clear", http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/cache/clear", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), f.episodes.cleared.Load())

	// Stats stay open.
	rec = f.do(http.MethodGet, "/api/cache/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Stats(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{Total: 2, Available: 1, InUse: 1, MaxCapacity: 3})

	rec := f.do(http.MethodGet, "/api/pool/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":2,"available":1,"inUse":1,"maxCapacity":3,"waiting":0}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":1,"valid":1,"expired":0,"enabled":true}`, rec.Body.String())
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name   string
		pool   models.PoolStats
		status string
	}{
		{"idle", models.PoolStats{Total: 1, Available: 1, MaxCapacity: 3}, "ok"},
		{"below threshold", models.PoolStats{Total: 2, InUse: 2, MaxCapacity: 3}, "ok"},
		{"saturated", models.PoolStats{Total: 3, InUse: 3, MaxCapacity: 3}, "degraded"},
		{"at threshold", models.PoolStats{Total: 4, InUse: 4, MaxCapacity: 5}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), tt.pool)

			rec := f.do(http.MethodGet, "/health", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var body models.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.pool, body.BrowserPool)
			assert.Equal(t, gin.TestMode, body.Environment)
			assert.Equal(t, "test", body.Version)
			assert.NotEmpty(t, body.Uptime)
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})

	rec := f.do(http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	detail := decodeError(t, rec)
	assert.Equal(t, models.ErrCodeNotFound, detail.Code)
	assert.Equal(t, "Route GET /api/nope not found", detail.Message)
}

func TestRouter_RateLimitAppliesToAPIOnly(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Window: time.Hour, Max: 2}
	f := newFixture(t, cfg, models.PoolStats{MaxCapacity: 3})

	for range 2 {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/pool/stats", nil).Code)
	}
	rec := f.do(http.MethodGet, "/api/pool/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, models.ErrCodeRateLimited, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
}

func TestRouter_CommonHeaders(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})

	rec := f.do(http.MethodGet, "/health", http.Header{"X-Request-Id": {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36, "generated ids are UUIDs")
}

func TestRouter_Preflight(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})

	rec := f.do(http.MethodOptions, "/api/poetry-episode", http.Header{
		"Origin":                         {"https://example.test"},
		"Access-Control-Request-Method":  {"GET"},
		"Access-Control-Request-Headers": {"X-API-Key"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "X-API-Key", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t, testConfig(), models.PoolStats{MaxCapacity: 3})
	f.do(http.MethodGet, "/api/pool/stats", nil)

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `poem_api_http_requests_total{method="GET",route="/api/pool/stats",status="200"} 1`)
}
