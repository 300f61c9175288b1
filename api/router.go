package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/api/handler"
	"github.com/ornabmomin/poem-api/api/middleware"
	"github.com/ornabmomin/poem-api/config"
)

// Metrics is what the router needs from a metrics collector.
type Metrics interface {
	middleware.RequestObserver
	Handler() http.Handler
}

// Deps are the collaborators served by the router.
type Deps struct {
	Episodes handler.EpisodeService
	Pool     handler.PoolStatsSource
	Cache    handler.CacheStatsSource

	// Metrics is optional; /metrics is only mounted when set.
	Metrics Metrics

	Config    *config.Config
	StartTime time.Time
	Version   string
	Logger    *slog.Logger
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// Background work started by middleware stops when ctx is done.
//
// Middleware chain:
//
//	Global:  Recovery → RequestID → RequestLog → SecurityHeaders → CORS
//	/api:    RateLimit
//	clear:   Auth (if admin keys are configured)
//
// Health and metrics stay outside the rate limit so health checks always work.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	gin.SetMode(d.Config.Server.Mode)
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(handler.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLog(logger, d.Metrics))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.NoRoute(handler.NotFound())

	r.GET("/health", handler.Health(d.Pool, d.StartTime, d.Config.Server.Mode, d.Version))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.RateLimit(ctx, d.Config.RateLimit))

	api.GET("/poetry-episode", handler.Episodes(d.Episodes, logger))
	api.POST("/cache/clear", middleware.Auth(d.Config.Auth.AdminKeys), handler.ClearCache(d.Episodes))
	api.GET("/cache/stats", handler.CacheStats(d.Cache))
	api.GET("/pool/stats", handler.PoolStats(d.Pool))

	return r
}
