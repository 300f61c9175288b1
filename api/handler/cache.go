package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/models"
)

// CacheStatsSource reports episode cache occupancy.
type CacheStatsSource interface {
	Stats() models.CacheStats
}

// ClearCache returns a handler for POST /api/cache/clear.
func ClearCache(svc EpisodeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc.ClearCache()
		c.JSON(http.StatusOK, models.CacheClearResponse{
			Success: true,
			Message: "Poetry cache cleared successfully",
		})
	}
}

// CacheStats returns a handler for GET /api/cache/stats.
func CacheStats(src CacheStatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Stats())
	}
}
