package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/models"
)

// Health returns a handler for GET /health.
//
// Reports pool utilisation and degrades status when at least 80% of the
// pool's capacity is lent out.
func Health(pool PoolStatsSource, startTime time.Time, environment, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := pool.Stats()

		status := "ok"
		if stats.MaxCapacity > 0 && float64(stats.InUse) >= float64(stats.MaxCapacity)*0.8 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Timestamp:   time.Now().UTC().Format(models.TimestampFormat),
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			BrowserPool: stats,
			Environment: environment,
			Version:     version,
		})
	}
}
