package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/models"
)

// PoolStatsSource reports session pool occupancy.
type PoolStatsSource interface {
	Stats() models.PoolStats
}

// PoolStats returns a handler for GET /api/pool/stats.
func PoolStats(src PoolStatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Stats())
	}
}
