package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/models"
)

// EpisodeService produces the episode set and owns its cache entry.
type EpisodeService interface {
	GetEpisodes(ctx context.Context) ([]models.Episode, error)
	ClearCache()
}

// Episodes returns a handler for GET /api/poetry-episode.
func Episodes(svc EpisodeService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		episodes, err := svc.GetEpisodes(c.Request.Context())
		if err != nil {
			respondError(c, logger, err)
			return
		}
		if len(episodes) == 0 {
			respondError(c, logger, models.NewScrapeError(models.ErrCodeNoContent, "No audio poems found", nil))
			return
		}
		c.JSON(http.StatusOK, episodes)
	}
}
