package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ornabmomin/poem-api/config"
	"github.com/ornabmomin/poem-api/models"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns per-IP token-bucket rate limiting middleware powered by
// golang.org/x/time/rate. Each client may burst cfg.Max requests and then
// refills at cfg.Max per cfg.Window.
//
// Entries unused for 1 hour are evicted by a background goroutine that runs
// every 5 minutes until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*limiterEntry)
	every := rate.Every(cfg.Window / time.Duration(cfg.Max))

	getLimiter := func(identity string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		entry, ok := limiters[identity]
		if !ok {
			entry = &limiterEntry{limiter: rate.NewLimiter(every, cfg.Max)}
			limiters[identity] = entry
		}
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	// Background cleanup goroutine: evict entries not seen in the last hour.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cutoff := time.Now().Add(-1 * time.Hour)
			mu.Lock()
			for id, entry := range limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(limiters, id)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		limiter := getLimiter(c.ClientIP())
		c.Header("RateLimit-Limit", strconv.Itoa(cfg.Max))
		c.Header("RateLimit-Remaining", strconv.Itoa(max(0, int(math.Floor(limiter.Tokens()))-1)))

		if !limiter.Allow() {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(cfg.Window.Seconds()/float64(cfg.Max)))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.NewErrorResponse(
				models.ErrCodeRateLimited,
				"Too many requests from this IP, please try again later.",
				http.StatusTooManyRequests,
				c.Request.URL.Path,
			))
			return
		}

		c.Next()
	}
}
