package models

// PoolStats is a point-in-time snapshot of the session pool.
type PoolStats struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	InUse       int `json:"inUse"`
	MaxCapacity int `json:"maxCapacity"`

	// Waiting is the number of callers blocked in Acquire.
	Waiting int `json:"waiting"`
}

// CacheStats is computed by scanning the cache at call time.
type CacheStats struct {
	Total   int  `json:"total"`
	Valid   int  `json:"valid"`
	Expired int  `json:"expired"`
	Enabled bool `json:"enabled"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string    `json:"status"` // "ok" or "degraded"
	Timestamp   string    `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	BrowserPool PoolStats `json:"browserPool"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
}

// CacheClearResponse is the response for POST /api/cache/clear.
type CacheClearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
