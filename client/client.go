// Package client calls a running poem-api server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ornabmomin/poem-api/models"
)

// DefaultURL is where a locally started server listens.
const DefaultURL = "http://127.0.0.1:3000"

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail models.ErrorDetail
}

func (e *APIError) Error() string {
	if e.Detail.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Detail.Code, e.Detail.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client. apiKey is only sent to admin endpoints and may be
// empty. A nil httpClient gets a 2 minute timeout, enough for a cold
// scrape.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// Episodes fetches GET /api/poetry-episode.
func (c *Client) Episodes(ctx context.Context) ([]models.Episode, error) {
	var out []models.Episode
	return out, c.do(ctx, http.MethodGet, "/api/poetry-episode", false, &out)
}

// ClearCache calls POST /api/cache/clear.
func (c *Client) ClearCache(ctx context.Context) (*models.CacheClearResponse, error) {
	var out models.CacheClearResponse
	if err := c.do(ctx, http.MethodPost, "/api/cache/clear", true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PoolStats fetches GET /api/pool/stats.
func (c *Client) PoolStats(ctx context.Context) (*models.PoolStats, error) {
	var out models.PoolStats
	if err := c.do(ctx, http.MethodGet, "/api/pool/stats", false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CacheStats fetches GET /api/cache/stats.
func (c *Client) CacheStats(ctx context.Context) (*models.CacheStats, error) {
	var out models.CacheStats
	if err := c.do(ctx, http.MethodGet, "/api/cache/stats", false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, admin bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if admin && c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody models.ErrorResponse
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != nil {
			apiErr.Detail = *errBody.Error
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
