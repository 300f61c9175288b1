package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Cache     CacheConfig
	Scraper   ScraperConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 3000
	Mode string // "debug", "release", "test"; default: "release"

	// ShutdownTimeout bounds graceful shutdown, including draining the
	// session pool.
	ShutdownTimeout time.Duration // default: 30s
}

// BrowserConfig controls how rendering sessions are created.
type BrowserConfig struct {
	// Engine selects the session factory: "rod" or "static".
	Engine string // default: "rod"

	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	Proxy string

	Stealth bool // default: true

	UserAgent string

	// Viewport of every page opened for a run.
	ViewportWidth  int // default: 1920
	ViewportHeight int // default: 1080

	// BlockedResources lists resource types to block.
	// default: ["Image", "Stylesheet", "Font"]
	BlockedResources []string

	BlockTrackers bool // default: true
}

// PoolConfig sizes the session pool.
type PoolConfig struct {
	Min             int           // default: 1
	Max             int           // default: 3
	IdleTimeout     time.Duration // default: 30s
	AcquireTimeout  time.Duration // default: 30s
	ReclaimInterval time.Duration // default: 60s
}

// CacheConfig controls the episode cache.
type CacheConfig struct {
	Enabled         bool          // default: true
	TTL             time.Duration // default: 5m
	CleanupInterval time.Duration // default: 5m
}

// ScraperConfig controls the scrape targets.
type ScraperConfig struct {
	// NavigationTimeout applies to targets that do not set their own.
	NavigationTimeout time.Duration // default: 10s

	// TargetsFile optionally replaces the built-in targets.
	TargetsFile string

	Targets []Target
}

// RateLimitConfig controls per-client rate limiting on /api.
type RateLimitConfig struct {
	// Window and Max together set the sustained rate (Max per Window);
	// Max is also the burst size.
	Window time.Duration // default: 1m
	Max    int           // default: 10
}

// AuthConfig protects administrative endpoints.
type AuthConfig struct {
	// AdminKeys guard POST /api/cache/clear. Empty leaves it open.
	AdminKeys []string
}

// WebhookConfig controls refresh notifications.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json", "text" or "" to pick by terminal
}

// Load reads configuration from environment variables with sane defaults.
// Targets come from TargetsFile when set, else the built-in defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            envOr("POEM_HOST", "0.0.0.0"),
			Port:            envIntOr("POEM_PORT", 3000),
			Mode:            envOr("POEM_MODE", "release"),
			ShutdownTimeout: envDurationOr("POEM_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Browser: BrowserConfig{
			Engine:         envOr("POEM_ENGINE", "rod"),
			Headless:       envBoolOr("POEM_HEADLESS", true),
			NoSandbox:      envBoolOr("POEM_NO_SANDBOX", true),
			BrowserBin:     os.Getenv("POEM_BROWSER_BIN"),
			Proxy:          os.Getenv("POEM_PROXY"),
			Stealth:        envBoolOr("POEM_STEALTH", true),
			UserAgent:      envOr("POEM_USER_AGENT", DefaultUserAgent),
			ViewportWidth:  envIntOr("POEM_VIEWPORT_WIDTH", 1920),
			ViewportHeight: envIntOr("POEM_VIEWPORT_HEIGHT", 1080),
			BlockedResources: envSliceOr("POEM_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font",
			}),
			BlockTrackers: envBoolOr("POEM_BLOCK_TRACKERS", true),
		},
		Pool: PoolConfig{
			Min:             envIntOr("POEM_POOL_MIN", 1),
			Max:             envIntOr("POEM_POOL_MAX", 3),
			IdleTimeout:     envDurationOr("POEM_POOL_IDLE_TIMEOUT", 30*time.Second),
			AcquireTimeout:  envDurationOr("POEM_POOL_ACQUIRE_TIMEOUT", 30*time.Second),
			ReclaimInterval: envDurationOr("POEM_POOL_RECLAIM_INTERVAL", 60*time.Second),
		},
		Cache: CacheConfig{
			Enabled:         envBoolOr("POEM_CACHE_ENABLED", true),
			TTL:             envDurationOr("POEM_CACHE_TTL", 5*time.Minute),
			CleanupInterval: envDurationOr("POEM_CACHE_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Scraper: ScraperConfig{
			NavigationTimeout: envDurationOr("POEM_NAV_TIMEOUT", 10*time.Second),
			TargetsFile:       os.Getenv("POEM_TARGETS_FILE"),
		},
		RateLimit: RateLimitConfig{
			Window: envDurationOr("POEM_RATE_WINDOW", time.Minute),
			Max:    envIntOr("POEM_RATE_MAX", 10),
		},
		Auth: AuthConfig{
			AdminKeys: envSliceOr("POEM_ADMIN_KEYS", nil),
		},
		Webhook: WebhookConfig{
			URL:     os.Getenv("POEM_WEBHOOK_URL"),
			Secret:  os.Getenv("POEM_WEBHOOK_SECRET"),
			Timeout: envDurationOr("POEM_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("POEM_LOG_LEVEL", "info"),
			Format: os.Getenv("POEM_LOG_FORMAT"),
		},
	}

	if cfg.Scraper.TargetsFile != "" {
		targets, err := LoadTargetsFile(cfg.Scraper.TargetsFile)
		if err != nil {
			return nil, err
		}
		cfg.Scraper.Targets = targets
	} else {
		cfg.Scraper.Targets = DefaultTargets()
	}
	cfg.Scraper.Targets = applyTargetDefaults(cfg.Scraper.Targets, cfg.Scraper.NavigationTimeout)

	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server mode %q must be debug, release or test", c.Server.Mode))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	switch c.Browser.Engine {
	case "rod", "static":
	default:
		errs = append(errs, fmt.Errorf("engine %q must be rod or static", c.Browser.Engine))
	}
	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		errs = append(errs, errors.New("viewport dimensions must be positive"))
	}

	if c.Pool.Max < 1 {
		errs = append(errs, fmt.Errorf("pool max %d must be at least 1", c.Pool.Max))
	}
	if c.Pool.Min < 0 {
		errs = append(errs, fmt.Errorf("pool min %d must not be negative", c.Pool.Min))
	}
	if c.Pool.Min > c.Pool.Max {
		errs = append(errs, fmt.Errorf("pool min %d exceeds max %d", c.Pool.Min, c.Pool.Max))
	}
	for name, d := range map[string]time.Duration{
		"pool idle timeout":      c.Pool.IdleTimeout,
		"pool acquire timeout":   c.Pool.AcquireTimeout,
		"pool reclaim interval":  c.Pool.ReclaimInterval,
		"cache ttl":              c.Cache.TTL,
		"cache cleanup interval": c.Cache.CleanupInterval,
		"rate limit window":      c.RateLimit.Window,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RateLimit.Max < 1 {
		errs = append(errs, errors.New("rate limit max must be at least 1"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level %q is not recognised", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format %q must be json or text", c.Log.Format))
	}

	if len(c.Scraper.Targets) == 0 {
		errs = append(errs, errors.New("at least one scrape target is required"))
	}
	seen := make(map[string]bool, len(c.Scraper.Targets))
	for _, t := range c.Scraper.Targets {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("duplicate target name %q", t.Name))
		}
		seen[t.Name] = true
		errs = append(errs, t.validate()...)
	}

	return errors.Join(errs...)
}

// validate checks a single target.
func (t Target) validate() []error {
	var errs []error
	label := t.Name
	if label == "" {
		label = t.URL
		errs = append(errs, errors.New("target name is required"))
	}
	if t.URL == "" {
		errs = append(errs, fmt.Errorf("target %s: url is required", label))
	} else if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
		errs = append(errs, fmt.Errorf("target %s: url must be http(s)", label))
	}
	if t.Selectors.Audio == "" {
		errs = append(errs, fmt.Errorf("target %s: audio selector is required", label))
	}
	for field, sel := range map[string]string{
		"title":       t.Selectors.Title,
		"description": t.Selectors.Description,
		"date":        t.Selectors.Date,
		"audio":       t.Selectors.Audio,
		"reveal":      t.Selectors.Reveal,
	} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			errs = append(errs, fmt.Errorf("target %s: %s selector: %w", label, field, err))
		}
	}
	if t.NavigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("target %s: navigation timeout must be positive", label))
	}
	if t.SettleDelay < 0 || t.RevealDelay < 0 || t.AudioWait < 0 {
		errs = append(errs, fmt.Errorf("target %s: delays must not be negative", label))
	}
	return errs
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
