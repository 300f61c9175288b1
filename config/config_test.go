package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "rod", cfg.Browser.Engine)
	assert.Equal(t, 1, cfg.Pool.Min)
	assert.Equal(t, 3, cfg.Pool.Max)
	assert.Equal(t, 30*time.Second, cfg.Pool.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, time.Minute, cfg.Pool.ReclaimInterval)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.Max)
	assert.Equal(t, DefaultUserAgent, cfg.Browser.UserAgent)

	require.Len(t, cfg.Scraper.Targets, 2)
	assert.Equal(t, "Poem of the Day", cfg.Scraper.Targets[0].Type)
	assert.Equal(t, "Audio Poem of the Day", cfg.Scraper.Targets[1].Type)
	for _, target := range cfg.Scraper.Targets {
		assert.Equal(t, 10*time.Second, target.NavigationTimeout, target.Name)
	}

	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POEM_PORT", "8081")
	t.Setenv("POEM_ENGINE", "static")
	t.Setenv("POEM_POOL_MAX", "5")
	t.Setenv("POEM_POOL_IDLE_TIMEOUT", "45s")
	t.Setenv("POEM_CACHE_ENABLED", "false")
	t.Setenv("POEM_ADMIN_KEYS", " a , b ,,")
	t.Setenv("POEM_NAV_TIMEOUT", "3s")
	t.Setenv("POEM_RATE_MAX", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "static", cfg.Browser.Engine)
	assert.Equal(t, 5, cfg.Pool.Max)
	assert.Equal(t, 45*time.Second, cfg.Pool.IdleTimeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"a", "b"}, cfg.Auth.AdminKeys)
	assert.Equal(t, 10, cfg.RateLimit.Max, "unparsable values fall back to the default")
	assert.Equal(t, 3*time.Second, cfg.Scraper.Targets[0].NavigationTimeout)
}

func TestLoad_TargetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - name: example
    type: Example Poem
    url: https://example.com/poem
    selectors:
      title: h1
      audio: audio.player
      reveal: button.listen
    settleDelay: 500ms
    audioWait: 2s
`), 0o600))
	t.Setenv("POEM_TARGETS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Scraper.Targets, 1)

	target := cfg.Scraper.Targets[0]
	assert.Equal(t, "example", target.Name)
	assert.Equal(t, "Example Poem", target.Type)
	assert.Equal(t, "audio.player", target.Selectors.Audio)
	assert.Equal(t, 500*time.Millisecond, target.SettleDelay)
	assert.Equal(t, 2*time.Second, target.AudioWait)
	assert.Equal(t, 10*time.Second, target.NavigationTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestParseTargets_RejectsUnknownFields(t *testing.T) {
	_, err := ParseTargets([]byte(`
targets:
  - name: x
    url: https://example.com
    selectors:
      audoi: audio
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target field")
}

func TestLoad_MissingTargetsFile(t *testing.T) {
	t.Setenv("POEM_TARGETS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "min above max",
			mutate:  func(c *Config) { c.Pool.Min = 4 },
			wantErr: "pool min 4 exceeds max 3",
		},
		{
			name:    "zero max",
			mutate:  func(c *Config) { c.Pool.Max = 0; c.Pool.Min = 0 },
			wantErr: "pool max 0 must be at least 1",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.Pool.AcquireTimeout = 0 },
			wantErr: "pool acquire timeout must be positive",
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Browser.Engine = "webkit" },
			wantErr: `engine "webkit"`,
		},
		{
			name:    "bad selector",
			mutate:  func(c *Config) { c.Scraper.Targets[0].Selectors.Title = "div[" },
			wantErr: "target potd: title selector",
		},
		{
			name:    "missing audio selector",
			mutate:  func(c *Config) { c.Scraper.Targets[1].Selectors.Audio = "" },
			wantErr: "target audio-potd: audio selector is required",
		},
		{
			name:    "duplicate target",
			mutate:  func(c *Config) { c.Scraper.Targets[1].Name = "potd" },
			wantErr: `duplicate target name "potd"`,
		},
		{
			name:    "no targets",
			mutate:  func(c *Config) { c.Scraper.Targets = nil },
			wantErr: "at least one scrape target is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
