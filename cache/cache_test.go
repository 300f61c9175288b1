package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, enabled bool) (*Cache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](Options{Enabled: enabled, DefaultTTL: time.Minute})
	c.now = clock.Now
	return c, clock
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, true)

	c.SetWithTTL("k", "v", 100*time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	clock.Advance(101 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must read as absent")
	assert.Equal(t, 0, c.Stats().Total, "expired read must remove the entry")
}

func TestCache_ExpiryBoundaryIsInclusive(t *testing.T) {
	c, clock := newTestCache(t, true)
	c.SetWithTTL("k", "v", 100*time.Millisecond)

	clock.Advance(100 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry is still valid exactly at its expiry instant")
}

func TestCache_Disabled(t *testing.T) {
	c, _ := newTestCache(t, false)

	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Has("k"))

	stats := c.Stats()
	assert.False(t, stats.Enabled)
	assert.Equal(t, 0, stats.Total)
}

func TestCache_SetOverwrites(t *testing.T) {
	c, clock := newTestCache(t, true)

	c.SetWithTTL("k", "old", 10*time.Millisecond)
	c.SetWithTTL("k", "new", time.Hour)
	clock.Advance(time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestCache_DefaultTTL(t *testing.T) {
	c, clock := newTestCache(t, true)
	c.Set("k", "v")

	clock.Advance(59 * time.Second)
	assert.True(t, c.Has("k"))

	clock.Advance(2 * time.Second)
	assert.False(t, c.Has("k"))
}

func TestCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, true)
	c.Set("a", "1")
	c.Set("b", "2")

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"), "second delete reports absence")
	assert.False(t, c.Has("a"))

	assert.Equal(t, 1, c.Clear())
	assert.Equal(t, 0, c.Stats().Total)
}

func TestCache_CleanupAndStats(t *testing.T) {
	c, clock := newTestCache(t, true)
	c.SetWithTTL("short", "1", time.Second)
	c.SetWithTTL("long", "2", time.Hour)

	clock.Advance(2 * time.Second)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Total, "expired entries stay counted until removed")
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 1, stats.Expired)

	assert.Equal(t, 1, c.Cleanup())

	stats = c.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Expired)
}

func TestCache_StartStop(t *testing.T) {
	c := New[int](Options{Enabled: true, CleanupInterval: 5 * time.Millisecond})
	c.SetWithTTL("k", 1, time.Nanosecond)

	c.Start()
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.Stats().Total == 0
	}, time.Second, 5*time.Millisecond, "background sweep should evict the expired entry")

	c.Stop()
	c.Stop()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](Options{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("k", n)
				c.Get("k")
				c.Cleanup()
				c.Stats()
			}
		}(i)
	}
	wg.Wait()
	assert.True(t, c.Has("k"))
}
