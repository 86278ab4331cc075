package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/metric"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
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

func TestNewHybrid_Validation(t *testing.T) {
	_, err := NewHybrid[string](0, time.Hour)
	assert.Error(t, err)

	_, err = NewHybrid[string](10, -time.Second)
	assert.Error(t, err)
}

func TestHybrid_SetGet(t *testing.T) {
	c, err := NewHybrid[string](10, time.Hour)
	require.NoError(t, err)

	created, err := c.Set("did:plc:alice", "alice.bsky.social")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("did:plc:alice", "alice.example.com")
	require.NoError(t, err)
	assert.False(t, created)

	v, ok := c.Get("did:plc:alice")
	require.True(t, ok)
	assert.Equal(t, "alice.example.com", v)

	_, ok = c.Get("did:plc:bob")
	assert.False(t, ok)

	_, err = c.Set("", "x")
	assert.Error(t, err)
}

func TestHybrid_LRUEviction(t *testing.T) {
	c, err := NewHybrid[int](2, time.Hour)
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	_, _ = c.Get("a") // b is now least recently used
	_, _ = c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"c", "a"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestHybrid_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	c, err := NewHybrid[string](10, time.Hour, WithClock[string](clock.Now))
	require.NoError(t, err)

	_, _ = c.Set("k", "v")
	inserted := clock.Now()

	clock.Advance(time.Hour - time.Nanosecond)
	v, at, ok := c.GetWithTime("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, inserted, at)

	clock.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry is stale once age reaches ttl")
	assert.Equal(t, 0, c.Len())
}

func TestHybrid_ReadsDoNotExtendLifetime(t *testing.T) {
	clock := newFakeClock()
	c, err := NewHybrid[string](10, time.Minute, WithClock[string](clock.Now))
	require.NoError(t, err)

	_, _ = c.Set("k", "v")
	clock.Advance(40 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestHybrid_RemoveExpired(t *testing.T) {
	clock := newFakeClock()
	c, err := NewHybrid[int](10, time.Minute, WithClock[int](clock.Now))
	require.NoError(t, err)

	_, _ = c.Set("old", 1)
	clock.Advance(45 * time.Second)
	_, _ = c.Set("new", 2)
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, []string{"new"}, c.Keys())
}

func TestHybrid_CleanupGoroutineStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewHybrid[int](10, 10*time.Millisecond, WithCleanup[int](ctx, 5*time.Millisecond))
	require.NoError(t, err)

	_, _ = c.Set("k", 1)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestHybrid_Delete(t *testing.T) {
	c, err := NewHybrid[int](10, 0)
	require.NoError(t, err)

	_, _ = c.Set("k", 1)
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))
}

func TestHybrid_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewHybrid[int](1, time.Hour, WithMetrics[int](registry, "profiles"))
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("missing")
	_, _ = c.Set("b", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.size))
	assert.InDelta(t, 0.5, c.Stats().HitRatio(), 0.001)
}

func TestHybrid_ConcurrentAccess(t *testing.T) {
	c, err := NewHybrid[int](50, time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := string(rune('a' + (i+g)%26))
				_, _ = c.Set(key, i)
				_, _ = c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
