package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/metrics"
	"github.com/saiset-co/sai-offline/storage"
	"github.com/saiset-co/sai-offline/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryStore, *fakeClock) {
	kv := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(kv, logger.NewZapWrapper(zaptest.NewLogger(t)), WithClock(clock.Now))
	return s, kv, clock
}

func TestSetGetWithTTL(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", map[string]int{"v": 1}, 100*time.Millisecond))

	raw, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(raw))

	clock.Advance(150 * time.Millisecond)

	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredEntryIsEvictedOnRead(t *testing.T) {
	ctx := context.Background()
	s, kv, clock := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	clock.Advance(time.Second)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := kv.Get(ctx, "cache_k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.NoError(t, s.Set(ctx, "forever", "v", 0))
	require.NoError(t, s.Set(ctx, "negative", "v", -time.Second))
	clock.Advance(365 * 24 * time.Hour)

	for _, key := range []string{"forever", "negative"} {
		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestGetAs(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Set(ctx, "user_1", profile{Name: "Ann", Age: 30}, time.Minute))

	got, ok, err := GetAs[profile](ctx, s, "user_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, profile{Name: "Ann", Age: 30}, got)

	_, ok, err = GetAs[profile](ctx, s, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "scalar", "text", time.Minute))
	_, _, err = GetAs[profile](ctx, s, "scalar")
	assert.ErrorIs(t, err, types.ErrCacheEntryCorrupted)
}

func TestCorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestStore(t)

	require.NoError(t, kv.Set(ctx, "cache_bad", []byte("not json")))

	_, ok, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = kv.Get(ctx, "cache_bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyKey(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	assert.ErrorIs(t, s.Set(ctx, "", "v", 0), types.ErrCacheKeyEmpty)
	_, _, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, types.ErrCacheKeyEmpty)
}

func TestClearByPrefix(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newTestStore(t)

	require.NoError(t, kv.Set(ctx, "offline_actions", []byte("[]")))
	require.NoError(t, s.Set(ctx, "coaches_list", []int{1}, 0))
	require.NoError(t, s.Set(ctx, "search_coach_a", []int{1}, 0))
	require.NoError(t, s.Set(ctx, "search_coach_b", []int{2}, 0))

	removed, err := s.Clear(ctx, "search_coach_")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ok, err := s.Exists(ctx, "coaches_list")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err = kv.Get(ctx, "offline_actions")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMultiple(t *testing.T) {
	ctx := context.Background()
	s, kv, clock := newTestStore(t)

	require.NoError(t, s.SetMultiple(ctx, map[string]interface{}{
		"a": 1,
		"b": 2,
	}, time.Minute))
	require.NoError(t, s.Set(ctx, "long", 3, time.Hour))
	require.NoError(t, kv.Set(ctx, "cache_broken", []byte("{")))

	err := s.SetMultiple(ctx, map[string]interface{}{"ok": 4, "bad": make(chan int)}, 0)
	assert.Error(t, err)

	clock.Advance(2 * time.Minute)

	values, err := s.GetMultiple(ctx, []string{"a", "long", "broken", "missing", "ok", "bad"})
	require.NoError(t, err)
	require.Len(t, values, 6)
	assert.Nil(t, values[0])
	assert.JSONEq(t, `3`, string(values[1]))
	assert.Nil(t, values[2])
	assert.Nil(t, values[3])
	assert.JSONEq(t, `4`, string(values[4]))
	assert.Nil(t, values[5])
}

func TestCleanupAndStats(t *testing.T) {
	ctx := context.Background()
	s, kv, clock := newTestStore(t)

	require.NoError(t, kv.Set(ctx, "offline_data_coach", []byte("{}")))
	require.NoError(t, s.Set(ctx, "short", 1, time.Second))
	require.NoError(t, s.Set(ctx, "keep", 2, 0))
	require.NoError(t, kv.Set(ctx, "cache_garbage", []byte("???")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalKeys)
	assert.Equal(t, 3, stats.CacheKeys)
	assert.Greater(t, stats.ApproxSizeBytes, 0)

	clock.Advance(2 * time.Second)

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalKeys)
	assert.Equal(t, 1, stats.CacheKeys)
}

func TestCustomPrefixAndMetrics(t *testing.T) {
	ctx := context.Background()
	log := logger.NewZapWrapper(zaptest.NewLogger(t))

	m, err := metrics.NewManager(ctx, log, &types.MetricsConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	kv := storage.NewMemoryStore()
	s := NewStore(kv, log, WithPrefix("c:"), WithMetrics(m))
	assert.Equal(t, "c:", s.Prefix())

	require.NoError(t, s.Set(ctx, "x", 1, 0))
	_, _, _ = s.Get(ctx, "x")
	_, _, _ = s.Get(ctx, "y")

	_, ok, err := kv.Get(ctx, "c:x")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, float64(1), m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Get())
	assert.Equal(t, float64(1), m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "miss"}).Get())
}
