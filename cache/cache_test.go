package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/storage"
	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func newClock() *utils.ManualClock {
	return utils.NewManualClock(epoch)
}

func newStorage(t *testing.T, maxBytes int64) *storage.MemoryStorage {
	t.Helper()

	config := &types.StorageConfig{Type: "memory"}
	if maxBytes > 0 {
		config.Config = map[string]interface{}{"max_bytes": maxBytes}
	}

	store, err := storage.NewMemoryStorage(logger.NewNop(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDecodeEntry(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw, err := EncodeEntry(&types.CacheEntry{
			Data:      map[string]interface{}{"name": "alice"},
			Timestamp: epoch,
			TTL:       90 * time.Second,
			Tags:      []string{"users"},
			Version:   "v2",
		})
		require.NoError(t, err)

		entry, parseErr := DecodeEntry("k", raw)
		require.Nil(t, parseErr)
		require.Equal(t, epoch.UnixMilli(), entry.Timestamp.UnixMilli())
		require.Equal(t, 90*time.Second, entry.TTL)
		require.Equal(t, []string{"users"}, entry.Tags)
		require.Equal(t, "v2", entry.Version)
		require.Equal(t, "alice", entry.Data.(map[string]interface{})["name"])
	})

	for name, raw := range map[string]string{
		"not json":          "not json",
		"array":             `[1,2,3]`,
		"missing data":      `{"timestamp":1,"ttl":1}`,
		"string timestamp":  `{"data":1,"timestamp":"yesterday","ttl":1}`,
		"negative ttl":      `{"data":1,"timestamp":1,"ttl":-5}`,
		"numeric version":   `{"data":1,"timestamp":1,"ttl":1,"version":3}`,
		"tags not an array": `{"data":1,"timestamp":1,"ttl":1,"tags":"a"}`,
		"numeric tag":       `{"data":1,"timestamp":1,"ttl":1,"tags":["a",2]}`,
	} {
		t.Run(name, func(t *testing.T) {
			entry, parseErr := DecodeEntry("k", raw)
			require.Nil(t, entry)
			require.NotNil(t, parseErr)
			require.ErrorIs(t, parseErr, types.ErrCacheEntryCorrupted)
			require.Equal(t, "k", parseErr.Key)
		})
	}

	t.Run("null data is present", func(t *testing.T) {
		entry, parseErr := DecodeEntry("k", `{"data":null,"timestamp":1,"ttl":0}`)
		require.Nil(t, parseErr)
		require.Nil(t, entry.Data)
	})
}

func TestMemoryCacheTTL(t *testing.T) {
	clock := newClock()
	m := NewMemoryCache(10, time.Minute, WithClock(clock.Now))

	m.Set("a", "1", types.SetOptions{TTL: time.Second})
	m.Set("b", "2", types.SetOptions{})

	clock.Advance(time.Second)
	value, ok := m.Get("a")
	require.True(t, ok, "entry is live while now - timestamp == ttl")
	require.Equal(t, "1", value)

	clock.Advance(time.Millisecond)
	_, ok = m.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, m.Len())

	clock.Advance(time.Minute)
	require.False(t, m.Has("b"))
	require.Equal(t, 0, m.Len())
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	clock := newClock()
	m := NewMemoryCache(3, time.Minute, WithClock(clock.Now))

	m.Set("a", 1, types.SetOptions{})
	m.Set("b", 2, types.SetOptions{})
	m.Set("c", 3, types.SetOptions{})

	_, ok := m.Get("a")
	require.True(t, ok)

	m.Set("d", 4, types.SetOptions{})

	require.Equal(t, 3, m.Len())
	require.True(t, m.Has("a"))
	require.False(t, m.Has("b"), "least recently used entry is evicted")
	require.True(t, m.Has("c"))
	require.True(t, m.Has("d"))
	require.Equal(t, uint64(1), m.GetStats().Evictions)
}

func TestMemoryCacheReplaceDoesNotEvict(t *testing.T) {
	m := NewMemoryCache(2, time.Minute)

	m.Set("a", 1, types.SetOptions{})
	m.Set("b", 2, types.SetOptions{})
	m.Set("a", 10, types.SetOptions{})

	require.Equal(t, 2, m.Len())
	value, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 10, value)
	require.Equal(t, uint64(0), m.GetStats().Evictions)
}

func TestMemoryCacheExpiredEntriesMakeRoomFirst(t *testing.T) {
	clock := newClock()
	m := NewMemoryCache(2, time.Minute, WithClock(clock.Now))

	m.Set("old", 1, types.SetOptions{TTL: time.Second})
	m.Set("live", 2, types.SetOptions{})

	clock.Advance(2 * time.Second)
	m.Set("new", 3, types.SetOptions{})

	require.True(t, m.Has("live"))
	require.True(t, m.Has("new"))
	require.Equal(t, uint64(0), m.GetStats().Evictions)
}

func TestMemoryCacheInvalidateByTags(t *testing.T) {
	m := NewMemoryCache(10, time.Minute)

	m.Set("u1", 1, types.SetOptions{Tags: []string{"users"}})
	m.Set("u2", 2, types.SetOptions{Tags: []string{"users", "admins"}})
	m.Set("p1", 3, types.SetOptions{Tags: []string{"posts"}})
	m.Set("x", 4, types.SetOptions{})

	require.Equal(t, 0, m.InvalidateByTags())
	require.Equal(t, 2, m.InvalidateByTags("users", "missing"))
	require.False(t, m.Has("u1"))
	require.False(t, m.Has("u2"))
	require.True(t, m.Has("p1"))
	require.True(t, m.Has("x"))
}

func TestMemoryCacheStats(t *testing.T) {
	m := NewMemoryCache(10, time.Minute)

	stats := m.GetStats()
	require.Equal(t, float64(0), stats.HitRate)

	m.Set("a", "value", types.SetOptions{})
	m.Get("a")
	m.Get("a")
	m.Get("a")
	m.Get("missing")

	require.True(t, m.Has("a"))
	require.False(t, m.Has("missing"))

	stats = m.GetStats()
	require.Equal(t, uint64(3), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 0.75, stats.HitRate)
	require.Equal(t, 1, stats.ItemCount)
	require.Equal(t, int64(len("a")+len("value")), stats.Size)

	m.Clear()
	stats = m.GetStats()
	require.Equal(t, 0, stats.ItemCount)
	require.Equal(t, int64(0), stats.Size)
	require.Equal(t, uint64(3), stats.Hits, "clear keeps counters")
}

func TestMemoryCacheUpdate(t *testing.T) {
	clock := newClock()
	m := NewMemoryCache(10, time.Minute, WithClock(clock.Now))

	increment := func(current interface{}, found bool) interface{} {
		if !found {
			return 1
		}
		return current.(int) + 1
	}

	require.Equal(t, 1, m.Update("n", 10*time.Second, increment))
	clock.Advance(5 * time.Second)
	require.Equal(t, 2, m.Update("n", 10*time.Second, increment))

	clock.Advance(5*time.Second + time.Millisecond)
	require.Equal(t, 1, m.Update("n", 10*time.Second, increment), "update keeps the original expiry")
}

func TestMemoryCacheCleanup(t *testing.T) {
	clock := newClock()
	m := NewMemoryCache(10, time.Minute, WithClock(clock.Now))

	m.Set("short", 1, types.SetOptions{TTL: time.Second})
	m.Set("long", 2, types.SetOptions{TTL: time.Hour})

	clock.Advance(time.Minute)
	require.Equal(t, 1, m.Cleanup())
	require.Equal(t, 0, m.Cleanup())
	require.Equal(t, 1, m.Len())
}

func TestMemoryCacheIgnoresEmptyKey(t *testing.T) {
	m := NewMemoryCache(10, time.Minute)
	m.Set("", 1, types.SetOptions{})
	require.Equal(t, 0, m.Len())
}
