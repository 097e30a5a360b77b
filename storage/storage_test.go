package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/metrics"
	"github.com/saiset-co/sai-ratecache/types"
)

func backends(t *testing.T) map[string]types.Storage {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	memory, err := NewStorage(ctx, &types.StorageConfig{Type: "memory"}, logger.NewNop(), nil)
	require.NoError(t, err)

	sqlite, err := NewStorage(ctx, &types.StorageConfig{
		Type:   "sqlite",
		Config: map[string]interface{}{"path": filepath.Join(dir, "kv.db")},
	}, logger.NewNop(), nil)
	require.NoError(t, err)

	clover, err := NewStorage(ctx, &types.StorageConfig{
		Type:   "clover",
		Config: map[string]interface{}{"path": filepath.Join(dir, "clover")},
	}, logger.NewNop(), nil)
	require.NoError(t, err)

	stores := map[string]types.Storage{
		"memory": memory,
		"sqlite": sqlite,
		"clover": clover,
	}

	t.Cleanup(func() {
		for _, store := range stores {
			_ = store.Close()
		}
	})

	return stores
}

func TestStorageContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Ping(ctx))

			_, found, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, store.Set(ctx, "sai_cache_a", "1"))
			require.NoError(t, store.Set(ctx, "sai_cache_b", "2"))
			require.NoError(t, store.Set(ctx, "sai_session_x", "3"))
			require.NoError(t, store.Set(ctx, "sai_cache_a", "updated"))

			value, found, err := store.Get(ctx, "sai_cache_a")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "updated", value)

			keys, err := store.Keys(ctx, "sai_cache_")
			require.NoError(t, err)
			require.Equal(t, []string{"sai_cache_a", "sai_cache_b"}, keys)

			keys, err = store.Keys(ctx, "")
			require.NoError(t, err)
			require.Len(t, keys, 3)

			require.NoError(t, store.Delete(ctx, "sai_cache_a"))
			require.NoError(t, store.Delete(ctx, "sai_cache_a"), "deleting a missing key is not an error")

			_, found, err = store.Get(ctx, "sai_cache_a")
			require.NoError(t, err)
			require.False(t, found)

			keys, err = store.Keys(ctx, "nothing_")
			require.NoError(t, err)
			require.Empty(t, keys)

			require.NoError(t, store.Close())
			require.ErrorIs(t, store.Set(ctx, "k", "v"), types.ErrStorageClosed)
			require.ErrorIs(t, store.Ping(ctx), types.ErrStorageClosed)
			require.NoError(t, store.Close(), "close is idempotent")
		})
	}
}

func TestSQLiteKeysTreatsPrefixLiterally(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStorage(ctx, logger.NewNop(), &types.StorageConfig{Type: "sqlite"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "a%b_1", "x"))
	require.NoError(t, store.Set(ctx, "axbb_1", "x"))

	keys, err := store.Keys(ctx, "a%b_")
	require.NoError(t, err)
	require.Equal(t, []string{"a%b_1"}, keys)
}

func TestSQLiteKeysMatchesMultibytePrefix(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStorage(ctx, logger.NewNop(), &types.StorageConfig{Type: "sqlite"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "ключ:1", "x"))
	require.NoError(t, store.Set(ctx, "ключ:2", "x"))
	require.NoError(t, store.Set(ctx, "клюв:1", "x"))

	keys, err := store.Keys(ctx, "ключ:")
	require.NoError(t, err)
	require.Equal(t, []string{"ключ:1", "ключ:2"}, keys)

	keys, err = store.Keys(ctx, "")
	require.NoError(t, err)
	require.Len(t, keys, 3)
}

func TestSQLiteQuota(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStorage(ctx, logger.NewNop(), &types.StorageConfig{
		Type: "sqlite",
		Config: map[string]interface{}{
			"path":           filepath.Join(t.TempDir(), "small.db"),
			"max_page_count": 1,
		},
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.Set(ctx, "big", strings.Repeat("x", 256*1024))
	require.ErrorIs(t, err, types.ErrStorageQuotaExceeded)
}

func TestMemoryStorageQuota(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStorage(logger.NewNop(), &types.StorageConfig{
		Type:   "memory",
		Config: map[string]interface{}{"max_bytes": 10},
	})
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "ab", "123456"))
	require.Equal(t, int64(8), store.UsedBytes())

	require.ErrorIs(t, store.Set(ctx, "cd", "12"), types.ErrStorageQuotaExceeded)

	require.NoError(t, store.Set(ctx, "ab", "12345678"), "replacing only counts the difference")
	require.Equal(t, int64(10), store.UsedBytes())

	require.NoError(t, store.Delete(ctx, "ab"))
	require.Equal(t, int64(0), store.UsedBytes())
	require.NoError(t, store.Set(ctx, "cd", "12"))
}

func TestNewStorageUnknownType(t *testing.T) {
	_, err := NewStorage(context.Background(), &types.StorageConfig{Type: "etcd"}, logger.NewNop(), nil)
	require.ErrorIs(t, err, types.ErrStorageTypeUnknown)

	_, err = NewStorage(context.Background(), nil, logger.NewNop(), nil)
	require.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestRegisterStorage(t *testing.T) {
	RegisterStorage("custom", func(config interface{}) (types.Storage, error) {
		return NewMemoryStorage(logger.NewNop(), &types.StorageConfig{Type: "memory"})
	})

	store, err := NewStorage(context.Background(), &types.StorageConfig{Type: "custom"}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
}

func TestInstrumentedStorage(t *testing.T) {
	ctx := context.Background()
	registry := metrics.NewMemoryMetrics(logger.NewNop(), nil)

	store, err := NewStorage(ctx, &types.StorageConfig{Type: "memory"}, logger.NewNop(), registry)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", "v"))
	_, _, _ = store.Get(ctx, "k")
	_, _, _ = store.Get(ctx, "missing")

	labels := func(operation, result string) map[string]string {
		return map[string]string{"backend": "memory", "operation": operation, "result": result}
	}

	require.Equal(t, float64(1), registry.Counter("storage_operations_total", labels("set", "success")).Get())
	require.Equal(t, float64(1), registry.Counter("storage_operations_total", labels("get", "hit")).Get())
	require.Equal(t, float64(1), registry.Counter("storage_operations_total", labels("get", "miss")).Get())
}
