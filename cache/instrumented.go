package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
)

type instrumentedCacheManager struct {
	impl    types.CacheManager
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(logger types.Logger, metrics types.MetricsManager, impl types.CacheManager) types.CacheManager {
	return &instrumentedCacheManager{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (icm *instrumentedCacheManager) Get(ctx context.Context, key string, strategy ...types.Strategy) (interface{}, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(ctx, key, strategy...)

	icm.recordMetric("get", hitOrMiss(exists), start)
	return value, exists
}

func (icm *instrumentedCacheManager) Set(ctx context.Context, key string, data interface{}, opts types.SetOptions) {
	start := time.Now()
	icm.impl.Set(ctx, key, data, opts)
	icm.recordMetric("set", "success", start)
}

func (icm *instrumentedCacheManager) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	deleted := icm.impl.Delete(ctx, key)
	icm.recordMetric("delete", hitOrMiss(deleted), start)
	return deleted
}

func (icm *instrumentedCacheManager) Has(ctx context.Context, key string) bool {
	start := time.Now()
	exists := icm.impl.Has(ctx, key)
	icm.recordMetric("has", hitOrMiss(exists), start)
	return exists
}

func (icm *instrumentedCacheManager) Clear(ctx context.Context) {
	start := time.Now()
	icm.impl.Clear(ctx)
	icm.recordMetric("clear", "success", start)
}

func (icm *instrumentedCacheManager) InvalidateByTags(ctx context.Context, tags ...string) int {
	start := time.Now()
	removed := icm.impl.InvalidateByTags(ctx, tags...)
	icm.recordMetric("invalidate", "success", start)

	icm.metrics.Counter("cache_invalidated_entries_total", nil).Add(float64(removed))
	return removed
}

func (icm *instrumentedCacheManager) GetOrLoad(ctx context.Context, key string, loader types.Loader, opts types.SetOptions) (interface{}, error) {
	start := time.Now()
	loaded := false

	value, err := icm.impl.GetOrLoad(ctx, key, func(ctx context.Context) (interface{}, error) {
		loaded = true
		return loader(ctx)
	}, opts)

	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case loaded:
		result = "loaded"
	}

	icm.recordMetric("get_or_load", result, start)
	return value, err
}

func (icm *instrumentedCacheManager) SetSession(ctx context.Context, key string, data interface{}, ttl time.Duration) {
	start := time.Now()
	icm.impl.SetSession(ctx, key, data, ttl)
	icm.recordMetric("set_session", "success", start)
}

func (icm *instrumentedCacheManager) GetSession(ctx context.Context, key string) (interface{}, bool) {
	start := time.Now()
	value, exists := icm.impl.GetSession(ctx, key)
	icm.recordMetric("get_session", hitOrMiss(exists), start)
	return value, exists
}

func (icm *instrumentedCacheManager) DeleteSession(ctx context.Context, key string) bool {
	start := time.Now()
	deleted := icm.impl.DeleteSession(ctx, key)
	icm.recordMetric("delete_session", hitOrMiss(deleted), start)
	return deleted
}

func (icm *instrumentedCacheManager) StartPeriodicCleanup(interval time.Duration) error {
	return icm.impl.StartPeriodicCleanup(interval)
}

func (icm *instrumentedCacheManager) StopPeriodicCleanup() {
	icm.impl.StopPeriodicCleanup()
}

func (icm *instrumentedCacheManager) Cleanup(ctx context.Context) int {
	start := time.Now()
	removed := icm.impl.Cleanup(ctx)
	icm.recordMetric("cleanup", "success", start)

	icm.metrics.Counter("cache_cleanup_removed_total", nil).Add(float64(removed))
	return removed
}

func (icm *instrumentedCacheManager) GetStats(ctx context.Context) types.CacheManagerStats {
	stats := icm.impl.GetStats(ctx)

	icm.metrics.Gauge("cache_items", map[string]string{"tier": "memory"}).Set(float64(stats.Memory.ItemCount))
	icm.metrics.Gauge("cache_items", map[string]string{"tier": "persistent"}).Set(float64(stats.Persistent.ItemCount))
	icm.metrics.Gauge("cache_items", map[string]string{"tier": "session"}).Set(float64(stats.Session.ItemCount))

	return stats
}

func (icm *instrumentedCacheManager) Memory() types.MemoryStore {
	return icm.impl.Memory()
}

func (icm *instrumentedCacheManager) Start() error {
	start := time.Now()
	err := icm.impl.Start()

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("start", result, start)
	return err
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func (icm *instrumentedCacheManager) recordMetric(operation, result string, start time.Time) {
	icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).ObserveDuration(start)
}

func hitOrMiss(found bool) string {
	if found {
		return "hit"
	}
	return "miss"
}
