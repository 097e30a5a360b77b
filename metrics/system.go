package metrics

import (
	"runtime"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
)

// SystemCollector publishes runtime gauges. It is driven by a cron job
// rather than its own ticker.
type SystemCollector struct {
	metrics   types.MetricsManager
	startTime time.Time
}

func NewSystemCollector(metrics types.MetricsManager) *SystemCollector {
	return &SystemCollector{
		metrics:   metrics,
		startTime: time.Now(),
	}
}

func (c *SystemCollector) Collect() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	c.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"}).Set(float64(stats.HeapInuse))
	c.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_alloc"}).Set(float64(stats.HeapAlloc))
	c.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "sys"}).Set(float64(stats.Sys))
	c.metrics.Gauge("system_goroutines_count", nil).Set(float64(runtime.NumGoroutine()))
	c.metrics.Gauge("system_heap_objects_count", nil).Set(float64(stats.HeapObjects))
	c.metrics.Gauge("system_uptime_seconds", nil).Set(time.Since(c.startTime).Seconds())
}
