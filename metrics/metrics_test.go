package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/types"
)

type staticConfig struct {
	config *types.ServiceConfig
}

func (s staticConfig) GetConfig() *types.ServiceConfig              { return s.config }
func (s staticConfig) GetValue(_ string, d interface{}) interface{} { return d }
func (s staticConfig) GetAs(string, interface{}) error              { return nil }

func withMetrics(section *types.MetricsConfig) types.ConfigManager {
	return staticConfig{config: &types.ServiceConfig{Metrics: section}}
}

func TestNewManagerSelectsBackend(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNop()

	manager, err := NewManager(ctx, withMetrics(nil), log)
	require.NoError(t, err)
	require.IsType(t, nopMetrics{}, manager)

	manager, err = NewManager(ctx, withMetrics(&types.MetricsConfig{Enabled: false, Type: "prometheus"}), log)
	require.NoError(t, err)
	require.IsType(t, nopMetrics{}, manager)

	manager, err = NewManager(ctx, withMetrics(&types.MetricsConfig{Enabled: true, Type: "memory"}), log)
	require.NoError(t, err)
	require.IsType(t, &MemoryMetrics{}, manager)

	manager, err = NewManager(ctx, withMetrics(&types.MetricsConfig{Enabled: true, Type: "prometheus"}), log)
	require.NoError(t, err)
	require.IsType(t, &PrometheusMetrics{}, manager)

	_, err = NewManager(ctx, withMetrics(&types.MetricsConfig{Enabled: true, Type: "statsd"}), log)
	require.True(t, types.IsError(err, types.ErrMetricsTypeUnknown))

	RegisterMetricsManager("statsd", func(interface{}) (types.MetricsManager, error) {
		return NewNop(), nil
	})
	manager, err = NewManager(ctx, withMetrics(&types.MetricsConfig{Enabled: true, Type: "statsd"}), log)
	require.NoError(t, err)
	require.NotNil(t, manager)
}

func TestNopMetrics(t *testing.T) {
	nop := NewNop()
	require.True(t, nop.IsRunning())

	counter := nop.Counter("anything", nil)
	counter.Add(5)
	require.Zero(t, counter.Get())
	require.Zero(t, nop.Histogram("latency", nil, nil).GetCount())
}

func TestPrometheusMetrics(t *testing.T) {
	prom, err := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{
		Labels: map[string]string{"service": "test"},
		Config: map[string]interface{}{"namespace": "rc", "enable_go_metrics": false},
	})
	require.NoError(t, err)

	require.NoError(t, prom.Start())
	require.ErrorIs(t, prom.Start(), types.ErrServerAlreadyRunning)

	prom.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Inc()
	prom.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Add(2)
	prom.Gauge("cache_items", nil).Set(7)
	prom.Histogram("cache_operation_duration_seconds", nil, map[string]string{"operation": "get"}).Observe(0.25)

	require.Equal(t, float64(3), prom.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Get())
	require.Equal(t, float64(7), prom.Gauge("cache_items", nil).Get())

	histogram := prom.Histogram("cache_operation_duration_seconds", nil, map[string]string{"operation": "get"})
	require.Equal(t, uint64(1), histogram.GetCount())
	require.InDelta(t, 0.25, histogram.GetSum(), 1e-9)

	families, err := prom.Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	require.Contains(t, names, "rc_cache_operations_total")
	require.Contains(t, names, "rc_cache_items")

	recorder := httptest.NewRecorder()
	prom.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `rc_cache_operations_total{operation="get",result="hit",service="test"} 3`)

	require.NoError(t, prom.Stop())
	require.ErrorIs(t, prom.Stop(), types.ErrServerNotRunning)
}

func TestMemoryMetrics(t *testing.T) {
	mem := NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{Labels: map[string]string{"node": "a"}})

	mem.Counter("requests_total", map[string]string{"status": "200"}).Inc()
	mem.Counter("requests_total", map[string]string{"status": "200"}).Inc()
	mem.Counter("requests_total", map[string]string{"status": "429"}).Inc()
	mem.Gauge("blocked", nil).Add(3)
	mem.Gauge("blocked", nil).Dec()
	mem.Histogram("latency", nil, nil).ObserveDuration(time.Now().Add(-time.Second))

	require.Equal(t, float64(2), mem.Counter("requests_total", map[string]string{"status": "200"}).Get())
	require.Equal(t, float64(2), mem.Gauge("blocked", nil).Get())
	require.GreaterOrEqual(t, mem.Histogram("latency", nil, nil).GetSum(), 1.0)

	snapshot := mem.Snapshot()
	require.Len(t, snapshot, 4)
	require.Equal(t, "blocked", snapshot[0].Name)
	require.Equal(t, "latency", snapshot[1].Name)
	require.Equal(t, "requests_total", snapshot[2].Name)
	require.Equal(t, map[string]string{"node": "a", "status": "200"}, snapshot[2].Labels)

	recorder := httptest.NewRecorder()
	mem.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	require.True(t, strings.Contains(string(body), `"requests_total"`))
}

func TestSystemCollector(t *testing.T) {
	mem := NewMemoryMetrics(logger.NewNop(), nil)
	NewSystemCollector(mem).Collect()

	require.Greater(t, mem.Gauge("system_goroutines_count", nil).Get(), float64(0))
	require.Greater(t, mem.Gauge("system_memory_usage_bytes", map[string]string{"type": "sys"}).Get(), float64(0))
}
