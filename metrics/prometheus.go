package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type PrometheusConfig struct {
	Namespace       string `json:"namespace"`
	Subsystem       string `json:"subsystem"`
	EnableGoMetrics bool   `json:"enable_go_metrics"`
}

// PrometheusMetrics registers every metric on a private registry, so
// several instances (one per test, say) never collide.
type PrometheusMetrics struct {
	logger     types.Logger
	config     *PrometheusConfig
	labels     map[string]string
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	promConfig := &PrometheusConfig{
		Namespace:       "sai_ratecache",
		EnableGoMetrics: true,
	}

	var constLabels map[string]string
	if config != nil {
		constLabels = config.Labels
		if config.Config != nil {
			if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
				return nil, types.WrapError(err, "failed to unmarshal prometheus config")
			}
		}
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.String("subsystem", promConfig.Subsystem),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return &PrometheusMetrics{
		logger:     logger,
		config:     promConfig,
		labels:     constLabels,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// help documents the series this service emits. Unknown names get a
// generic description.
var help = map[string]string{
	"cache_operations_total":           "Cache operations by operation and result.",
	"cache_operation_duration_seconds": "Cache operation latency.",
	"cache_items":                      "Entries currently held by the memory layer.",
	"cache_cleanup_removed_total":      "Expired entries removed by periodic cleanup.",
	"cache_invalidated_entries_total":  "Entries removed by tag invalidation.",
	"ratelimit_checks_total":           "Rate limit checks by preset and outcome.",
	"ratelimit_blocks_total":           "Identifiers placed under a hard block.",
	"storage_operations_total":         "Durable store operations by operation and result.",
	"cron_job_executions_total":        "Maintenance job runs by job and result.",
	"cron_scheduler_running":           "1 while the maintenance scheduler runs.",
	"http_requests_total":              "Admin API requests by method and status.",
	"http_rate_limited_total":          "Admin API requests rejected with 429.",
}

func describe(kind, name string) string {
	if text, ok := help[name]; ok {
		return text
	}
	return fmt.Sprintf("%s %s", kind, name)
}

func (p *PrometheusMetrics) opts(kind, name string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        describe(kind, name),
		ConstLabels: p.labels,
	}
}

// vec returns the collector registered under name, building and
// registering it on first use. Label names are fixed by the first call.
func vec[V prometheus.Collector](p *PrometheusMetrics, store map[string]V, name string, build func() V) V {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := store[name]; ok {
		return existing
	}

	created := build()
	p.registry.MustRegister(created)
	store[name] = created
	p.logger.Debug("Prometheus collector created", zap.String("name", name))
	return created
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	counter := vec(p, p.counters, name, func() *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts(p.opts("counter", name)), labelNames(labels))
	})
	return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	gauge := vec(p, p.gauges, name, func() *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(p.opts("gauge", name)), labelNames(labels))
	})
	return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	histogram := vec(p, p.histograms, name, func() *prometheus.HistogramVec {
		base := p.opts("histogram", name)
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   base.Namespace,
			Subsystem:   base.Subsystem,
			Name:        base.Name,
			Help:        base.Help,
			ConstLabels: base.ConstLabels,
			Buckets:     buckets,
		}, labelNames(labels))
	})
	return &PrometheusHistogram{histogram: histogram, labels: labels}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c *PrometheusCounter) Inc() {
	c.counter.With(c.labels).Inc()
}

func (c *PrometheusCounter) Add(value float64) {
	c.counter.With(c.labels).Add(value)
}

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.counter.With(c.labels).Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g *PrometheusGauge) Set(value float64) {
	g.gauge.With(g.labels).Set(value)
}

func (g *PrometheusGauge) Inc() {
	g.gauge.With(g.labels).Inc()
}

func (g *PrometheusGauge) Dec() {
	g.gauge.With(g.labels).Dec()
}

func (g *PrometheusGauge) Add(value float64) {
	g.gauge.With(g.labels).Add(value)
}

func (g *PrometheusGauge) Sub(value float64) {
	g.gauge.With(g.labels).Sub(value)
}

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.gauge.With(g.labels).Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.histogram.With(h.labels).Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.histogram.With(h.labels).Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	return h.snapshot().GetSampleCount()
}

func (h *PrometheusHistogram) GetSum() float64 {
	return h.snapshot().GetSampleSum()
}

// snapshot returns nil when the observer cannot be read; the dto getters
// treat nil as zero.
func (h *PrometheusHistogram) snapshot() *dto.Histogram {
	metric, ok := h.histogram.With(h.labels).(prometheus.Metric)
	if !ok {
		return nil
	}

	out := &dto.Metric{}
	if err := metric.Write(out); err != nil {
		return nil
	}
	return out.GetHistogram()
}
