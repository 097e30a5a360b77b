package metrics

import (
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type MetricValue struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// MemoryMetrics keeps every series in process and serves them as JSON.
// It suits single-node deployments that have no Prometheus scraper.
type MemoryMetrics struct {
	logger     types.Logger
	constant   map[string]string
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	mu         sync.Mutex
	running    int32
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) *MemoryMetrics {
	var constant map[string]string
	if config != nil {
		constant = config.Labels
	}

	return &MemoryMetrics{
		logger:     logger,
		constant:   constant,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	counter, exists := m.counters[key]
	if !exists {
		counter = &MemoryCounter{name: name, labels: m.merge(labels)}
		m.counters[key] = counter
	}
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	gauge, exists := m.gauges[key]
	if !exists {
		gauge = &MemoryGauge{name: name, labels: m.merge(labels)}
		m.gauges[key] = gauge
	}
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, _ []float64, labels map[string]string) types.Histogram {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	histogram, exists := m.histograms[key]
	if !exists {
		histogram = &MemoryHistogram{name: name, labels: m.merge(labels)}
		m.histograms[key] = histogram
	}
	return histogram
}

// Snapshot returns every series sorted by name.
func (m *MemoryMetrics) Snapshot() []MetricValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := make([]MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))
	for _, c := range m.counters {
		values = append(values, MetricValue{Name: c.name, Type: "counter", Value: c.Get(), Labels: c.labels})
	}
	for _, g := range m.gauges {
		values = append(values, MetricValue{Name: g.name, Type: "gauge", Value: g.Get(), Labels: g.labels})
	}
	for _, h := range m.histograms {
		values = append(values, MetricValue{Name: h.name, Type: "histogram", Value: h.GetSum(), Count: h.GetCount(), Labels: h.labels})
	}

	sort.Slice(values, func(i, j int) bool {
		if values[i].Name != values[j].Name {
			return values[i].Name < values[j].Name
		}
		return seriesKey("", values[i].Labels) < seriesKey("", values[j].Labels)
	})

	return values
}

func (m *MemoryMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body, err := utils.Marshal(m.Snapshot())
		if err != nil {
			m.logger.Error("Failed to encode metrics snapshot", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

func (m *MemoryMetrics) merge(labels map[string]string) map[string]string {
	if len(m.constant) == 0 {
		return labels
	}

	merged := make(map[string]string, len(labels)+len(m.constant))
	for k, v := range m.constant {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return merged
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(name)
	for _, label := range labelNames(labels) {
		b.WriteByte('|')
		b.WriteString(label)
		b.WriteByte('=')
		b.WriteString(labels[label])
	}
	return b.String()
}

// atomicFloat stores a float64 as bits so updates need no lock.
type atomicFloat struct {
	bits uint64
}

func (f *atomicFloat) Add(delta float64) {
	for {
		old := atomic.LoadUint64(&f.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&f.bits, old, next) {
			return
		}
	}
}

func (f *atomicFloat) Store(value float64) {
	atomic.StoreUint64(&f.bits, math.Float64bits(value))
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(&f.bits))
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  atomicFloat
}

func (c *MemoryCounter) Inc() {
	c.value.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	c.value.Add(value)
}

func (c *MemoryCounter) Get() float64 {
	return c.value.Load()
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  atomicFloat
}

func (g *MemoryGauge) Set(value float64) {
	g.value.Store(value)
}

func (g *MemoryGauge) Inc() {
	g.value.Add(1)
}

func (g *MemoryGauge) Dec() {
	g.value.Add(-1)
}

func (g *MemoryGauge) Add(value float64) {
	g.value.Add(value)
}

func (g *MemoryGauge) Sub(value float64) {
	g.value.Add(-value)
}

func (g *MemoryGauge) Get() float64 {
	return g.value.Load()
}

type MemoryHistogram struct {
	name   string
	labels map[string]string
	count  uint64
	sum    atomicFloat
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	h.sum.Add(value)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return h.sum.Load()
}
