package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

// NewManager builds the configured metrics backend. A disabled or missing
// metrics section yields a no-op manager so callers never nil-check.
func NewManager(_ context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil || !metricsConfig.Enabled {
		logger.Info("Metrics disabled")
		return NewNop(), nil
	}

	var manager types.MetricsManager
	var err error

	switch metricsConfig.Type {
	case "memory":
		manager = NewMemoryMetrics(logger, metricsConfig)
	case "prometheus":
		manager, err = NewPrometheusMetrics(logger, metricsConfig)
	default:
		if creator, exists := customMetricsCreators.Load(metricsConfig.Type); exists {
			manager, err = creator.(types.MetricsManagerCreator)(metricsConfig)
		} else {
			return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
		}
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	logger.Info("Metrics manager initialized", zap.String("type", metricsConfig.Type))
	return manager, nil
}

type nopMetrics struct{}

func NewNop() types.MetricsManager {
	return nopMetrics{}
}

func (nopMetrics) Start() error    { return nil }
func (nopMetrics) Stop() error     { return nil }
func (nopMetrics) IsRunning() bool { return true }

func (nopMetrics) Counter(string, map[string]string) types.Counter {
	return emptyCounter{}
}

func (nopMetrics) Gauge(string, map[string]string) types.Gauge {
	return emptyGauge{}
}

func (nopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return emptyHistogram{}
}

func (nopMetrics) Handler() http.Handler {
	return http.NotFoundHandler()
}

type emptyCounter struct{}

func (emptyCounter) Inc()          {}
func (emptyCounter) Add(_ float64) {}
func (emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (emptyGauge) Set(_ float64) {}
func (emptyGauge) Inc()          {}
func (emptyGauge) Dec()          {}
func (emptyGauge) Add(_ float64) {}
func (emptyGauge) Sub(_ float64) {}
func (emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (emptyHistogram) Observe(_ float64)           {}
func (emptyHistogram) ObserveDuration(_ time.Time) {}
func (emptyHistogram) GetCount() uint64            { return 0 }
func (emptyHistogram) GetSum() float64             { return 0 }
