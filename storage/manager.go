package storage

import (
	"context"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
)

var customStorageCreators = make(map[string]types.StorageCreator)

// RegisterStorage makes a custom substrate selectable by storage.type.
func RegisterStorage(storageType string, creator types.StorageCreator) {
	customStorageCreators[storageType] = creator
}

func NewStorage(ctx context.Context, config *types.StorageConfig, logger types.Logger, metrics types.MetricsManager) (types.Storage, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	var impl types.Storage
	var err error

	switch config.Type {
	case "memory":
		impl, err = NewMemoryStorage(logger, config)
	case "clover":
		impl, err = NewCloverStorage(logger, config)
	case "sqlite":
		impl, err = NewSQLiteStorage(ctx, logger, config)
	case "redis":
		impl, err = NewRedisStorage(ctx, logger, config)
	default:
		if creator, exists := customStorageCreators[config.Type]; exists {
			impl, err = creator(config.Config)
		} else {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", config.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStorage(config.Type, metrics, impl), nil
}

type instrumentedStorage struct {
	impl    types.Storage
	backend string
	metrics types.MetricsManager
}

func newInstrumentedStorage(backend string, metrics types.MetricsManager, impl types.Storage) types.Storage {
	return &instrumentedStorage{
		impl:    impl,
		backend: backend,
		metrics: metrics,
	}
}

func (s *instrumentedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, found, err := s.impl.Get(ctx, key)

	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case !found:
		result = "miss"
	}

	s.recordMetric("get", result, start)
	return value, found, err
}

func (s *instrumentedStorage) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.impl.Set(ctx, key, value)
	s.recordMetric("set", resultOf(err), start)
	return err
}

func (s *instrumentedStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.impl.Delete(ctx, key)
	s.recordMetric("delete", resultOf(err), start)
	return err
}

func (s *instrumentedStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.impl.Keys(ctx, prefix)
	s.recordMetric("keys", resultOf(err), start)
	return keys, err
}

func (s *instrumentedStorage) Ping(ctx context.Context) error {
	return s.impl.Ping(ctx)
}

func (s *instrumentedStorage) Close() error {
	return s.impl.Close()
}

func (s *instrumentedStorage) recordMetric(operation, result string, start time.Time) {
	s.metrics.Counter("storage_operations_total", map[string]string{
		"backend":   s.backend,
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram("storage_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"backend": s.backend, "operation": operation},
	).ObserveDuration(start)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case types.IsError(err, types.ErrStorageQuotaExceeded):
		return "quota"
	default:
		return "error"
	}
}
