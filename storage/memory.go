package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type MemoryConfig struct {
	// MaxBytes bounds the sum of key and value lengths. Zero means unbounded.
	MaxBytes int64 `json:"max_bytes"`
}

// MemoryStorage is a process-local substrate with an optional byte quota.
// It backs tests and single-node setups.
type MemoryStorage struct {
	logger types.Logger
	config *MemoryConfig
	data   map[string]string
	bytes  int64
	closed int32
	mu     sync.RWMutex
}

func NewMemoryStorage(logger types.Logger, config *types.StorageConfig) (*MemoryStorage, error) {
	memConfig := &MemoryConfig{}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory storage config")
		}
	}

	logger.Debug("Memory storage created", zap.Int64("max_bytes", memConfig.MaxBytes))

	return &MemoryStorage{
		logger: logger,
		config: memConfig,
		data:   make(map[string]string),
	}, nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	if m.isClosed() {
		return "", false, types.ErrStorageClosed
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	return value, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	if m.isClosed() {
		return types.ErrStorageClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delta := int64(len(value))
	if old, exists := m.data[key]; exists {
		delta -= int64(len(old))
	} else {
		delta += int64(len(key))
	}

	if m.config.MaxBytes > 0 && m.bytes+delta > m.config.MaxBytes {
		return types.Errorf(types.ErrStorageQuotaExceeded, "used %d of %d bytes", m.bytes, m.config.MaxBytes)
	}

	m.data[key] = value
	m.bytes += delta
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	if m.isClosed() {
		return types.ErrStorageClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.data[key]; exists {
		m.bytes -= int64(len(key) + len(old))
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	if m.isClosed() {
		return nil, types.ErrStorageClosed
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) Ping(context.Context) error {
	if m.isClosed() {
		return types.ErrStorageClosed
	}
	return nil
}

func (m *MemoryStorage) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}

	m.mu.Lock()
	m.data = make(map[string]string)
	m.bytes = 0
	m.mu.Unlock()

	return nil
}

// UsedBytes reports the bytes currently counted against the quota.
func (m *MemoryStorage) UsedBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

func (m *MemoryStorage) isClosed() bool {
	return atomic.LoadInt32(&m.closed) == 1
}
