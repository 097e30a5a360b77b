package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/cron"
	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const cleanupJobName = "cache_cleanup"

// Manager routes calls to a memory tier, a persistent tier and a session
// tier. It owns no entries itself.
type Manager struct {
	config     *types.CacheConfig
	logger     types.Logger
	scheduler  types.CronManager
	memory     *MemoryCache
	persistent *PersistentCache
	session    *PersistentCache
	strategy   types.Strategy
	state      atomic.Value
	cleanupMu  sync.Mutex

	// run scopes scheduled cleanups. Stop cancels it and Start renews it.
	runMu     sync.Mutex
	run       context.Context
	cancelRun context.CancelFunc
	parent    context.Context
}

type ManagerOption func(*managerOptions)

type managerOptions struct {
	clock utils.Clock
}

func WithManagerClock(clock utils.Clock) ManagerOption {
	return func(o *managerOptions) {
		o.clock = clock
	}
}

func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, storage types.Storage, scheduler types.CronManager) (types.CacheManager, error) {
	manager, err := NewManager(ctx, config.GetConfig().Cache, logger, storage, scheduler)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return manager, nil
	}

	return newInstrumentedCacheManager(logger, metrics, manager), nil
}

func NewManager(ctx context.Context, config *types.CacheConfig, logger types.Logger, storage types.Storage, scheduler types.CronManager, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	if storage == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache storage is nil")
	}

	options := &managerOptions{clock: utils.SystemClock}
	for _, opt := range opts {
		opt(options)
	}

	strategy := config.Strategy
	if strategy == "" {
		strategy = types.StrategyMemoryThenPersistent
	}
	if !strategy.Valid() {
		return nil, types.Errorf(types.ErrCacheStrategyUnknown, "strategy: %s", strategy)
	}

	defaultTTL := config.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	sessionTTL := config.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	sessionPrefix := config.SessionKeyPrefix
	if sessionPrefix == "" {
		sessionPrefix = DefaultSessionKeyPrefix
	}

	if hasPrefixOverlap(prefix, sessionPrefix) {
		return nil, types.Errorf(types.ErrConfigValidateFailed,
			"cache key prefix %q and session key prefix %q overlap", prefix, sessionPrefix)
	}

	persistentOpts := []PersistentOption{
		WithPersistentClock(options.clock),
		WithOperationTimeout(config.OperationTimeout),
	}

	manager := &Manager{
		parent:     ctx,
		config:     config,
		logger:     logger,
		scheduler:  scheduler,
		memory:     NewMemoryCache(config.MaxSize, defaultTTL, WithClock(options.clock), WithLogger(logger)),
		persistent: NewPersistentCache(storage, prefix, defaultTTL, logger, persistentOpts...),
		session:    NewPersistentCache(storage, sessionPrefix, sessionTTL, logger, persistentOpts...),
		strategy:   strategy,
	}

	manager.resetRun()
	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.resetRun()

	if m.config.CleanupInterval > 0 && m.scheduler != nil {
		if err := m.StartPeriodicCleanup(m.config.CleanupInterval); err != nil {
			m.setState(StateStopped)
			return err
		}
	}

	m.setState(StateRunning)

	m.logger.Info("Cache manager started",
		zap.String("strategy", string(m.strategy)),
		zap.Int("max_size", m.memory.maxSize),
		zap.String("prefix", m.persistent.Prefix()),
		zap.String("session_prefix", m.session.Prefix()))

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	m.StopPeriodicCleanup()

	m.runMu.Lock()
	m.cancelRun()
	m.runMu.Unlock()
	m.setState(StateStopped)

	m.logger.Info("Cache manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) Memory() types.MemoryStore {
	return m.memory
}

func (m *Manager) Persistent() *PersistentCache {
	return m.persistent
}

func (m *Manager) Session() *PersistentCache {
	return m.session
}

func (m *Manager) Set(ctx context.Context, key string, data interface{}, opts types.SetOptions) {
	if key == "" {
		m.logger.Warn("Cache set called with empty key")
		return
	}

	if opts.TTL <= 0 {
		opts.TTL = m.memory.defaultTTL
	}

	switch m.resolve(opts.Strategy) {
	case types.StrategyMemoryOnly:
		m.memory.Set(key, data, opts)
	case types.StrategyPersistentOnly:
		m.persistent.Set(ctx, key, data, opts)
	case types.StrategyPersistentThenMemory:
		m.persistent.Set(ctx, key, data, opts)
		if opts.Priority == types.PriorityHigh {
			m.memory.Set(key, data, opts)
		}
	default:
		m.memory.Set(key, data, opts)
		if opts.Priority != types.PriorityLow {
			m.persistent.Set(ctx, key, data, opts)
		}
	}
}

func (m *Manager) Get(ctx context.Context, key string, strategy ...types.Strategy) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	var requested types.Strategy
	if len(strategy) > 0 {
		requested = strategy[0]
	}

	switch m.resolve(requested) {
	case types.StrategyMemoryOnly:
		return m.memory.Get(key)
	case types.StrategyPersistentOnly:
		return m.persistent.Get(ctx, key)
	case types.StrategyPersistentThenMemory:
		if value, ok := m.persistent.Get(ctx, key); ok {
			return value, true
		}
		return m.memory.Get(key)
	default:
		if value, ok := m.memory.Get(key); ok {
			return value, true
		}

		entry, ok := m.persistent.GetEntry(ctx, key)
		if !ok {
			return nil, false
		}

		// Promoted copies get a fresh default TTL in memory.
		m.memory.Set(key, entry.Data, types.SetOptions{
			Tags:    entry.Tags,
			Version: entry.Version,
		})
		return entry.Data, true
	}
}

// GetAs reads key and converts the value to T. Values coming back from the
// persistent tier are generic JSON shapes; GetAs re-decodes them into T.
func GetAs[T any](ctx context.Context, m types.CacheManager, key string, strategy ...types.Strategy) (T, bool) {
	var result T

	value, ok := m.Get(ctx, key, strategy...)
	if !ok {
		return result, false
	}

	if err := utils.Convert(value, &result); err != nil {
		return result, false
	}
	return result, true
}

// GetOrLoad returns the cached value or calls loader and caches its result.
// Concurrent misses each call loader; there is no request coalescing.
func (m *Manager) GetOrLoad(ctx context.Context, key string, loader types.Loader, opts types.SetOptions) (interface{}, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	if value, ok := m.Get(ctx, key, opts.Strategy); ok {
		return value, nil
	}

	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	m.Set(ctx, key, value, opts)
	return value, nil
}

func (m *Manager) Delete(ctx context.Context, key string) bool {
	deletedMemory := m.memory.Delete(key)
	deletedPersistent := m.persistent.Delete(ctx, key)
	return deletedMemory || deletedPersistent
}

func (m *Manager) Has(ctx context.Context, key string) bool {
	return m.memory.Has(key) || m.persistent.Has(ctx, key)
}

// Clear empties every tier. The memory tier also holds the rate limiter's
// fixed-window counters, so those restart from zero as well.
func (m *Manager) Clear(ctx context.Context) {
	m.memory.Clear()
	m.persistent.Clear(ctx)
	m.session.Clear(ctx)
}

func (m *Manager) InvalidateByTags(ctx context.Context, tags ...string) int {
	removed := m.memory.InvalidateByTags(tags...)
	removed += m.persistent.InvalidateByTags(ctx, tags...)

	if removed > 0 {
		m.logger.Debug("Cache entries invalidated by tags",
			zap.Strings("tags", tags),
			zap.Int("removed", removed))
	}

	return removed
}

func (m *Manager) SetSession(ctx context.Context, key string, data interface{}, ttl time.Duration) {
	m.session.Set(ctx, key, data, types.SetOptions{TTL: ttl})
}

func (m *Manager) GetSession(ctx context.Context, key string) (interface{}, bool) {
	return m.session.Get(ctx, key)
}

func (m *Manager) DeleteSession(ctx context.Context, key string) bool {
	return m.session.Delete(ctx, key)
}

// StartPeriodicCleanup schedules a sweep of every tier. Calling it again
// replaces the existing schedule rather than adding a second one.
func (m *Manager) StartPeriodicCleanup(interval time.Duration) error {
	if interval <= 0 {
		return types.Errorf(types.ErrInvalidParameter, "cleanup interval must be positive, got %v", interval)
	}

	if m.scheduler == nil {
		return types.Errorf(types.ErrCronSchedulerStopped, "no scheduler configured for cache cleanup")
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	if m.scheduler.Has(cleanupJobName) {
		if err := m.scheduler.Remove(cleanupJobName); err != nil {
			return err
		}
	}

	return m.scheduler.Add(cleanupJobName, cron.Every(interval), func() {
		m.Cleanup(m.runContext())
	})
}

func (m *Manager) StopPeriodicCleanup() {
	if m.scheduler == nil {
		return
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	if !m.scheduler.Has(cleanupJobName) {
		return
	}

	if err := m.scheduler.Remove(cleanupJobName); err != nil {
		m.logger.Warn("Failed to stop cache cleanup", zap.Error(err))
	}
}

func (m *Manager) Cleanup(ctx context.Context) int {
	memoryRemoved := m.memory.Cleanup()
	persistentRemoved := m.persistent.Cleanup(ctx)
	sessionRemoved := m.session.Cleanup(ctx)

	total := memoryRemoved + persistentRemoved + sessionRemoved
	if total > 0 {
		m.logger.Info("Cache cleanup completed",
			zap.Int("memory", memoryRemoved),
			zap.Int("persistent", persistentRemoved),
			zap.Int("session", sessionRemoved))
	}

	return total
}

func (m *Manager) GetStats(ctx context.Context) types.CacheManagerStats {
	return types.CacheManagerStats{
		Memory:     m.memory.GetStats(),
		Persistent: m.persistent.GetStats(ctx),
		Session:    m.session.GetStats(ctx),
	}
}

func (m *Manager) resolve(strategy types.Strategy) types.Strategy {
	if strategy == "" {
		return m.strategy
	}

	if !strategy.Valid() {
		m.logger.Warn("Unknown cache strategy, using default",
			zap.String("strategy", string(strategy)),
			zap.String("default", string(m.strategy)))
		return m.strategy
	}

	return strategy
}

func (m *Manager) resetRun() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.run != nil && m.run.Err() == nil {
		return
	}
	m.run, m.cancelRun = context.WithCancel(m.parent)
}

func (m *Manager) runContext() context.Context {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.run
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func hasPrefixOverlap(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return b[:len(a)] == a
}
