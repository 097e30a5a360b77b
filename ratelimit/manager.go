package ratelimit

import (
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

const cleanupJobName = "ratelimit_cleanup"

type Stats struct {
	Blocked        int `json:"blocked"`
	TokenBuckets   int `json:"token_buckets"`
	SlidingWindows int `json:"sliding_windows"`
}

// Manager answers rate-limit checks with one of three algorithms and keeps
// an in-memory blocklist of identifiers that tripped a limit with a block
// duration. Blocks do not survive a restart.
type Manager struct {
	config           *types.RateLimitConfigSection
	logger           types.Logger
	metrics          types.MetricsManager
	scheduler        types.CronManager
	clock            utils.Clock
	tokenBucket      *TokenBucket
	slidingWindow    *SlidingWindow
	fixedWindow      *FixedWindow
	presets          map[string]types.RateLimitConfig
	defaultAlgorithm types.Algorithm
	blocks           map[string]time.Time
	blocksMu         sync.Mutex
	cleanupMu        sync.Mutex
	state            atomic.Value
}

type Option func(*Manager)

func WithClock(clock utils.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithScheduler(scheduler types.CronManager) Option {
	return func(m *Manager) {
		m.scheduler = scheduler
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager builds a manager whose fixed-window counters live in store.
func NewManager(store types.MemoryStore, config *types.RateLimitConfigSection, logger types.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "rate limit store is nil")
	}

	if config == nil {
		config = &types.RateLimitConfigSection{}
	}

	m := &Manager{
		config:           config,
		logger:           logger,
		clock:            utils.SystemClock,
		presets:          Presets(),
		defaultAlgorithm: types.AlgorithmSlidingWindow,
		blocks:           make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(m)
	}

	for name, preset := range config.Presets {
		m.presets[name] = preset
	}

	switch config.DefaultAlgorithm {
	case "":
	case types.AlgorithmTokenBucket, types.AlgorithmSlidingWindow, types.AlgorithmFixedWindow:
		m.defaultAlgorithm = config.DefaultAlgorithm
	default:
		logger.Warn("Unknown default rate limit algorithm, using sliding window",
			zap.String("algorithm", string(config.DefaultAlgorithm)))
	}

	m.tokenBucket = NewTokenBucket(m.clock)
	m.slidingWindow = NewSlidingWindow(m.clock)
	m.fixedWindow = NewFixedWindow(store, m.clock)

	m.state.Store(StateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if m.config.CleanupInterval > 0 && m.scheduler != nil {
		if err := m.StartPeriodicCleanup(m.config.CleanupInterval); err != nil {
			m.setState(StateStopped)
			return err
		}
	}

	m.setState(StateRunning)
	m.logger.Info("Rate limit manager started",
		zap.String("default_algorithm", string(m.defaultAlgorithm)),
		zap.Int("presets", len(m.presets)))

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	m.StopPeriodicCleanup()
	m.setState(StateStopped)

	m.logger.Info("Rate limit manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// Check consumes one unit for config.Identifier. A denial is a normal
// result, never an error.
func (m *Manager) Check(config types.RateLimitConfig) types.RateLimitResult {
	now := m.clock()

	if until, blocked := m.blockedUntil(config.Identifier, now); blocked {
		m.record("blocked", "denied")
		return types.RateLimitResult{
			Success:    false,
			Limit:      config.Limit,
			Remaining:  0,
			Reset:      until,
			RetryAfter: types.RoundRetryAfter(until.Sub(now)),
		}
	}

	if config.Window <= 0 {
		m.logger.Warn("Rate limit config without a window, allowing request",
			zap.String("identifier", config.Identifier))
		return types.RateLimitResult{Success: true, Limit: config.Limit, Remaining: config.Limit, Reset: now}
	}

	algorithm := m.resolve(config.Algorithm)

	var result types.RateLimitResult
	switch {
	case config.Limit <= 0:
		m.logger.Warn("Rate limit config without a positive limit, denying request",
			zap.String("identifier", config.Identifier),
			zap.Int("limit", config.Limit))
		result = types.RateLimitResult{
			Success:    false,
			Limit:      config.Limit,
			Reset:      now.Add(config.Window),
			RetryAfter: types.RoundRetryAfter(config.Window),
		}
	case algorithm == types.AlgorithmTokenBucket:
		result = m.tokenBucket.Check(config)
	case algorithm == types.AlgorithmFixedWindow:
		result = m.fixedWindow.Check(config)
	default:
		result = m.slidingWindow.Check(config)
	}

	if result.Success {
		m.record(string(algorithm), "allowed")
		return result
	}

	m.record(string(algorithm), "denied")

	if config.BlockDuration > 0 {
		until := now.Add(config.BlockDuration)
		m.block(config.Identifier, until)

		result.Reset = until
		result.RetryAfter = types.RoundRetryAfter(config.BlockDuration)

		m.logger.Warn("Identifier blocked after exceeding rate limit",
			zap.String("identifier", config.Identifier),
			zap.Int("limit", config.Limit),
			zap.Duration("window", config.Window),
			zap.Duration("block_duration", config.BlockDuration))
	}

	return result
}

// CheckPreset runs Check with the named preset bound to identifier.
func (m *Manager) CheckPreset(name, identifier string) (types.RateLimitResult, error) {
	config, err := m.Preset(name, identifier)
	if err != nil {
		return types.RateLimitResult{}, err
	}
	return m.Check(config), nil
}

func (m *Manager) Preset(name, identifier string) (types.RateLimitConfig, error) {
	preset, ok := m.presets[name]
	if !ok {
		return types.RateLimitConfig{}, types.Errorf(types.ErrRateLimitPresetUnknown, "preset: %s", name)
	}
	return preset.WithIdentifier(identifier), nil
}

func (m *Manager) Presets() map[string]types.RateLimitConfig {
	presets := make(map[string]types.RateLimitConfig, len(m.presets))
	for name, preset := range m.presets {
		presets[name] = preset
	}
	return presets
}

func (m *Manager) IsBlocked(identifier string) bool {
	_, blocked := m.blockedUntil(identifier, m.clock())
	return blocked
}

func (m *Manager) Unblock(identifier string) bool {
	m.blocksMu.Lock()
	defer m.blocksMu.Unlock()

	if _, exists := m.blocks[identifier]; !exists {
		return false
	}

	delete(m.blocks, identifier)
	m.logger.Info("Identifier unblocked", zap.String("identifier", identifier))
	return true
}

// Reset forgets everything known about config.Identifier: its block, its
// token bucket, its sliding window and its current fixed-window counter.
func (m *Manager) Reset(config types.RateLimitConfig) {
	m.Unblock(config.Identifier)
	m.tokenBucket.Forget(config.Identifier)
	m.slidingWindow.Forget(config.Identifier)
	if config.Window > 0 {
		m.fixedWindow.Forget(config)
	}
}

// Cleanup removes expired blocks and idle limiter state.
func (m *Manager) Cleanup() int {
	now := m.clock()

	m.blocksMu.Lock()
	expired := 0
	for identifier, until := range m.blocks {
		if !now.Before(until) {
			delete(m.blocks, identifier)
			expired++
		}
	}
	m.blocksMu.Unlock()

	buckets := m.tokenBucket.Cleanup()
	windows := m.slidingWindow.Cleanup()
	total := expired + buckets + windows + m.fixedWindow.Cleanup()

	if total > 0 {
		m.logger.Debug("Rate limit cleanup completed",
			zap.Int("blocks", expired),
			zap.Int("token_buckets", buckets),
			zap.Int("sliding_windows", windows))
	}

	return total
}

// StartPeriodicCleanup schedules Cleanup. A second call replaces the
// schedule instead of adding another one.
func (m *Manager) StartPeriodicCleanup(interval time.Duration) error {
	if interval <= 0 {
		return types.Errorf(types.ErrInvalidParameter, "cleanup interval must be positive, got %v", interval)
	}

	if m.scheduler == nil {
		return types.Errorf(types.ErrCronSchedulerStopped, "no scheduler configured for rate limit cleanup")
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	if m.scheduler.Has(cleanupJobName) {
		if err := m.scheduler.Remove(cleanupJobName); err != nil {
			return err
		}
	}

	return m.scheduler.Add(cleanupJobName, cron.Every(interval), func() {
		m.Cleanup()
	})
}

func (m *Manager) StopPeriodicCleanup() {
	if m.scheduler == nil {
		return
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	if m.scheduler.Has(cleanupJobName) {
		if err := m.scheduler.Remove(cleanupJobName); err != nil {
			m.logger.Warn("Failed to stop rate limit cleanup", zap.Error(err))
		}
	}
}

func (m *Manager) Stats() Stats {
	now := m.clock()

	m.blocksMu.Lock()
	blocked := 0
	for _, until := range m.blocks {
		if now.Before(until) {
			blocked++
		}
	}
	m.blocksMu.Unlock()

	return Stats{
		Blocked:        blocked,
		TokenBuckets:   m.tokenBucket.Len(),
		SlidingWindows: m.slidingWindow.Len(),
	}
}

func (m *Manager) resolve(algorithm types.Algorithm) types.Algorithm {
	switch algorithm {
	case "":
		return m.defaultAlgorithm
	case types.AlgorithmTokenBucket, types.AlgorithmSlidingWindow, types.AlgorithmFixedWindow:
		return algorithm
	default:
		m.logger.Warn("Unknown rate limit algorithm, using sliding window",
			zap.String("algorithm", string(algorithm)))
		return types.AlgorithmSlidingWindow
	}
}

// blockedUntil reports the unblock time when identifier is blocked at now.
// A block ends exactly at its unblock time.
func (m *Manager) blockedUntil(identifier string, now time.Time) (time.Time, bool) {
	m.blocksMu.Lock()
	defer m.blocksMu.Unlock()

	until, exists := m.blocks[identifier]
	if !exists {
		return time.Time{}, false
	}

	if !now.Before(until) {
		delete(m.blocks, identifier)
		return time.Time{}, false
	}

	return until, true
}

func (m *Manager) block(identifier string, until time.Time) {
	m.blocksMu.Lock()
	m.blocks[identifier] = until
	m.blocksMu.Unlock()

	if m.metrics != nil {
		m.metrics.Counter("ratelimit_blocks_total", nil).Inc()
	}
}

func (m *Manager) record(algorithm, result string) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("ratelimit_checks_total", map[string]string{
		"algorithm": algorithm,
		"result":    result,
	}).Inc()
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
