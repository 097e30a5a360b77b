package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-ratecache/cache"
	"github.com/saiset-co/sai-ratecache/cron"
	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/metrics"
	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

func newTestManager(t *testing.T, section *types.RateLimitConfigSection, opts ...Option) (*Manager, *utils.ManualClock) {
	t.Helper()

	clock := utils.NewManualClock(aligned)
	store := cache.NewMemoryCache(1000, time.Minute, cache.WithClock(clock.Now))

	m, err := NewManager(store, section, logger.NewNop(), append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return m, clock
}

func TestManagerHardBlock(t *testing.T) {
	m, clock := newTestManager(t, nil)

	for i := 0; i < 5; i++ {
		result, err := m.CheckPreset(PresetAuth, "auth:10.0.0.1")
		require.NoError(t, err)
		require.True(t, result.Success)
	}

	result, err := m.CheckPreset(PresetAuth, "auth:10.0.0.1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, time.Hour, result.RetryAfter)
	require.Equal(t, aligned.Add(time.Hour), result.Reset)
	require.Equal(t, 3600, result.RetryAfterSeconds())
	require.True(t, m.IsBlocked("auth:10.0.0.1"))

	clock.Advance(30 * time.Minute)
	result, _ = m.CheckPreset(PresetAuth, "auth:10.0.0.1")
	require.False(t, result.Success, "blocked even though the fixed window rolled over")
	require.Equal(t, 30*time.Minute, result.RetryAfter)

	other, _ := m.CheckPreset(PresetAuth, "auth:10.0.0.2")
	require.True(t, other.Success, "blocks are per identifier")

	clock.Advance(30 * time.Minute)
	require.False(t, m.IsBlocked("auth:10.0.0.1"), "a block ends exactly at its unblock time")
	result, _ = m.CheckPreset(PresetAuth, "auth:10.0.0.1")
	require.True(t, result.Success)
}

func TestManagerUnblock(t *testing.T) {
	m, _ := newTestManager(t, nil)

	config := types.RateLimitConfig{Identifier: "mail", Limit: 1, Window: time.Hour, Algorithm: types.AlgorithmSlidingWindow, BlockDuration: time.Hour}

	require.True(t, m.Check(config).Success)
	require.False(t, m.Check(config).Success)
	require.True(t, m.IsBlocked("mail"))

	require.True(t, m.Unblock("mail"))
	require.False(t, m.Unblock("mail"))
	require.False(t, m.IsBlocked("mail"))

	require.False(t, m.Check(config).Success, "unblocking does not reset the window")

	m.Reset(config)
	require.True(t, m.Check(config).Success)
}

func TestManagerResetFixedWindow(t *testing.T) {
	m, _ := newTestManager(t, nil)
	config := types.RateLimitConfig{Identifier: "f", Limit: 1, Window: time.Minute, Algorithm: types.AlgorithmFixedWindow}

	require.True(t, m.Check(config).Success)
	require.False(t, m.Check(config).Success)
	require.False(t, m.IsBlocked("f"), "no block without a block duration")

	m.Reset(config)
	require.True(t, m.Check(config).Success)
}

func TestManagerPresets(t *testing.T) {
	m, _ := newTestManager(t, &types.RateLimitConfigSection{
		Presets: map[string]types.RateLimitConfig{
			PresetAPI: {Limit: 1, Window: time.Minute},
			"burst":   {Limit: 2, Window: time.Second, Algorithm: types.AlgorithmTokenBucket},
		},
	})

	presets := m.Presets()
	require.Len(t, presets, 7)
	require.Equal(t, 1, presets[PresetAPI].Limit)
	require.Equal(t, 5, presets[PresetAuth].Limit)

	config, err := m.Preset("burst", "id")
	require.NoError(t, err)
	require.Equal(t, "id", config.Identifier)

	_, err = m.CheckPreset("nope", "id")
	require.ErrorIs(t, err, types.ErrRateLimitPresetUnknown)

	presets[PresetAPI] = types.RateLimitConfig{}
	require.Equal(t, 1, m.Presets()[PresetAPI].Limit, "Presets returns a copy")
}

func TestBuiltInPresets(t *testing.T) {
	presets := Presets()

	expected := map[string]types.RateLimitConfig{
		PresetAPI:    {Limit: 100, Window: 15 * time.Minute, Algorithm: types.AlgorithmSlidingWindow},
		PresetAuth:   {Limit: 5, Window: 15 * time.Minute, Algorithm: types.AlgorithmFixedWindow, BlockDuration: time.Hour},
		PresetUpload: {Limit: 10, Window: time.Hour, Algorithm: types.AlgorithmTokenBucket, BlockDuration: 15 * time.Minute},
		PresetSearch: {Limit: 30, Window: time.Minute, Algorithm: types.AlgorithmSlidingWindow},
		PresetCreate: {Limit: 20, Window: time.Hour, Algorithm: types.AlgorithmFixedWindow, BlockDuration: 30 * time.Minute},
		PresetEmail:  {Limit: 3, Window: time.Hour, Algorithm: types.AlgorithmFixedWindow, BlockDuration: 2 * time.Hour},
	}
	require.Equal(t, expected, presets)
}

func TestManagerAlgorithmFallbacks(t *testing.T) {
	m, _ := newTestManager(t, &types.RateLimitConfigSection{DefaultAlgorithm: types.AlgorithmTokenBucket})

	m.Check(types.RateLimitConfig{Identifier: "tb", Limit: 5, Window: time.Minute})
	require.Equal(t, 1, m.Stats().TokenBuckets)

	m.Check(types.RateLimitConfig{Identifier: "sw", Limit: 5, Window: time.Minute, Algorithm: "leaky"})
	require.Equal(t, 1, m.Stats().SlidingWindows, "unknown algorithms use the sliding window")

	result := m.Check(types.RateLimitConfig{Identifier: "nowin", Limit: 0})
	require.True(t, result.Success, "a config without a window never limits")
}

func TestManagerCleanup(t *testing.T) {
	m, clock := newTestManager(t, nil)

	m.Check(types.RateLimitConfig{Identifier: "tb", Limit: 5, Window: time.Second, Algorithm: types.AlgorithmTokenBucket})
	m.Check(types.RateLimitConfig{Identifier: "sw", Limit: 5, Window: time.Second, Algorithm: types.AlgorithmSlidingWindow})

	blocked := types.RateLimitConfig{Identifier: "b", Limit: 0, Window: time.Second, BlockDuration: time.Second}
	require.False(t, m.Check(blocked).Success)

	stats := m.Stats()
	require.Equal(t, Stats{Blocked: 1, TokenBuckets: 1, SlidingWindows: 1}, stats)

	clock.Advance(time.Minute)
	require.Equal(t, 3, m.Cleanup())
	require.Equal(t, Stats{}, m.Stats())
}

func TestManagerNegativeLimitDenies(t *testing.T) {
	algorithms := []types.Algorithm{
		types.AlgorithmTokenBucket,
		types.AlgorithmSlidingWindow,
		types.AlgorithmFixedWindow,
	}

	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			m, _ := newTestManager(t, nil)
			config := types.RateLimitConfig{Identifier: "neg", Limit: -1, Window: time.Second, Algorithm: algorithm}

			var result types.RateLimitResult
			require.NotPanics(t, func() { result = m.Check(config) })
			require.False(t, result.Success)
			require.Equal(t, -1, result.Limit)
			require.Zero(t, result.Remaining)
			require.Equal(t, time.Second, result.RetryAfter)
			require.Equal(t, aligned.Add(time.Second), result.Reset)
			require.Equal(t, Stats{}, m.Stats(), "a non-positive limit keeps no limiter state")

			config.BlockDuration = time.Minute
			result = m.Check(config)
			require.False(t, result.Success)
			require.Equal(t, time.Minute, result.RetryAfter)
			require.True(t, m.IsBlocked("neg"))
		})
	}
}

func TestManagerPeriodicCleanupIsIdempotent(t *testing.T) {
	scheduler, err := cron.NewManager(context.Background(), nil, logger.NewNop(), metrics.NewNop())
	require.NoError(t, err)

	m, _ := newTestManager(t, &types.RateLimitConfigSection{CleanupInterval: time.Minute}, WithScheduler(scheduler))

	require.NoError(t, m.Start())
	require.NoError(t, m.StartPeriodicCleanup(10*time.Second))
	require.NoError(t, m.StartPeriodicCleanup(10*time.Second))

	jobs := scheduler.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "@every 10s", jobs[cleanupJobName].Spec)

	require.NoError(t, m.Stop())
	require.False(t, scheduler.Has(cleanupJobName))
}

func TestManagerRecordsMetrics(t *testing.T) {
	registry := metrics.NewMemoryMetrics(logger.NewNop(), nil)
	m, _ := newTestManager(t, nil, WithMetrics(registry))

	config := types.RateLimitConfig{Identifier: "m", Limit: 1, Window: time.Minute, Algorithm: types.AlgorithmFixedWindow, BlockDuration: time.Minute}
	m.Check(config)
	m.Check(config)
	m.Check(config)

	require.Equal(t, float64(1), registry.Counter("ratelimit_checks_total", map[string]string{"algorithm": "fixed_window", "result": "allowed"}).Get())
	require.Equal(t, float64(1), registry.Counter("ratelimit_checks_total", map[string]string{"algorithm": "fixed_window", "result": "denied"}).Get())
	require.Equal(t, float64(1), registry.Counter("ratelimit_checks_total", map[string]string{"algorithm": "blocked", "result": "denied"}).Get())
	require.Equal(t, float64(1), registry.Counter("ratelimit_blocks_total", nil).Get())
}
