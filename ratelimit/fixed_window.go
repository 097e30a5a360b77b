package ratelimit

import (
	"fmt"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

// FixedWindow counts requests per window aligned to the Unix epoch. The
// counters live in a shared memory cache with a TTL of two windows, so old
// windows expire without a sweep of their own. Up to 2*limit requests can
// pass around a window boundary.
type FixedWindow struct {
	store types.MemoryStore
	clock utils.Clock
}

func NewFixedWindow(store types.MemoryStore, clock utils.Clock) *FixedWindow {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &FixedWindow{
		store: store,
		clock: clock,
	}
}

func WindowStart(now time.Time, window time.Duration) time.Time {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return now
	}
	nowMs := utils.EpochMillis(now)
	return utils.FromEpochMillis(nowMs - nowMs%windowMs)
}

func WindowKey(identifier string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", identifier, utils.EpochMillis(windowStart))
}

func (fw *FixedWindow) Check(config types.RateLimitConfig) types.RateLimitResult {
	now := fw.clock()
	start := WindowStart(now, config.Window)
	reset := start.Add(config.Window)

	allowed := false
	value := fw.store.Update(WindowKey(config.Identifier, start), 2*config.Window, func(current interface{}, found bool) interface{} {
		count := 0
		if found {
			count, _ = current.(int)
		}
		if count < config.Limit {
			allowed = true
			count++
		}
		return count
	})

	count, _ := value.(int)

	result := types.RateLimitResult{
		Success:   allowed,
		Limit:     config.Limit,
		Remaining: max(config.Limit-count, 0),
		Reset:     reset,
	}

	if !allowed {
		result.RetryAfter = types.RoundRetryAfter(reset.Sub(now))
	}

	return result
}

// Cleanup is a no-op; counters expire through the cache TTL.
func (fw *FixedWindow) Cleanup() int {
	return 0
}

// Forget removes the counter for the window containing now.
func (fw *FixedWindow) Forget(config types.RateLimitConfig) bool {
	return fw.store.Delete(WindowKey(config.Identifier, WindowStart(fw.clock(), config.Window)))
}
