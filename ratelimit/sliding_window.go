package ratelimit

import (
	"time"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type windowState struct {
	// timestamps is ordered oldest first.
	timestamps []time.Time
	window     time.Duration
}

// prune drops every timestamp at or before now-window.
func (w *windowState) prune(now time.Time) {
	cutoff := now.Add(-w.window)

	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}

	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// SlidingWindow counts requests in the trailing window exactly, at the
// cost of one timestamp per admitted request.
type SlidingWindow struct {
	states *shardedStates[windowState]
	clock  utils.Clock
}

func NewSlidingWindow(clock utils.Clock) *SlidingWindow {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &SlidingWindow{
		states: newShardedStates[windowState](),
		clock:  clock,
	}
}

func (sw *SlidingWindow) Check(config types.RateLimitConfig) types.RateLimitResult {
	now := sw.clock()

	if config.Limit <= 0 {
		return types.RateLimitResult{
			Success:    false,
			Limit:      config.Limit,
			Reset:      now.Add(config.Window),
			RetryAfter: types.RoundRetryAfter(config.Window),
		}
	}

	var result types.RateLimitResult

	// timestamps grows with admitted requests, not with the limit.
	sw.states.with(config.Identifier, func() *windowState {
		return &windowState{window: config.Window}
	}, func(w *windowState) {
		w.window = config.Window
		w.prune(now)

		result.Limit = config.Limit

		if len(w.timestamps) < config.Limit {
			w.timestamps = append(w.timestamps, now)
			result.Success = true
			result.Remaining = config.Limit - len(w.timestamps)
			result.Reset = w.timestamps[0].Add(w.window)
			return
		}

		// The oldest request leaves the window at oldest+window; until then
		// the count cannot drop below the limit.
		oldest := w.timestamps[len(w.timestamps)-config.Limit]
		result.Reset = oldest.Add(w.window)
		result.RetryAfter = types.RoundRetryAfter(result.Reset.Sub(now))
	})

	return result
}

// Cleanup drops identifiers whose window has emptied.
func (sw *SlidingWindow) Cleanup() int {
	now := sw.clock()
	return sw.states.sweep(func(w *windowState) bool {
		w.prune(now)
		return len(w.timestamps) == 0
	})
}

func (sw *SlidingWindow) Forget(identifier string) bool {
	return sw.states.delete(identifier)
}

func (sw *SlidingWindow) Len() int {
	return sw.states.count()
}
