package ratelimit

import (
	"math"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type bucketState struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// refill tops the bucket up for the time elapsed since the last check.
func (b *bucketState) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// TokenBucket allows bursts up to limit and refills limit tokens per window.
// Refill is computed lazily on each check; nothing runs in the background.
type TokenBucket struct {
	states *shardedStates[bucketState]
	clock  utils.Clock
}

func NewTokenBucket(clock utils.Clock) *TokenBucket {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &TokenBucket{
		states: newShardedStates[bucketState](),
		clock:  clock,
	}
}

func (tb *TokenBucket) Check(config types.RateLimitConfig) types.RateLimitResult {
	now := tb.clock()
	capacity := float64(config.Limit)
	refillRate := capacity / config.Window.Seconds()

	var result types.RateLimitResult

	tb.states.with(config.Identifier, func() *bucketState {
		return &bucketState{
			tokens:     capacity,
			capacity:   capacity,
			refillRate: refillRate,
			lastRefill: now,
		}
	}, func(b *bucketState) {
		b.refill(now)

		if b.capacity != capacity || b.refillRate != refillRate {
			b.capacity = capacity
			b.refillRate = refillRate
			b.tokens = math.Min(b.tokens, capacity)
		}

		result.Limit = config.Limit

		if b.tokens >= 1 {
			b.tokens--
			result.Success = true
			result.Remaining = int(math.Floor(b.tokens))
			result.Reset = now.Add(secondsToDuration((b.capacity - b.tokens) / b.refillRate))
			return
		}

		// A zero limit never refills; callers wait out a whole window.
		wait := config.Window
		if b.refillRate > 0 {
			wait = secondsToDuration((1 - b.tokens) / b.refillRate)
		}
		result.Remaining = 0
		result.Reset = now.Add(wait)
		result.RetryAfter = types.RoundRetryAfter(wait)
	})

	return result
}

// Cleanup drops buckets that have refilled completely. A full bucket
// behaves exactly like a new one.
func (tb *TokenBucket) Cleanup() int {
	now := tb.clock()
	return tb.states.sweep(func(b *bucketState) bool {
		b.refill(now)
		return b.tokens >= b.capacity
	})
}

func (tb *TokenBucket) Forget(identifier string) bool {
	return tb.states.delete(identifier)
}

func (tb *TokenBucket) Len() int {
	return tb.states.count()
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}
