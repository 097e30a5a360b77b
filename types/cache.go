package types

import (
	"context"
	"time"
)

type Strategy string

const (
	StrategyMemoryOnly           Strategy = "memory_only"
	StrategyPersistentOnly       Strategy = "persistent_only"
	StrategyMemoryThenPersistent Strategy = "memory_then_persistent"
	StrategyPersistentThenMemory Strategy = "persistent_then_memory"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyMemoryOnly, StrategyPersistentOnly, StrategyMemoryThenPersistent, StrategyPersistentThenMemory:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// CacheEntry is the unit stored by every cache tier. Timestamp and TTL are
// kept as time values in memory and as epoch milliseconds on disk.
type CacheEntry struct {
	Data         interface{}
	Timestamp    time.Time
	TTL          time.Duration
	Tags         []string
	Version      string
	Priority     Priority
	HitCount     uint64
	LastAccessed time.Time
}

// IsLive reports whether now - timestamp <= ttl.
func (e *CacheEntry) IsLive(now time.Time) bool {
	return now.Sub(e.Timestamp) <= e.TTL
}

func (e *CacheEntry) ExpiresAt() time.Time {
	return e.Timestamp.Add(e.TTL)
}

func (e *CacheEntry) HasAnyTag(tags map[string]struct{}) bool {
	for _, tag := range e.Tags {
		if _, ok := tags[tag]; ok {
			return true
		}
	}
	return false
}

type SetOptions struct {
	TTL      time.Duration
	Tags     []string
	Version  string
	Priority Priority
	Strategy Strategy
}

type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Deletes   uint64  `json:"deletes"`
	Evictions uint64  `json:"evictions"`
	Size      int64   `json:"size"`
	ItemCount int     `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

type CacheManagerStats struct {
	Memory     CacheStats `json:"memory"`
	Persistent CacheStats `json:"persistent"`
	Session    CacheStats `json:"session"`
}

// HitRate returns hits/(hits+misses), or 0 before any access.
func HitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// MemoryStore is the in-process tier. Its methods never block on I/O.
type MemoryStore interface {
	Get(key string) (interface{}, bool)
	Set(key string, data interface{}, opts SetOptions)
	Delete(key string) bool
	Has(key string) bool
	Clear()
	// Update applies fn to the live value under key atomically and stores
	// the result. A fresh entry gets ttl; an existing one keeps its expiry.
	Update(key string, ttl time.Duration, fn func(current interface{}, found bool) interface{}) interface{}
	InvalidateByTags(tags ...string) int
	Cleanup() int
	GetStats() CacheStats
}

// Loader fetches a value from the source of truth on a cache miss.
type Loader func(ctx context.Context) (interface{}, error)

type CacheManager interface {
	LifecycleManager
	Get(ctx context.Context, key string, strategy ...Strategy) (interface{}, bool)
	Set(ctx context.Context, key string, data interface{}, opts SetOptions)
	Delete(ctx context.Context, key string) bool
	Has(ctx context.Context, key string) bool
	Clear(ctx context.Context)
	InvalidateByTags(ctx context.Context, tags ...string) int
	GetOrLoad(ctx context.Context, key string, loader Loader, opts SetOptions) (interface{}, error)
	SetSession(ctx context.Context, key string, data interface{}, ttl time.Duration)
	GetSession(ctx context.Context, key string) (interface{}, bool)
	DeleteSession(ctx context.Context, key string) bool
	StartPeriodicCleanup(interval time.Duration) error
	StopPeriodicCleanup()
	Cleanup(ctx context.Context) int
	GetStats(ctx context.Context) CacheManagerStats
	Memory() MemoryStore
}
