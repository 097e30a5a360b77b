package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const (
	DefaultKeyPrefix        = "sai_cache_"
	DefaultSessionKeyPrefix = "sai_session_"
	DefaultSessionTTL       = 30 * time.Minute
)

// PersistentCache keeps entries in a shared durable store under a fixed key
// prefix. It holds no entries in memory; every call goes to the store.
// Store failures are logged and reported to callers as misses.
type PersistentCache struct {
	storage    types.Storage
	prefix     string
	defaultTTL time.Duration
	timeout    time.Duration
	clock      utils.Clock
	logger     types.Logger

	hits    uint64
	misses  uint64
	sets    uint64
	deletes uint64
}

type PersistentOption func(*PersistentCache)

func WithPersistentClock(clock utils.Clock) PersistentOption {
	return func(p *PersistentCache) {
		p.clock = clock
	}
}

// WithOperationTimeout bounds each call into the store.
func WithOperationTimeout(timeout time.Duration) PersistentOption {
	return func(p *PersistentCache) {
		p.timeout = timeout
	}
}

func NewPersistentCache(storage types.Storage, prefix string, defaultTTL time.Duration, logger types.Logger, opts ...PersistentOption) *PersistentCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	p := &PersistentCache{
		storage:    storage,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		clock:      utils.SystemClock,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *PersistentCache) Prefix() string {
	return p.prefix
}

func (p *PersistentCache) Set(ctx context.Context, key string, data interface{}, opts types.SetOptions) {
	if key == "" {
		p.logger.Debug("Ignoring persistent cache set with empty key")
		return
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = p.defaultTTL
	}

	raw, err := EncodeEntry(&types.CacheEntry{
		Data:      data,
		Timestamp: p.clock(),
		TTL:       ttl,
		Tags:      opts.Tags,
		Version:   opts.Version,
	})
	if err != nil {
		p.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err = p.storage.Set(ctx, p.prefix+key, raw)
	if types.IsError(err, types.ErrStorageQuotaExceeded) {
		removed := p.Cleanup(ctx)
		p.logger.Warn("Storage quota exceeded, retrying after cleanup",
			zap.String("key", key),
			zap.Int("removed", removed))

		err = p.storage.Set(ctx, p.prefix+key, raw)
	}

	if err != nil {
		p.logger.Error("Failed to write cache entry, dropping it",
			zap.String("key", key),
			zap.String("prefix", p.prefix),
			zap.Error(err))
		return
	}

	atomic.AddUint64(&p.sets, 1)
}

func (p *PersistentCache) Get(ctx context.Context, key string) (interface{}, bool) {
	entry, ok := p.GetEntry(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// GetEntry returns the live entry under key. Expired and unparseable
// records are deleted and reported as misses.
func (p *PersistentCache) GetEntry(ctx context.Context, key string) (*types.CacheEntry, bool) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	entry, ok := p.read(ctx, key)
	if !ok {
		atomic.AddUint64(&p.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&p.hits, 1)
	return entry, true
}

func (p *PersistentCache) Delete(ctx context.Context, key string) bool {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, found, err := p.storage.Get(ctx, p.prefix+key)
	if err != nil {
		p.logger.Warn("Failed to read cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	if !found {
		return false
	}

	if !p.remove(ctx, key) {
		return false
	}

	atomic.AddUint64(&p.deletes, 1)
	return true
}

func (p *PersistentCache) Has(ctx context.Context, key string) bool {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, ok := p.read(ctx, key)
	return ok
}

func (p *PersistentCache) Clear(ctx context.Context) {
	keys, ok := p.keys(ctx)
	if !ok {
		return
	}

	for _, key := range keys {
		p.remove(ctx, key)
	}

	p.logger.Debug("Persistent cache cleared",
		zap.String("prefix", p.prefix),
		zap.Int("count", len(keys)))
}

func (p *PersistentCache) InvalidateByTags(ctx context.Context, tags ...string) int {
	tagSet := utils.TagSet(tags)
	if len(tagSet) == 0 {
		return 0
	}

	keys, ok := p.keys(ctx)
	if !ok {
		return 0
	}

	removed := 0
	for _, key := range keys {
		raw, found := p.readRaw(ctx, key)
		if !found {
			continue
		}

		entry, parseErr := DecodeEntry(key, raw)
		if parseErr != nil {
			p.dropCorrupted(ctx, key, parseErr)
			continue
		}

		if entry.HasAnyTag(tagSet) && p.remove(ctx, key) {
			removed++
		}
	}

	atomic.AddUint64(&p.deletes, uint64(removed))
	return removed
}

// Cleanup removes expired and corrupted records under the prefix. It works
// from a snapshot of keys and re-reads each record before deleting it, so
// entries written during the sweep are left alone.
func (p *PersistentCache) Cleanup(ctx context.Context) int {
	keys, ok := p.keys(ctx)
	if !ok {
		return 0
	}

	now := p.clock()
	removed := 0

	for _, key := range keys {
		raw, found := p.readRaw(ctx, key)
		if !found {
			continue
		}

		entry, parseErr := DecodeEntry(key, raw)
		if parseErr == nil && entry.IsLive(now) {
			continue
		}

		if p.removeIfUnchanged(ctx, key, raw) {
			removed++
		}
	}

	if removed > 0 {
		p.logger.Debug("Persistent cache cleanup finished",
			zap.String("prefix", p.prefix),
			zap.Int("removed", removed),
			zap.Int("scanned", len(keys)))
	}

	return removed
}

func (p *PersistentCache) GetStats(ctx context.Context) types.CacheStats {
	hits := atomic.LoadUint64(&p.hits)
	misses := atomic.LoadUint64(&p.misses)

	stats := types.CacheStats{
		Hits:    hits,
		Misses:  misses,
		Sets:    atomic.LoadUint64(&p.sets),
		Deletes: atomic.LoadUint64(&p.deletes),
		HitRate: types.HitRate(hits, misses),
	}

	keys, ok := p.keys(ctx)
	if !ok {
		return stats
	}

	for _, key := range keys {
		raw, found := p.readRaw(ctx, key)
		if !found {
			continue
		}
		stats.ItemCount++
		stats.Size += int64(len(p.prefix) + len(key) + len(raw))
	}

	return stats
}

func (p *PersistentCache) read(ctx context.Context, key string) (*types.CacheEntry, bool) {
	raw, found := p.readRaw(ctx, key)
	if !found {
		return nil, false
	}

	entry, parseErr := DecodeEntry(key, raw)
	if parseErr != nil {
		p.dropCorrupted(ctx, key, parseErr)
		return nil, false
	}

	if !entry.IsLive(p.clock()) {
		p.removeIfUnchanged(ctx, key, raw)
		return nil, false
	}

	return entry, true
}

func (p *PersistentCache) readRaw(ctx context.Context, key string) (string, bool) {
	raw, found, err := p.storage.Get(ctx, p.prefix+key)
	if err != nil {
		p.logger.Warn("Failed to read cache entry",
			zap.String("key", key),
			zap.String("prefix", p.prefix),
			zap.Error(err))
		return "", false
	}
	return raw, found
}

func (p *PersistentCache) keys(ctx context.Context) ([]string, bool) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	fullKeys, err := p.storage.Keys(ctx, p.prefix)
	if err != nil {
		p.logger.Warn("Failed to list cache keys", zap.String("prefix", p.prefix), zap.Error(err))
		return nil, false
	}

	keys := make([]string, 0, len(fullKeys))
	for _, fullKey := range fullKeys {
		if strings.HasPrefix(fullKey, p.prefix) {
			keys = append(keys, strings.TrimPrefix(fullKey, p.prefix))
		}
	}
	return keys, true
}

func (p *PersistentCache) dropCorrupted(ctx context.Context, key string, parseErr *types.ParseError) {
	p.logger.Warn("Dropping corrupted cache entry",
		zap.String("key", key),
		zap.String("prefix", p.prefix),
		zap.Error(parseErr))
	p.remove(ctx, key)
}

// removeIfUnchanged deletes key only if it still holds raw. A concurrent
// writer that replaced the record in the meantime wins.
func (p *PersistentCache) removeIfUnchanged(ctx context.Context, key, raw string) bool {
	current, found := p.readRaw(ctx, key)
	if !found || current != raw {
		return false
	}
	return p.remove(ctx, key)
}

func (p *PersistentCache) remove(ctx context.Context, key string) bool {
	if err := p.storage.Delete(ctx, p.prefix+key); err != nil {
		p.logger.Warn("Failed to delete cache entry",
			zap.String("key", key),
			zap.String("prefix", p.prefix),
			zap.Error(err))
		return false
	}
	return true
}

func (p *PersistentCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}
