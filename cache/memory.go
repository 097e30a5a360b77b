package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const DefaultTTL = 5 * time.Minute

type memoryItem struct {
	key   string
	entry *types.CacheEntry
	size  int64
}

// MemoryCache is a bounded LRU with per-entry TTL and tags. The front of
// order is the most recently used entry.
type MemoryCache struct {
	maxSize    int
	defaultTTL time.Duration
	clock      utils.Clock
	logger     types.Logger

	items map[string]*list.Element
	order *list.List
	size  int64

	hits      uint64
	misses    uint64
	sets      uint64
	deletes   uint64
	evictions uint64

	mu sync.Mutex
}

type MemoryOption func(*MemoryCache)

func WithClock(clock utils.Clock) MemoryOption {
	return func(m *MemoryCache) {
		m.clock = clock
	}
}

func WithLogger(logger types.Logger) MemoryOption {
	return func(m *MemoryCache) {
		m.logger = logger
	}
}

func NewMemoryCache(maxSize int, defaultTTL time.Duration, opts ...MemoryOption) *MemoryCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	m := &MemoryCache{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		clock:      utils.SystemClock,
		items:      make(map[string]*list.Element, maxSize),
		order:      list.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *MemoryCache) Set(key string, data interface{}, opts types.SetOptions) {
	if key == "" {
		m.debug("Ignoring memory cache set with empty key")
		return
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.clock()
	entry := &types.CacheEntry{
		Data:         data,
		Timestamp:    now,
		TTL:          ttl,
		Tags:         opts.Tags,
		Version:      opts.Version,
		Priority:     opts.Priority,
		LastAccessed: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeExpiredUnsafe(now)

	if elem, exists := m.items[key]; exists {
		item := elem.Value.(*memoryItem)
		m.size -= item.size
		item.entry = entry
		item.size = estimateSize(key, data)
		m.size += item.size
		m.order.MoveToFront(elem)
		m.sets++
		return
	}

	for len(m.items) >= m.maxSize {
		m.evictOldestUnsafe()
	}

	item := &memoryItem{key: key, entry: entry, size: estimateSize(key, data)}
	m.items[key] = m.order.PushFront(item)
	m.size += item.size
	m.sets++
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	entry, ok := m.getEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// GetEntry returns a copy of the live entry under key, counting as an access.
func (m *MemoryCache) GetEntry(key string) (*types.CacheEntry, bool) {
	entry, ok := m.getEntry(key)
	if !ok {
		return nil, false
	}
	copied := *entry
	return &copied, true
}

func (m *MemoryCache) getEntry(key string) (*types.CacheEntry, bool) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.items[key]
	if !exists {
		m.misses++
		return nil, false
	}

	item := elem.Value.(*memoryItem)
	if !item.entry.IsLive(now) {
		m.removeUnsafe(elem)
		m.misses++
		return nil, false
	}

	item.entry.HitCount++
	item.entry.LastAccessed = now
	m.order.MoveToFront(elem)
	m.hits++

	return item.entry, true
}

func (m *MemoryCache) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.items[key]
	if !exists {
		return false
	}

	m.removeUnsafe(elem)
	m.deletes++
	return true
}

// Has reports whether a live entry exists without touching LRU order or
// hit statistics. A dead entry found on the way is purged.
func (m *MemoryCache) Has(key string) bool {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.items[key]
	if !exists {
		return false
	}

	if !elem.Value.(*memoryItem).entry.IsLive(now) {
		m.removeUnsafe(elem)
		return false
	}
	return true
}

func (m *MemoryCache) Update(key string, ttl time.Duration, fn func(current interface{}, found bool) interface{}) interface{} {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.items[key]; exists {
		item := elem.Value.(*memoryItem)
		if item.entry.IsLive(now) {
			value := fn(item.entry.Data, true)
			m.size -= item.size
			item.entry.Data = value
			item.entry.LastAccessed = now
			item.size = estimateSize(key, value)
			m.size += item.size
			m.order.MoveToFront(elem)
			m.sets++
			return value
		}
		m.removeUnsafe(elem)
	}

	value := fn(nil, false)

	m.purgeExpiredUnsafe(now)
	for len(m.items) >= m.maxSize {
		m.evictOldestUnsafe()
	}

	item := &memoryItem{
		key: key,
		entry: &types.CacheEntry{
			Data:         value,
			Timestamp:    now,
			TTL:          ttl,
			LastAccessed: now,
		},
		size: estimateSize(key, value),
	}
	m.items[key] = m.order.PushFront(item)
	m.size += item.size
	m.sets++

	return value
}

func (m *MemoryCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element, m.maxSize)
	m.order.Init()
	m.size = 0
}

func (m *MemoryCache) InvalidateByTags(tags ...string) int {
	tagSet := utils.TagSet(tags)
	if len(tagSet) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*memoryItem).entry.HasAnyTag(tagSet) {
			m.removeUnsafe(elem)
			removed++
		}
		elem = next
	}

	m.deletes += uint64(removed)
	return removed
}

// Cleanup drops every expired entry and returns how many were removed.
func (m *MemoryCache) Cleanup() int {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.purgeExpiredUnsafe(now)
}

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryCache) GetStats() types.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return types.CacheStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Sets:      m.sets,
		Deletes:   m.deletes,
		Evictions: m.evictions,
		Size:      m.size,
		ItemCount: len(m.items),
		HitRate:   types.HitRate(m.hits, m.misses),
	}
}

func (m *MemoryCache) purgeExpiredUnsafe(now time.Time) int {
	removed := 0
	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !elem.Value.(*memoryItem).entry.IsLive(now) {
			m.removeUnsafe(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (m *MemoryCache) evictOldestUnsafe() {
	oldest := m.order.Back()
	if oldest == nil {
		return
	}

	item := m.removeUnsafe(oldest)
	m.evictions++

	m.debug("Evicted least recently used entry", zap.String("key", item.key))
}

func (m *MemoryCache) removeUnsafe(elem *list.Element) *memoryItem {
	item := m.order.Remove(elem).(*memoryItem)
	delete(m.items, item.key)
	m.size -= item.size
	return item
}

func (m *MemoryCache) debug(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Debug(msg, fields...)
	}
}

// estimateSize approximates the footprint of an entry as key length plus
// the length of its JSON encoding.
func estimateSize(key string, data interface{}) int64 {
	size := int64(len(key))

	switch v := data.(type) {
	case nil:
	case string:
		size += int64(len(v))
	case []byte:
		size += int64(len(v))
	default:
		encoded, err := utils.Marshal(v)
		if err == nil {
			size += int64(len(encoded))
		}
	}

	return size
}
