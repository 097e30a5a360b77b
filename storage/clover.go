package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const (
	cloverKeyField   = "key"
	cloverValueField = "value"
)

type CloverConfig struct {
	// Path is the database directory. Empty runs clover in memory.
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// CloverStorage keeps each key as a {key, value} document in one collection.
type CloverStorage struct {
	db     *clover.DB
	logger types.Logger
	config *CloverConfig
	closed int32
	mu     sync.RWMutex
}

func NewCloverStorage(logger types.Logger, config *types.StorageConfig) (*CloverStorage, error) {
	cloverConfig := &CloverConfig{
		Collection: "sai_kv",
	}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover storage config")
		}
	}

	db, err := clover.Open(cloverConfig.Path, clover.InMemoryMode(cloverConfig.Path == ""))
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	exists, err := db.HasCollection(cloverConfig.Collection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		if err := db.CreateCollection(cloverConfig.Collection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	logger.Info("Clover storage opened",
		zap.String("path", cloverConfig.Path),
		zap.String("collection", cloverConfig.Collection))

	return &CloverStorage{
		db:     db,
		logger: logger,
		config: cloverConfig,
	}, nil
}

func (c *CloverStorage) Get(_ context.Context, key string) (string, bool, error) {
	if c.isClosed() {
		return "", false, types.ErrStorageClosed
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, err := c.byKey(key).FindFirst()
	if err != nil {
		return "", false, types.Errorf(types.ErrStorageOperationError, "find %q: %v", key, err)
	}

	if doc == nil {
		return "", false, nil
	}

	value, ok := doc.Get(cloverValueField).(string)
	if !ok {
		// Foreign document without a string value: surface it as an
		// unparseable record so the cache layer drops it.
		return "", true, nil
	}

	return value, true, nil
}

func (c *CloverStorage) Set(_ context.Context, key, value string) error {
	if c.isClosed() {
		return types.ErrStorageClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count, err := c.byKey(key).Count()
	if err != nil {
		return types.Errorf(types.ErrStorageOperationError, "lookup %q: %v", key, err)
	}

	if count > 0 {
		if err := c.byKey(key).Update(map[string]interface{}{cloverValueField: value}); err != nil {
			return types.Errorf(types.ErrStorageOperationError, "update %q: %v", key, err)
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set(cloverKeyField, key)
	doc.Set(cloverValueField, value)

	if _, err := c.db.InsertOne(c.config.Collection, doc); err != nil {
		return types.Errorf(types.ErrStorageOperationError, "insert %q: %v", key, err)
	}

	return nil
}

func (c *CloverStorage) Delete(_ context.Context, key string) error {
	if c.isClosed() {
		return types.ErrStorageClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.byKey(key).Delete(); err != nil {
		return types.Errorf(types.ErrStorageOperationError, "delete %q: %v", key, err)
	}
	return nil
}

func (c *CloverStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	if c.isClosed() {
		return nil, types.ErrStorageClosed
	}

	c.mu.RLock()
	docs, err := c.db.Query(c.config.Collection).FindAll()
	c.mu.RUnlock()

	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationError, "scan: %v", err)
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		key, ok := doc.Get(cloverKeyField).(string)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (c *CloverStorage) Ping(context.Context) error {
	if c.isClosed() {
		return types.ErrStorageClosed
	}

	_, err := c.db.HasCollection(c.config.Collection)
	return err
}

func (c *CloverStorage) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover storage closed")
	return nil
}

func (c *CloverStorage) byKey(key string) *clover.Query {
	return c.db.Query(c.config.Collection).Where(clover.Field(cloverKeyField).Eq(key))
}

func (c *CloverStorage) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
