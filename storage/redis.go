package storage

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type RedisConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Password           string `json:"password"`
	DB                 int    `json:"db"`
	PoolSize           int    `json:"pool_size"`
	MinIdleConnections int    `json:"min_idle_connections"`
	DialTimeout        string `json:"dial_timeout"`
	ReadTimeout        string `json:"read_timeout"`
	WriteTimeout       string `json:"write_timeout"`
	KeyPrefix          string `json:"key_prefix"`
	ScanCount          int64  `json:"scan_count"`
}

// RedisStorage shares one Redis database with other services, so every key
// is additionally scoped by KeyPrefix.
type RedisStorage struct {
	client *redis.Client
	logger types.Logger
	config *RedisConfig
	closed int32
}

func NewRedisStorage(ctx context.Context, logger types.Logger, config *types.StorageConfig) (*RedisStorage, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        "5s",
		ReadTimeout:        "3s",
		WriteTimeout:       "3s",
		KeyPrefix:          "sai-ratecache:",
		ScanCount:          100,
	}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis storage config")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  parseDuration(redisConfig.DialTimeout, 5*time.Second),
		ReadTimeout:  parseDuration(redisConfig.ReadTimeout, 3*time.Second),
		WriteTimeout: parseDuration(redisConfig.WriteTimeout, 3*time.Second),
	})

	s := &RedisStorage{
		client: client,
		logger: logger,
		config: redisConfig,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, types.Errorf(types.ErrStorageConnectFailed, "%v", err)
	}

	logger.Info("Redis storage connected",
		zap.String("addr", client.Options().Addr),
		zap.Int("db", redisConfig.DB),
		zap.String("key_prefix", redisConfig.KeyPrefix))

	return s, nil
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if r.isClosed() {
		return "", false, types.ErrStorageClosed
	}

	value, err := r.client.Get(ctx, r.fullKey(key)).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, r.mapError("get", key, err)
	}

	return value, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	if r.isClosed() {
		return types.ErrStorageClosed
	}

	if err := r.client.Set(ctx, r.fullKey(key), value, 0).Err(); err != nil {
		return r.mapError("set", key, err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if r.isClosed() {
		return types.ErrStorageClosed
	}

	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return r.mapError("delete", key, err)
	}
	return nil
}

func (r *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if r.isClosed() {
		return nil, types.ErrStorageClosed
	}

	pattern := escapeGlob(r.fullKey(prefix)) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, r.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.config.KeyPrefix))
	}

	if err := iter.Err(); err != nil {
		return nil, r.mapError("scan", prefix, err)
	}

	return keys, nil
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis storage closed")
	return nil
}

func (r *RedisStorage) fullKey(key string) string {
	return r.config.KeyPrefix + key
}

func (r *RedisStorage) mapError(operation, key string, err error) error {
	// maxmemory with noeviction answers writes with "OOM command not allowed".
	if strings.HasPrefix(err.Error(), "OOM") {
		return types.Errorf(types.ErrStorageQuotaExceeded, "%s %q: %v", operation, key, err)
	}
	return types.Errorf(types.ErrStorageOperationError, "%s %q: %v", operation, key, err)
}

func (r *RedisStorage) isClosed() bool {
	return atomic.LoadInt32(&r.closed) == 1
}

func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch ch {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
