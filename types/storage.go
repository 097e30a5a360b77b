package types

import "context"

// Storage is a durable string key/value substrate shared with other
// application data. Keys are namespaced by callers.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

type StorageCreator func(config interface{}) (Storage, error)
