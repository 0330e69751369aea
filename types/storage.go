package types

import "context"

// KVStore is a durable string-keyed byte store. Every operation may fail
// independently; a missing key is reported by ok=false, never by an error.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	MultiGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MultiSet(ctx context.Context, entries map[string][]byte) error
	Clear(ctx context.Context) error
	ListKeys(ctx context.Context) ([]string, error)
	Close() error
}

type KVStoreCreator func(config interface{}) (KVStore, error)
