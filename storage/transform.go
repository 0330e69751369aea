package storage

import (
	"context"

	"github.com/saiset-co/sai-offline/types"
)

type valueFunc func(key string, value []byte) ([]byte, error)

// transformStore rewrites values on their way into and out of impl. Keys
// pass through untouched.
type transformStore struct {
	impl   types.KVStore
	encode valueFunc
	decode valueFunc
}

func (t *transformStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := t.impl.Get(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}

	decoded, err := t.decode(key, value)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (t *transformStore) Set(ctx context.Context, key string, value []byte) error {
	encoded, err := t.encode(key, value)
	if err != nil {
		return err
	}
	return t.impl.Set(ctx, key, encoded)
}

func (t *transformStore) Remove(ctx context.Context, key string) error {
	return t.impl.Remove(ctx, key)
}

func (t *transformStore) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	values, err := t.impl.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(values))
	for key, value := range values {
		decoded, err := t.decode(key, value)
		if err != nil {
			return nil, err
		}
		out[key] = decoded
	}
	return out, nil
}

func (t *transformStore) MultiSet(ctx context.Context, entries map[string][]byte) error {
	encoded := make(map[string][]byte, len(entries))
	for key, value := range entries {
		out, err := t.encode(key, value)
		if err != nil {
			return err
		}
		encoded[key] = out
	}
	return t.impl.MultiSet(ctx, encoded)
}

func (t *transformStore) Clear(ctx context.Context) error {
	return t.impl.Clear(ctx)
}

func (t *transformStore) ListKeys(ctx context.Context) ([]string, error) {
	return t.impl.ListKeys(ctx)
}

func (t *transformStore) Close() error {
	return t.impl.Close()
}
