package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
)

// Resilient absorbs primary storage write failures. A failed write lands in
// an in-memory fallback and shadows the primary until the primary accepts a
// write for the same key. A failed remove leaves a tombstone so the stale
// primary value stays hidden. Reads are never absorbed: a key the fallback
// cannot answer returns the primary error, so callers that read, modify and
// write back never mistake an unreadable value for an absent one.
type Resilient struct {
	primary  types.KVStore
	fallback *MemoryStore
	logger   types.Logger
	failures atomic.Int64

	mu      sync.RWMutex
	removed map[string]struct{}
}

func NewResilient(logger types.Logger, primary types.KVStore) *Resilient {
	return &Resilient{
		primary:  primary,
		fallback: NewMemoryStore(),
		logger:   logger,
		removed:  make(map[string]struct{}),
	}
}

// Degraded reports whether any primary operation has failed.
func (r *Resilient) Degraded() bool {
	return r.failures.Load() > 0
}

func (r *Resilient) Failures() int64 {
	return r.failures.Load()
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrStorageKeyEmpty
	}

	if r.isRemoved(key) {
		return nil, false, nil
	}

	if value, ok, _ := r.fallback.Get(ctx, key); ok {
		return value, true, nil
	}

	value, ok, err := r.primary.Get(ctx, key)
	if err != nil {
		r.absorb("get", key, err)
		return nil, false, types.Errorf(types.ErrStorage, "get %s: %v", key, err)
	}

	return value, ok, nil
}

func (r *Resilient) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrStorageKeyEmpty
	}

	r.unmarkRemoved(key)

	if err := r.primary.Set(ctx, key, value); err != nil {
		r.absorb("set", key, err)
		return r.fallback.Set(ctx, key, value)
	}

	return r.fallback.Remove(ctx, key)
}

func (r *Resilient) Remove(ctx context.Context, key string) error {
	if err := r.primary.Remove(ctx, key); err != nil {
		r.absorb("remove", key, err)
		r.markRemoved(key)
	} else {
		r.unmarkRemoved(key)
	}
	return r.fallback.Remove(ctx, key)
}

func (r *Resilient) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	pending := make([]string, 0, len(keys))
	result := make(map[string][]byte, len(keys))

	for _, key := range keys {
		if r.isRemoved(key) {
			continue
		}
		if value, ok, _ := r.fallback.Get(ctx, key); ok {
			result[key] = value
			continue
		}
		pending = append(pending, key)
	}

	if len(pending) == 0 {
		return result, nil
	}

	values, err := r.primary.MultiGet(ctx, pending)
	if err != nil {
		r.absorb("multi_get", "", err)
		return nil, types.Errorf(types.ErrStorage, "multi get: %v", err)
	}

	for key, value := range values {
		result[key] = value
	}

	return result, nil
}

func (r *Resilient) MultiSet(ctx context.Context, entries map[string][]byte) error {
	for key := range entries {
		r.unmarkRemoved(key)
	}

	if err := r.primary.MultiSet(ctx, entries); err != nil {
		r.absorb("multi_set", "", err)
		return r.fallback.MultiSet(ctx, entries)
	}

	for key := range entries {
		_ = r.fallback.Remove(ctx, key)
	}
	return nil
}

// Clear reports a primary failure: without a key listing there is nothing
// to tombstone.
func (r *Resilient) Clear(ctx context.Context) error {
	_ = r.fallback.Clear(ctx)

	if err := r.primary.Clear(ctx); err != nil {
		r.absorb("clear", "", err)
		return types.Errorf(types.ErrStorage, "clear: %v", err)
	}

	r.mu.Lock()
	r.removed = make(map[string]struct{})
	r.mu.Unlock()

	return nil
}

func (r *Resilient) ListKeys(ctx context.Context) ([]string, error) {
	keys, err := r.primary.ListKeys(ctx)
	if err != nil {
		r.absorb("list_keys", "", err)
		return nil, types.Errorf(types.ErrStorage, "list keys: %v", err)
	}

	shadowed, _ := r.fallback.ListKeys(ctx)

	seen := make(map[string]struct{}, len(keys)+len(shadowed))
	merged := make([]string, 0, len(keys)+len(shadowed))
	for _, key := range append(keys, shadowed...) {
		if _, dup := seen[key]; dup || r.isRemoved(key) {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, key)
	}
	sort.Strings(merged)

	return merged, nil
}

func (r *Resilient) Close() error {
	_ = r.fallback.Close()
	return r.primary.Close()
}

func (r *Resilient) isRemoved(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.removed[key]
	return ok
}

func (r *Resilient) markRemoved(key string) {
	r.mu.Lock()
	r.removed[key] = struct{}{}
	r.mu.Unlock()
}

func (r *Resilient) unmarkRemoved(key string) {
	r.mu.Lock()
	delete(r.removed, key)
	r.mu.Unlock()
}

func (r *Resilient) absorb(operation, key string, err error) {
	r.failures.Add(1)
	r.logger.Warn("Primary storage operation failed",
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Error(err))
}
