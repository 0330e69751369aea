package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

const DefaultPrefix = "cache_"

// Store is a TTL cache layered over a KVStore. Entries live under
// prefix+key as JSON-encoded types.CacheEntry values. Expired and
// unparsable entries are treated as absent and deleted when touched.
type Store struct {
	kv      types.KVStore
	logger  types.Logger
	metrics types.MetricsManager
	prefix  string
	now     func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

func NewStore(kv types.KVStore, logger types.Logger, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: logger,
		prefix: DefaultPrefix,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Prefix() string {
	return s.prefix
}

// Set stores value under key. A ttl of zero or less never expires.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()

	if key == "" {
		s.recordMetric("set", "error", time.Since(start))
		return types.ErrCacheKeyEmpty
	}

	encoded, err := s.encode(value, ttl)
	if err != nil {
		s.recordMetric("set", "error", time.Since(start))
		return types.WrapError(err, "failed to encode cache entry")
	}

	if err = s.kv.Set(ctx, s.prefix+key, encoded); err != nil {
		s.recordMetric("set", "error", time.Since(start))
		return types.WrapError(err, "failed to store cache entry")
	}

	s.recordMetric("set", "success", time.Since(start))
	return nil
}

// Get returns the raw JSON stored under key.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	start := time.Now()

	if key == "" {
		s.recordMetric("get", "error", time.Since(start))
		return nil, false, types.ErrCacheKeyEmpty
	}

	raw, ok, err := s.kv.Get(ctx, s.prefix+key)
	if err != nil {
		s.recordMetric("get", "error", time.Since(start))
		return nil, false, types.WrapError(err, "failed to read cache entry")
	}
	if !ok {
		s.recordMetric("get", "miss", time.Since(start))
		return nil, false, nil
	}

	data, live := s.decode(ctx, s.prefix+key, raw)
	if !live {
		s.recordMetric("get", "miss", time.Since(start))
		return nil, false, nil
	}

	s.recordMetric("get", "hit", time.Since(start))
	return data, true, nil
}

// GetAs decodes the entry under key into T.
func GetAs[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var zero T

	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}

	var value T
	if err = utils.Unmarshal(raw, &value); err != nil {
		return zero, false, types.Errorf(types.ErrCacheEntryCorrupted, "key %s: %v", key, err)
	}

	return value, true, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Remove(ctx context.Context, key string) error {
	start := time.Now()

	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	err := s.kv.Remove(ctx, s.prefix+key)
	s.recordMetric("remove", resultOf(err), time.Since(start))
	return err
}

// Clear removes every cache entry whose logical key starts with prefix and
// returns how many were removed. An empty prefix clears the whole namespace.
func (s *Store) Clear(ctx context.Context, prefix string) (int, error) {
	start := time.Now()

	keys, err := s.kv.ListKeys(ctx)
	if err != nil {
		s.recordMetric("clear", "error", time.Since(start))
		return 0, types.WrapError(err, "failed to list cache keys")
	}

	full := s.prefix + prefix
	removed := 0
	var errs []error

	for _, key := range keys {
		if !strings.HasPrefix(key, full) {
			continue
		}
		if err := s.kv.Remove(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	err = errors.Join(errs...)
	s.recordMetric("clear", resultOf(err), time.Since(start))
	return removed, err
}

// GetMultiple returns one element per key; absent, expired or corrupt
// entries are nil.
func (s *Store) GetMultiple(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	start := time.Now()

	fullKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			fullKeys = append(fullKeys, s.prefix+key)
		}
	}

	values, err := s.kv.MultiGet(ctx, fullKeys)
	if err != nil {
		s.recordMetric("get_multiple", "error", time.Since(start))
		return nil, types.WrapError(err, "failed to read cache entries")
	}

	result := make([]json.RawMessage, len(keys))
	for i, key := range keys {
		if key == "" {
			continue
		}
		raw, ok := values[s.prefix+key]
		if !ok {
			continue
		}
		if data, live := s.decode(ctx, s.prefix+key, raw); live {
			result[i] = data
		}
	}

	s.recordMetric("get_multiple", "success", time.Since(start))
	return result, nil
}

// SetMultiple stores every encodable entry with the same ttl. Entries that
// cannot be encoded are skipped and reported in the returned error.
func (s *Store) SetMultiple(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	start := time.Now()

	batch := make(map[string][]byte, len(entries))
	var errs []error

	for key, value := range entries {
		if key == "" {
			errs = append(errs, types.ErrCacheKeyEmpty)
			continue
		}
		encoded, err := s.encode(value, ttl)
		if err != nil {
			errs = append(errs, types.WrapError(err, "key "+key))
			continue
		}
		batch[s.prefix+key] = encoded
	}

	if len(batch) > 0 {
		if err := s.kv.MultiSet(ctx, batch); err != nil {
			s.recordMetric("set_multiple", "error", time.Since(start))
			return types.WrapError(err, "failed to store cache entries")
		}
	}

	err := errors.Join(errs...)
	s.recordMetric("set_multiple", resultOf(err), time.Since(start))
	return err
}

// Cleanup deletes expired and unparsable entries and returns how many were
// removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	start := time.Now()

	keys, err := s.cacheKeys(ctx)
	if err != nil {
		s.recordMetric("cleanup", "error", time.Since(start))
		return 0, err
	}

	values, err := s.kv.MultiGet(ctx, keys)
	if err != nil {
		s.recordMetric("cleanup", "error", time.Since(start))
		return 0, types.WrapError(err, "failed to read cache entries")
	}

	now := s.now()
	removed := 0
	for key, raw := range values {
		var entry types.CacheEntry
		if err := utils.Unmarshal(raw, &entry); err == nil && len(entry.Data) > 0 && !entry.Expired(now) {
			continue
		}
		if err := s.kv.Remove(ctx, key); err != nil {
			s.logger.Warn("Failed to remove stale cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		removed++
	}

	s.recordMetric("cleanup", "success", time.Since(start))
	if removed > 0 {
		s.logger.Debug("Cache cleanup removed entries", zap.Int("removed", removed))
	}
	return removed, nil
}

func (s *Store) Stats(ctx context.Context) (types.CacheStats, error) {
	keys, err := s.kv.ListKeys(ctx)
	if err != nil {
		return types.CacheStats{}, types.WrapError(err, "failed to list keys")
	}

	stats := types.CacheStats{TotalKeys: len(keys)}

	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, s.prefix) {
			cacheKeys = append(cacheKeys, key)
		}
	}
	stats.CacheKeys = len(cacheKeys)

	values, err := s.kv.MultiGet(ctx, cacheKeys)
	if err != nil {
		return stats, types.WrapError(err, "failed to read cache entries")
	}
	for key, value := range values {
		stats.ApproxSizeBytes += len(key) + len(value)
	}

	return stats, nil
}

func (s *Store) cacheKeys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to list cache keys")
	}

	filtered := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, s.prefix) {
			filtered = append(filtered, key)
		}
	}
	return filtered, nil
}

func (s *Store) encode(value interface{}, ttl time.Duration) ([]byte, error) {
	data, err := utils.Marshal(value)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := types.CacheEntry{Data: data, StoredAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	return utils.Marshal(entry)
}

func (s *Store) decode(ctx context.Context, fullKey string, raw []byte) (json.RawMessage, bool) {
	var entry types.CacheEntry
	if err := utils.Unmarshal(raw, &entry); err != nil || len(entry.Data) == 0 {
		s.logger.Warn("Dropping corrupted cache entry", zap.String("key", fullKey), zap.Error(err))
		s.evict(ctx, fullKey)
		return nil, false
	}

	if entry.Expired(s.now()) {
		s.evict(ctx, fullKey)
		return nil, false
	}

	return entry.Data, true
}

func (s *Store) evict(ctx context.Context, fullKey string) {
	if err := s.kv.Remove(ctx, fullKey); err != nil {
		s.logger.Warn("Failed to evict cache entry", zap.String("key", fullKey), zap.Error(err))
	}
}

func (s *Store) recordMetric(operation, result string, duration time.Duration) {
	if s.metrics == nil {
		return
	}

	s.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
