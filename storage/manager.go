package storage

import (
	"context"
	"time"

	"github.com/saiset-co/sai-offline/types"
)

// Factory opens a KVStore by config type. Custom backends resolve through
// Register.
type Factory struct {
	logger   types.Logger
	metrics  types.MetricsManager
	creators map[string]types.KVStoreCreator
}

func NewFactory(logger types.Logger, metrics types.MetricsManager) *Factory {
	return &Factory{
		logger:   logger,
		metrics:  metrics,
		creators: make(map[string]types.KVStoreCreator),
	}
}

func (f *Factory) Register(storageType string, creator types.KVStoreCreator) {
	f.creators[storageType] = creator
}

// Open builds the configured backend. Values are sealed before they reach
// the backend and compressed before they are sealed. With Fallback enabled
// the result is wrapped by Resilient, and a backend that cannot be opened at
// all degrades to memory instead of failing startup.
func (f *Factory) Open(ctx context.Context, config *types.StorageConfig) (types.KVStore, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	impl, err := f.create(ctx, config)
	if err != nil {
		if !config.Fallback || types.IsError(err, types.ErrStorageTypeUnknown) {
			return nil, err
		}
		f.logger.Warn("Storage backend unavailable, running on memory")
		impl = NewMemoryStore()
	}

	var store types.KVStore = impl
	if f.metrics != nil {
		store = newInstrumentedStore(config.Type, f.metrics, store)
	}

	if config.Encryption != nil && config.Encryption.Enabled {
		if store, err = NewSealed(store, config.Encryption); err != nil {
			_ = impl.Close()
			return nil, err
		}
	}

	if config.Compression != nil && config.Compression.Enabled {
		store = NewCompressed(store, config.Compression)
	}

	if config.Fallback {
		store = NewResilient(f.logger, store)
	}

	return store, nil
}

func (f *Factory) create(ctx context.Context, config *types.StorageConfig) (types.KVStore, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "clover":
		return NewCloverStore(f.logger, config.Config)
	case "sqlite":
		return NewSQLiteStore(ctx, f.logger, config.Config)
	case "redis":
		return NewRedisStore(ctx, f.logger, config.Config)
	default:
		if creator, exists := f.creators[config.Type]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", config.Type)
	}
}

type instrumentedStore struct {
	impl    types.KVStore
	backend string
	metrics types.MetricsManager
}

func newInstrumentedStore(backend string, metrics types.MetricsManager, impl types.KVStore) types.KVStore {
	return &instrumentedStore{
		impl:    impl,
		backend: backend,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := is.impl.Get(ctx, key)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "hit"
	}

	is.recordMetric("get", result, time.Since(start))
	return value, ok, err
}

func (is *instrumentedStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := is.impl.Set(ctx, key, value)
	is.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.Remove(ctx, key)
	is.recordMetric("remove", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	values, err := is.impl.MultiGet(ctx, keys)
	is.recordMetric("multi_get", resultOf(err), time.Since(start))
	return values, err
}

func (is *instrumentedStore) MultiSet(ctx context.Context, entries map[string][]byte) error {
	start := time.Now()
	err := is.impl.MultiSet(ctx, entries)
	is.recordMetric("multi_set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Clear(ctx context.Context) error {
	start := time.Now()
	err := is.impl.Clear(ctx)
	is.recordMetric("clear", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) ListKeys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := is.impl.ListKeys(ctx)
	is.recordMetric("list_keys", resultOf(err), time.Since(start))
	return keys, err
}

func (is *instrumentedStore) Close() error {
	return is.impl.Close()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	is.metrics.Counter("storage_operations_total", map[string]string{
		"backend":   is.backend,
		"operation": operation,
		"result":    result,
	}).Inc()

	is.metrics.Histogram("storage_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"backend": is.backend, "operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
