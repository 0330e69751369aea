package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/types"
)

func testLogger(t *testing.T) types.Logger {
	return logger.NewZapWrapper(zaptest.NewLogger(t))
}

func runStoreSuite(t *testing.T, store types.KVStore) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "alpha", []byte(`{"v":1}`)))
		require.NoError(t, store.Set(ctx, "alpha", []byte(`{"v":2}`)))

		value, ok, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"v":2}`, string(value))
	})

	t.Run("empty key", func(t *testing.T) {
		assert.ErrorIs(t, store.Set(ctx, "", []byte("x")), types.ErrStorageKeyEmpty)
	})

	t.Run("multi set get", func(t *testing.T) {
		require.NoError(t, store.MultiSet(ctx, map[string][]byte{
			"beta":  []byte(`"b"`),
			"gamma": []byte(`"g"`),
		}))

		values, err := store.MultiGet(ctx, []string{"beta", "gamma", "delta"})
		require.NoError(t, err)
		assert.Len(t, values, 2)
		assert.Equal(t, `"b"`, string(values["beta"]))
		assert.NotContains(t, values, "delta")
	})

	t.Run("list and remove", func(t *testing.T) {
		keys, err := store.ListKeys(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, keys)

		require.NoError(t, store.Remove(ctx, "beta"))
		require.NoError(t, store.Remove(ctx, "never-existed"))

		_, ok, err := store.Get(ctx, "beta")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		keys, err := store.ListKeys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStoreSuite(t, store)

	require.NoError(t, store.Close())
	_, _, err := store.Get(context.Background(), "alpha")
	assert.ErrorIs(t, err, types.ErrStorageClosed)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'x'

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestCloverStore(t *testing.T) {
	store, err := NewCloverStore(testLogger(t), map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "clover"),
	})
	require.NoError(t, err)
	defer store.Close()

	runStoreSuite(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), testLogger(t), &SQLiteConfig{
		Path:         filepath.Join(t.TempDir(), "offline.db"),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	defer store.Close()

	runStoreSuite(t, store)
}

func TestFactoryOpen(t *testing.T) {
	ctx := context.Background()
	factory := NewFactory(testLogger(t), nil)

	store, err := factory.Open(ctx, &types.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = factory.Open(ctx, &types.StorageConfig{Type: "memory", Fallback: true})
	require.NoError(t, err)
	assert.IsType(t, &Resilient{}, store)

	_, err = factory.Open(ctx, &types.StorageConfig{Type: "etcd", Fallback: true})
	assert.ErrorIs(t, err, types.ErrStorageTypeUnknown)

	factory.Register("etcd", func(config interface{}) (types.KVStore, error) {
		return NewMemoryStore(), nil
	})
	_, err = factory.Open(ctx, &types.StorageConfig{Type: "etcd"})
	require.NoError(t, err)
}

func TestFactoryOpenDegradesWhenBackendUnavailable(t *testing.T) {
	factory := NewFactory(testLogger(t), nil)
	factory.Register("broken", func(config interface{}) (types.KVStore, error) {
		return nil, types.ErrStorage
	})

	_, err := factory.Open(context.Background(), &types.StorageConfig{Type: "broken"})
	assert.ErrorIs(t, err, types.ErrStorage)

	store, err := factory.Open(context.Background(), &types.StorageConfig{Type: "broken", Fallback: true})
	require.NoError(t, err)
	runStoreSuite(t, store)
}

type failingStore struct {
	*MemoryStore
	fail      bool
	failReads int
}

var errDisk = errors.New("disk unavailable")

// readFails consumes one scheduled read failure.
func (f *failingStore) readFails() bool {
	if f.fail {
		return true
	}
	if f.failReads > 0 {
		f.failReads--
		return true
	}
	return false
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.readFails() {
		return nil, false, errDisk
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errDisk
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *failingStore) Remove(ctx context.Context, key string) error {
	if f.fail {
		return errDisk
	}
	return f.MemoryStore.Remove(ctx, key)
}

func (f *failingStore) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if f.readFails() {
		return nil, errDisk
	}
	return f.MemoryStore.MultiGet(ctx, keys)
}

func (f *failingStore) ListKeys(ctx context.Context) ([]string, error) {
	if f.readFails() {
		return nil, errDisk
	}
	return f.MemoryStore.ListKeys(ctx)
}

func TestResilientAbsorbsWriteFailures(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{MemoryStore: NewMemoryStore()}
	store := NewResilient(testLogger(t), primary)

	require.NoError(t, store.Set(ctx, "before", []byte("1")))
	assert.False(t, store.Degraded())

	primary.fail = true

	require.NoError(t, store.Set(ctx, "during", []byte("2")))
	assert.True(t, store.Degraded())

	value, ok, err := store.Get(ctx, "during")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(value))

	primary.fail = false

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "during"}, keys)

	values, err := store.MultiGet(ctx, []string{"before", "during"})
	require.NoError(t, err)
	assert.Len(t, values, 2)

	require.NoError(t, store.Set(ctx, "during", []byte("3")))
	value, _, err = primary.MemoryStore.Get(ctx, "during")
	require.NoError(t, err)
	assert.Equal(t, "3", string(value))
}

func TestResilientReportsReadFailures(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{MemoryStore: NewMemoryStore()}
	store := NewResilient(testLogger(t), primary)

	require.NoError(t, store.Set(ctx, "queue", []byte("[1,2,3]")))

	primary.failReads = 1
	_, ok, err := store.Get(ctx, "queue")
	assert.ErrorIs(t, err, types.ErrStorage)
	assert.False(t, ok)
	assert.True(t, store.Degraded())

	primary.fail = true
	_, err = store.MultiGet(ctx, []string{"queue"})
	assert.ErrorIs(t, err, types.ErrStorage)
	_, err = store.ListKeys(ctx)
	assert.ErrorIs(t, err, types.ErrStorage)
	primary.fail = false

	value, ok, err := store.Get(ctx, "queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[1,2,3]", string(value))
}

func TestResilientTombstonesFailedRemoves(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{MemoryStore: NewMemoryStore()}
	store := NewResilient(testLogger(t), primary)

	require.NoError(t, store.Set(ctx, "queue", []byte("[1]")))
	require.NoError(t, store.Set(ctx, "other", []byte("2")))

	primary.fail = true
	require.NoError(t, store.Remove(ctx, "queue"))
	primary.fail = false

	_, ok, err := store.Get(ctx, "queue")
	require.NoError(t, err)
	assert.False(t, ok)

	values, err := store.MultiGet(ctx, []string{"queue", "other"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"other": []byte("2")}, values)

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, keys)

	require.NoError(t, store.Set(ctx, "queue", []byte("[4]")))
	value, ok, err := store.Get(ctx, "queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[4]", string(value))
}
