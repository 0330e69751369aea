package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

const (
	cloverCollection = "kv"
	cloverKeyField   = "key"
	cloverValueField = "value"
)

type CloverConfig struct {
	Path string `yaml:"path" json:"path"`
}

// CloverStore keeps every key as one document {key, value} in a single
// clover collection. Values are stored as strings.
type CloverStore struct {
	db     *clover.DB
	logger types.Logger
	config *CloverConfig
	mu     sync.Mutex
}

func NewCloverStore(logger types.Logger, config interface{}) (*CloverStore, error) {
	cConfig := &CloverConfig{Path: "./data/offline"}
	if config != nil {
		if err := utils.UnmarshalConfig(config, cConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover config")
		}
	}

	db, err := clover.Open(cConfig.Path)
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to open CloverDB: %v", err)
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		return nil, types.Errorf(types.ErrStorage, "failed to check collection existence: %v", err)
	}

	if !exists {
		if err = db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			return nil, types.Errorf(types.ErrStorage, "failed to create collection: %v", err)
		}
	}

	logger.Info("CloverDB storage opened", zap.String("path", cConfig.Path))

	return &CloverStore{
		db:     db,
		logger: logger,
		config: cConfig,
	}, nil
}

func (c *CloverStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrStorageKeyEmpty
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	doc, err := c.byKey(key).FindFirst()
	if err != nil {
		return nil, false, types.Errorf(types.ErrStorage, "failed to find document: %v", err)
	}

	if doc == nil {
		return nil, false, nil
	}

	value, _ := doc.Get(cloverValueField).(string)
	return []byte(value), true, nil
}

func (c *CloverStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrStorageKeyEmpty
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.upsert(key, value)
}

func (c *CloverStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.byKey(key).Delete(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to delete document: %v", err)
	}
	return nil
}

func (c *CloverStore) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))

	for _, key := range keys {
		value, ok, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result[key] = value
		}
	}

	return result, nil
}

func (c *CloverStore) MultiSet(ctx context.Context, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range entries {
		if key == "" {
			return types.ErrStorageKeyEmpty
		}
		if err := c.upsert(key, value); err != nil {
			return err
		}
	}

	return nil
}

func (c *CloverStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.db.Query(cloverCollection).Delete(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to clear collection: %v", err)
	}
	return nil
}

func (c *CloverStore) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to list documents: %v", err)
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		if key, ok := doc.Get(cloverKeyField).(string); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (c *CloverStore) Close() error {
	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close CloverDB")
	}

	c.logger.Info("CloverDB storage closed")
	return nil
}

func (c *CloverStore) byKey(key string) *clover.Query {
	return c.db.Query(cloverCollection).Where(clover.Field(cloverKeyField).Eq(key))
}

func (c *CloverStore) upsert(key string, value []byte) error {
	query := c.byKey(key)

	count, err := query.Count()
	if err != nil {
		return types.Errorf(types.ErrStorage, "failed to count matching documents: %v", err)
	}

	if count > 0 {
		if err = query.Update(map[string]interface{}{cloverValueField: string(value)}); err != nil {
			return types.Errorf(types.ErrStorage, "failed to update document: %v", err)
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set(cloverKeyField, key)
	doc.Set(cloverValueField, string(value))

	if err = c.db.Insert(cloverCollection, doc); err != nil {
		return types.Errorf(types.ErrStorage, "failed to insert document: %v", err)
	}

	return nil
}
