package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

type RedisConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Password           string `json:"password"`
	DB                 int    `json:"db"`
	PoolSize           int    `json:"pool_size"`
	MinIdleConnections int    `json:"min_idle_connections"`
	DialTimeoutMs      int    `json:"dial_timeout_ms"`
	ReadTimeoutMs      int    `json:"read_timeout_ms"`
	WriteTimeoutMs     int    `json:"write_timeout_ms"`
	KeyPrefix          string `json:"key_prefix"`
	ScanCount          int64  `json:"scan_count"`
}

// RedisStore namespaces every key under KeyPrefix so Clear and ListKeys never
// touch foreign keys on a shared server.
type RedisStore struct {
	logger types.Logger
	config *RedisConfig
	client *redis.Client
}

func NewRedisStore(ctx context.Context, logger types.Logger, config interface{}) (*RedisStore, error) {
	rConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeoutMs:      5000,
		ReadTimeoutMs:      3000,
		WriteTimeoutMs:     3000,
		KeyPrefix:          "sai-offline",
		ScanCount:          100,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, rConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis storage config")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", rConfig.Host, rConfig.Port),
		Password:     rConfig.Password,
		DB:           rConfig.DB,
		PoolSize:     rConfig.PoolSize,
		MinIdleConns: rConfig.MinIdleConnections,
		DialTimeout:  time.Duration(rConfig.DialTimeoutMs) * time.Millisecond,
		ReadTimeout:  time.Duration(rConfig.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(rConfig.WriteTimeoutMs) * time.Millisecond,
	})

	return newRedisStore(ctx, logger, rConfig, client)
}

func newRedisStore(ctx context.Context, logger types.Logger, config *RedisConfig, client *redis.Client) (*RedisStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.Errorf(types.ErrStorage, "failed to connect to redis: %v", err)
	}

	logger.Info("Redis storage connected",
		zap.String("addr", client.Options().Addr),
		zap.String("prefix", config.KeyPrefix))

	return &RedisStore{
		logger: logger,
		config: config,
		client: client,
	}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrStorageKeyEmpty
	}

	value, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.Errorf(types.ErrStorage, "failed to get key: %v", err)
	}

	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrStorageKeyEmpty
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), value, 0).Err(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to set key: %v", err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to delete key: %v", err)
	}
	return nil
}

func (r *RedisStore) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.buildFullKey(key)
	}

	values, err := r.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to get keys: %v", err)
	}

	for i, value := range values {
		if s, ok := value.(string); ok {
			result[keys[i]] = []byte(s)
		}
	}

	return result, nil
}

func (r *RedisStore) MultiSet(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	pairs := make(map[string]interface{}, len(entries))
	for key, value := range entries {
		if key == "" {
			return types.ErrStorageKeyEmpty
		}
		pairs[r.buildFullKey(key)] = value
	}

	if err := r.client.MSet(ctx, pairs).Err(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to set keys: %v", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	fullKeys, err := r.scan(ctx)
	if err != nil {
		return err
	}

	if len(fullKeys) == 0 {
		return nil
	}

	if err = r.client.Del(ctx, fullKeys...).Err(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to clear keys: %v", err)
	}
	return nil
}

func (r *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	fullKeys, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(fullKeys))
	for i, fullKey := range fullKeys {
		keys[i] = r.stripPrefix(fullKey)
	}
	return keys, nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis storage closed")
	return nil
}

func (r *RedisStore) scan(ctx context.Context) ([]string, error) {
	pattern := "*"
	if r.config.KeyPrefix != "" {
		pattern = r.config.KeyPrefix + ":*"
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, r.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to scan keys: %v", err)
	}

	return keys, nil
}

func (r *RedisStore) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}

func (r *RedisStore) stripPrefix(fullKey string) string {
	if r.config.KeyPrefix != "" {
		return strings.TrimPrefix(fullKey, r.config.KeyPrefix+":")
	}
	return fullKey
}
