package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

type SQLiteConfig struct {
	Path         string `yaml:"path" json:"path"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// SQLiteStore keeps every key as a row of the kv table.
type SQLiteStore struct {
	db     *sql.DB
	logger types.Logger
	config *SQLiteConfig
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config interface{}) (*SQLiteStore, error) {
	sConfig := &SQLiteConfig{
		Path:         "./data/offline.db",
		MaxOpenConns: 1,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite config")
		}
	}

	if dir := filepath.Dir(sConfig.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.Errorf(types.ErrStorage, "failed to create sqlite directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", sConfig.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to open sqlite: %v", err)
	}

	if sConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(sConfig.MaxOpenConns)
	}

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, types.Errorf(types.ErrStorage, "failed to create kv table: %v", err)
	}

	logger.Info("SQLite storage opened", zap.String("path", sConfig.Path))

	return &SQLiteStore{
		db:     db,
		logger: logger,
		config: sConfig,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrStorageKeyEmpty
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, types.Errorf(types.ErrStorage, "failed to read key: %v", err)
	}

	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrStorageKeyEmpty
	}

	if _, err := s.db.ExecContext(ctx, upsertStatement, key, nonNil(value)); err != nil {
		return types.Errorf(types.ErrStorage, "failed to write key: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return types.Errorf(types.ErrStorage, "failed to delete key: %v", err)
	}
	return nil
}

func (s *SQLiteStore) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to read keys: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err = rows.Scan(&key, &value); err != nil {
			return nil, types.Errorf(types.ErrStorage, "failed to scan row: %v", err)
		}
		result[key] = value
	}

	if err = rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to iterate rows: %v", err)
	}

	return result, nil
}

func (s *SQLiteStore) MultiSet(ctx context.Context, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Errorf(types.ErrStorage, "failed to begin transaction: %v", err)
	}

	for key, value := range entries {
		if key == "" {
			_ = tx.Rollback()
			return types.ErrStorageKeyEmpty
		}
		if _, err = tx.ExecContext(ctx, upsertStatement, key, nonNil(value)); err != nil {
			_ = tx.Rollback()
			return types.Errorf(types.ErrStorage, "failed to write key %s: %v", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return types.Errorf(types.ErrStorage, "failed to commit transaction: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return types.Errorf(types.ErrStorage, "failed to clear kv table: %v", err)
	}
	return nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to list keys: %v", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, types.Errorf(types.ErrStorage, "failed to scan key: %v", err)
		}
		keys = append(keys, key)
	}

	if err = rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrStorage, "failed to iterate keys: %v", err)
	}

	return keys, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite")
	}

	s.logger.Info("SQLite storage closed")
	return nil
}

const upsertStatement = `INSERT INTO kv (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
