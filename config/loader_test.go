package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-offline/types"
)

func TestDefaultsAreValid(t *testing.T) {
	loader := NewLoader()

	config, err := loader.Load("")
	require.NoError(t, err)

	assert.Equal(t, "cache_", config.Cache.Prefix)
	assert.Equal(t, 3, config.Sync.MaxRetries)
	assert.Equal(t, 10*time.Second, config.Remote.Timeout)
	assert.Equal(t, time.Minute, config.Cache.TTL.Messages)
	assert.Equal(t, 2*time.Minute, config.Cache.TTL.Conversations)
	assert.Equal(t, 10*time.Minute, config.Cache.TTL.Sessions)
	assert.Equal(t, 30*time.Minute, config.Cache.TTL.Coaches)
	assert.Equal(t, 60*time.Minute, config.Cache.TTL.Users)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
name: coach-app
version: 2.0.0
storage:
  type: clover
  config:
    path: ./data
cache:
  prefix: app_cache_
  ttl:
    coaches: 45m
sync:
  max_retries: 5
remote:
  timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	config, err := NewLoader().LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "coach-app", config.Name)
	assert.Equal(t, "clover", config.Storage.Type)
	assert.Equal(t, "app_cache_", config.Cache.Prefix)
	assert.Equal(t, 45*time.Minute, config.Cache.TTL.Coaches)
	assert.Equal(t, time.Minute, config.Cache.TTL.Messages)
	assert.Equal(t, 5, config.Sync.MaxRetries)
	assert.Equal(t, 2*time.Second, config.Remote.Timeout)
	assert.Equal(t, "info", config.Logger.Level)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestLoadFromBytesValidation(t *testing.T) {
	_, err := NewLoader().LoadFromBytes([]byte("sync:\n  max_retries: 0\n"))
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)

	_, err = NewLoader().LoadFromBytes([]byte("name: [broken"))
	assert.ErrorIs(t, err, types.ErrConfigParseFailed)
}

func TestParserLookup(t *testing.T) {
	config := NewLoader().Defaults()
	parser, err := NewParser(config)
	require.NoError(t, err)

	prefix, err := parser.Lookup("cache.prefix")
	require.NoError(t, err)
	assert.Equal(t, "cache_", prefix)

	coaches, err := parser.Lookup("cache.ttl.coaches")
	require.NoError(t, err)
	assert.Equal(t, (30 * time.Minute).String(), coaches)

	_, err = parser.Lookup("cache.missing")
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
	_, err = parser.Lookup("cache.prefix.deeper")
	assert.ErrorIs(t, err, types.ErrConfigNotFound)

	keys, err := parser.Keys("cache.ttl")
	require.NoError(t, err)
	assert.Equal(t, []string{"coaches", "conversations", "messages", "sessions", "users"}, keys)

	_, err = parser.Keys("cache.prefix")
	assert.ErrorIs(t, err, types.ErrConfigNotFound)

	_, err = NewParser(nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestParserRedactsSecrets(t *testing.T) {
	config := NewLoader().Defaults()
	config.Storage.Encryption = &types.EncryptionConfig{
		Enabled:    true,
		Key:        "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		Passphrase: "correct horse",
		Salt:       "device-0001",
	}

	parser, err := NewParser(config)
	require.NoError(t, err)

	key, err := parser.Lookup("storage.encryption.key")
	require.NoError(t, err)
	assert.Equal(t, redacted, key)

	passphrase, err := parser.Lookup("storage.encryption.passphrase")
	require.NoError(t, err)
	assert.Equal(t, redacted, passphrase)

	salt, err := parser.Lookup("storage.encryption.salt")
	require.NoError(t, err)
	assert.Equal(t, "device-0001", salt)

	assert.Equal(t, "correct horse", config.Storage.Encryption.Passphrase)
}

func TestSampleConfigLoads(t *testing.T) {
	config, err := NewLoader().LoadFromFile(filepath.Join("..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "clover", config.Storage.Type)
	require.NotNil(t, config.Storage.Compression)
	assert.True(t, config.Storage.Compression.Enabled)
	assert.Equal(t, 1024, config.Storage.Compression.MinSize)
	require.NotNil(t, config.Storage.Encryption)
	assert.Equal(t, "SAI_OFFLINE_PASSPHRASE", config.Storage.Encryption.PassphraseEnv)
	assert.Equal(t, 50*time.Millisecond, config.Remote.Simulated.Latency)
	assert.Equal(t, "prometheus", config.Metrics.Type)
}

func TestInvalidEncryptionKeyRejected(t *testing.T) {
	_, err := NewLoader().LoadFromBytes([]byte(`
storage:
  type: memory
  encryption:
    enabled: true
    key: not-hex
`))
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}
