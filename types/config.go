package types

import (
	"time"
)

type ServiceConfig struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version" validate:"required"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger" validate:"required"`
	Storage   *StorageConfig   `yaml:"storage" json:"storage" validate:"required"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache" validate:"required"`
	Sync      *SyncConfig      `yaml:"sync" json:"sync" validate:"required"`
	Remote    *RemoteConfig    `yaml:"remote" json:"remote" validate:"required"`
	Network   *NetworkConfig   `yaml:"network" json:"network"`
	Scheduler *SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health    *HealthConfig    `yaml:"health" json:"health"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

// StorageConfig selects the durable key-value backend. Config carries the
// backend specific section and is decoded by the backend itself.
type StorageConfig struct {
	Type        string             `yaml:"type" json:"type" validate:"required"`
	Fallback    bool               `yaml:"fallback" json:"fallback"`
	Compression *CompressionConfig `yaml:"compression" json:"compression"`
	Encryption  *EncryptionConfig  `yaml:"encryption" json:"encryption"`
	Config      interface{}        `yaml:"config" json:"config"`
}

// CompressionConfig enables brotli for values of at least MinSize bytes.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	MinSize int  `yaml:"min_size" json:"min_size" validate:"min=0"`
	Level   int  `yaml:"level" json:"level" validate:"min=0,max=11"`
}

// EncryptionConfig seals every stored value. Key is 32 bytes hex encoded;
// otherwise the key is derived from Passphrase (or the PassphraseEnv
// variable) and Salt.
type EncryptionConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Key           string `yaml:"key" json:"-" validate:"omitempty,hexadecimal,len=64"`
	Passphrase    string `yaml:"passphrase" json:"-"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
	Salt          string `yaml:"salt" json:"salt"`
}

type CacheConfig struct {
	Prefix          string         `yaml:"prefix" json:"prefix" validate:"required"`
	DefaultTTL      time.Duration  `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	CleanupSchedule string         `yaml:"cleanup_schedule" json:"cleanup_schedule"`
	TTL             CacheTTLConfig `yaml:"ttl" json:"ttl"`
}

type CacheTTLConfig struct {
	Messages      time.Duration `yaml:"messages" json:"messages" validate:"min=0"`
	Conversations time.Duration `yaml:"conversations" json:"conversations" validate:"min=0"`
	Sessions      time.Duration `yaml:"sessions" json:"sessions" validate:"min=0"`
	Coaches       time.Duration `yaml:"coaches" json:"coaches" validate:"min=0"`
	Users         time.Duration `yaml:"users" json:"users" validate:"min=0"`
}

// For returns the configured TTL for an entity type, or fallback when none
// is set.
func (c CacheTTLConfig) For(entityType EntityType, fallback time.Duration) time.Duration {
	var ttl time.Duration
	switch entityType {
	case EntityMessage:
		ttl = c.Messages
	case EntityConversation:
		ttl = c.Conversations
	case EntitySession:
		ttl = c.Sessions
	case EntityCoach:
		ttl = c.Coaches
	case EntityUser:
		ttl = c.Users
	}

	if ttl <= 0 {
		return fallback
	}
	return ttl
}

type SyncConfig struct {
	MaxRetries    int    `yaml:"max_retries" json:"max_retries" validate:"min=1"`
	RetrySchedule string `yaml:"retry_schedule" json:"retry_schedule"`
	SyncOnQueue   bool   `yaml:"sync_on_queue" json:"sync_on_queue"`
}

type RemoteConfig struct {
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"min=0"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Simulated      *SimulatedConfig      `yaml:"simulated" json:"simulated"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"required_if=Enabled true"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

// SimulatedConfig tunes the in-process remote backend used by the CLI demo.
type SimulatedConfig struct {
	Latency     time.Duration `yaml:"latency" json:"latency"`
	FailureRate float64       `yaml:"failure_rate" json:"failure_rate" validate:"min=0,max=1"`
}

type NetworkConfig struct {
	InitialConnected bool         `yaml:"initial_connected" json:"initial_connected"`
	Probe            *ProbeConfig `yaml:"probe" json:"probe"`
}

type ProbeConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	URL       string        `yaml:"url" json:"url" validate:"required_if=Enabled true"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	Transport string        `yaml:"transport" json:"transport"`
}

type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled   bool        `yaml:"enabled" json:"enabled"`
	Type      string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Namespace string      `yaml:"namespace" json:"namespace"`
	Config    interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}
