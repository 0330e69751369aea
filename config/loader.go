package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-offline/types"
)

type Loader struct {
	validator   *validator.Validate
	readTimeout time.Duration
}

func NewLoader() *Loader {
	return &Loader{
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		readTimeout: 30 * time.Second,
	}
}

// Load returns the defaults when configPath is empty, otherwise the file
// decoded over the defaults.
func (l *Loader) Load(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		config := l.Defaults()
		return config, l.Validate(config)
	}
	return l.LoadFromFile(configPath)
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrConfigNotFound, "file: %s", configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.readTimeout)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-offline",
		Version: "1.0.0",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Storage: &types.StorageConfig{
			Type:     "memory",
			Fallback: true,
		},
		Cache: &types.CacheConfig{
			Prefix:          "cache_",
			DefaultTTL:      5 * time.Minute,
			CleanupSchedule: "0 */5 * * * *",
			TTL: types.CacheTTLConfig{
				Messages:      time.Minute,
				Conversations: 2 * time.Minute,
				Sessions:      10 * time.Minute,
				Coaches:       30 * time.Minute,
				Users:         60 * time.Minute,
			},
		},
		Sync: &types.SyncConfig{
			MaxRetries:    3,
			RetrySchedule: "*/30 * * * * *",
			SyncOnQueue:   true,
		},
		Remote: &types.RemoteConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Network: &types.NetworkConfig{
			InitialConnected: true,
			Probe: &types.ProbeConfig{
				Enabled:   false,
				Interval:  15 * time.Second,
				Timeout:   3 * time.Second,
				Transport: types.TransportWifi,
			},
		},
		Scheduler: &types.SchedulerConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Type:      "memory",
			Namespace: "sai_offline",
		},
		Health: &types.HealthConfig{
			Enabled: true,
		},
	}
}
