package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrStorage            = errors.New("storage unavailable")
	ErrStorageTypeUnknown = errors.New("storage type unknown")
	ErrStorageKeyEmpty    = errors.New("storage key empty")
	ErrStorageClosed      = errors.New("storage closed")
	ErrStorageSealed      = errors.New("storage value cannot be unsealed")
	ErrStorageKeyInvalid  = errors.New("storage encryption key invalid")
)

var (
	ErrCacheKeyEmpty       = errors.New("cache key empty")
	ErrCacheEntryCorrupted = errors.New("cache entry corrupted")
)

var (
	ErrNetwork            = errors.New("network error")
	ErrRemoteTimeout      = errors.New("remote call timeout")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrRemoteNotFound     = errors.New("remote entity not found")
	ErrEndpointMissing    = errors.New("remote endpoint missing")
)

var (
	ErrInvalidAction      = errors.New("invalid offline action")
	ErrUnknownEntityType  = errors.New("unknown entity type")
	ErrQueueCorrupted     = errors.New("action queue corrupted")
	ErrSyncExhausted      = errors.New("sync retries exhausted")
	ErrUnresolvedConflict = errors.New("unresolved sync conflict")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronJobFailed         = errors.New("cron job failed")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsNotRunning  = errors.New("metrics not running")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
	ErrLoggerConfigNil    = errors.New("logger config is nil")
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// IsNetworkError reports whether err belongs to the remote/connectivity class
// that triggers read-path fallbacks.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRemoteTimeout) ||
		errors.Is(err, ErrCircuitBreakerOpen)
}
