package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
)

const DefaultTimeout = 10 * time.Second

// Guarded bounds every call of the wrapped provider with a timeout and an
// optional circuit breaker, and maps failures onto the network error class.
// types.ErrRemoteNotFound and types.ErrEndpointMissing pass through as-is.
type Guarded struct {
	inner   types.RemoteProvider
	logger  types.Logger
	metrics types.MetricsManager
	breaker *CircuitBreaker
	timeout time.Duration
}

func NewGuarded(inner types.RemoteProvider, logger types.Logger, metrics types.MetricsManager, config *types.RemoteConfig) *Guarded {
	g := &Guarded{
		inner:   inner,
		logger:  logger,
		metrics: metrics,
		timeout: DefaultTimeout,
	}

	if config != nil {
		if config.Timeout > 0 {
			g.timeout = config.Timeout
		}
		g.breaker = NewCircuitBreaker(config.CircuitBreaker, logger, "remote")
	}

	return g
}

func (g *Guarded) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *Guarded) Timeout() time.Duration {
	return g.timeout
}

func (g *Guarded) FetchAll(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	return guard(ctx, g, "fetch_all", entityType, func(ctx context.Context) ([]types.Entity, error) {
		return g.inner.FetchAll(ctx, entityType)
	})
}

func (g *Guarded) FetchOne(ctx context.Context, entityType types.EntityType, id string) (types.Entity, error) {
	return guard(ctx, g, "fetch_one", entityType, func(ctx context.Context) (types.Entity, error) {
		return g.inner.FetchOne(ctx, entityType, id)
	})
}

func (g *Guarded) Create(ctx context.Context, entity types.Entity) (types.Entity, error) {
	return guard(ctx, g, "create", entity.EntityType(), func(ctx context.Context) (types.Entity, error) {
		return g.inner.Create(ctx, entity)
	})
}

func (g *Guarded) Update(ctx context.Context, entity types.Entity) (types.Entity, error) {
	return guard(ctx, g, "update", entity.EntityType(), func(ctx context.Context) (types.Entity, error) {
		return g.inner.Update(ctx, entity)
	})
}

func (g *Guarded) Delete(ctx context.Context, entityType types.EntityType, id string) error {
	_, err := guard(ctx, g, "delete", entityType, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.Delete(ctx, entityType, id)
	})
	return err
}

type outcome[T any] struct {
	value T
	err   error
}

func guard[T any](ctx context.Context, g *Guarded, operation string, entityType types.EntityType, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	if !g.breaker.CanExecute() {
		g.recordMetric(operation, entityType, "rejected", time.Since(start))
		return zero, types.Errorf(types.ErrCircuitBreakerOpen, "%s %s", operation, entityType)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("remote %s panicked: %v", operation, r)}
			}
		}()
		value, err := fn(callCtx)
		done <- outcome[T]{value: value, err: err}
	}()

	var result outcome[T]
	select {
	case result = <-done:
		if result.err != nil && errors.Is(result.err, context.DeadlineExceeded) && ctx.Err() == nil {
			result.err = types.Errorf(types.ErrRemoteTimeout, "%s %s after %s", operation, entityType, g.timeout)
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			result.err = types.WrapError(ctx.Err(), fmt.Sprintf("%s %s", operation, entityType))
		} else {
			result.err = types.Errorf(types.ErrRemoteTimeout, "%s %s after %s", operation, entityType, g.timeout)
		}
	}

	err := classify(operation, entityType, result.err)

	switch {
	case err == nil:
		g.breaker.RecordSuccess()
		g.recordMetric(operation, entityType, "success", time.Since(start))
		return result.value, nil
	case types.IsNetworkError(err):
		g.breaker.RecordFailure()
		g.recordMetric(operation, entityType, "error", time.Since(start))
		g.logger.Debug("Remote call failed",
			zap.String("operation", operation),
			zap.String("entity_type", entityType.String()),
			zap.Error(err))
	default:
		g.recordMetric(operation, entityType, "rejected", time.Since(start))
	}

	return zero, err
}

func classify(operation string, entityType types.EntityType, err error) error {
	switch {
	case err == nil:
		return nil
	case types.IsNetworkError(err),
		errors.Is(err, types.ErrRemoteNotFound),
		errors.Is(err, types.ErrEndpointMissing),
		errors.Is(err, types.ErrUnknownEntityType):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s %s: %w", types.ErrNetwork, operation, entityType, err)
	}
}

func (g *Guarded) recordMetric(operation string, entityType types.EntityType, result string, duration time.Duration) {
	if g.metrics == nil {
		return
	}

	g.metrics.Counter("remote_calls_total", map[string]string{
		"operation":   operation,
		"entity_type": entityType.String(),
		"result":      result,
	}).Inc()

	g.metrics.Histogram("remote_call_duration_seconds",
		[]float64{0.005, 0.05, 0.25, 1, 5, 10},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}
