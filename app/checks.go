package app

import (
	"context"
	"fmt"

	"github.com/saiset-co/sai-offline/remote"
	"github.com/saiset-co/sai-offline/storage"
	"github.com/saiset-co/sai-offline/types"
)

const probeKey = "health_probe"

func (a *Application) registerCheckers(h types.HealthManager) {
	h.RegisterChecker("storage", a.checkStorage)
	h.RegisterChecker("network", a.checkNetwork)
	h.RegisterChecker("queue", a.checkQueue)
	h.RegisterChecker("remote", a.checkRemote)
}

func (a *Application) checkStorage(ctx context.Context) types.HealthCheck {
	if err := a.storage.Set(ctx, probeKey, []byte("ok")); err != nil {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
	}
	_ = a.storage.Remove(ctx, probeKey)

	check := types.HealthCheck{
		Status:  types.StatusHealthy,
		Details: map[string]interface{}{"type": a.config.Storage.Type},
	}

	if resilient, ok := a.storage.(*storage.Resilient); ok && resilient.Degraded() {
		check.Status = types.StatusDegraded
		check.Message = "primary storage failing, serving from memory"
		check.Details["failures"] = resilient.Failures()
	}

	return check
}

func (a *Application) checkNetwork(_ context.Context) types.HealthCheck {
	state := a.monitor.Current()
	check := types.HealthCheck{
		Status:  types.StatusHealthy,
		Details: map[string]interface{}{"transport": state.TransportType},
	}

	if !state.IsConnected {
		check.Status = types.StatusDegraded
		check.Message = "offline"
	}

	return check
}

func (a *Application) checkQueue(ctx context.Context) types.HealthCheck {
	pending, err := a.engine.PendingCount(ctx)
	if err != nil {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
	}

	dead, err := a.engine.DeadLetters(ctx)
	if err != nil {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
	}

	check := types.HealthCheck{
		Status: types.StatusHealthy,
		Details: map[string]interface{}{
			"pending":       pending,
			"dead_lettered": len(dead),
			"last_sync":     a.engine.LastSyncTime(),
		},
	}

	if len(dead) > 0 {
		check.Status = types.StatusDegraded
		check.Message = fmt.Sprintf("%d action(s) exhausted their retries", len(dead))
	}

	return check
}

func (a *Application) checkRemote(_ context.Context) types.HealthCheck {
	state := a.remote.Breaker().State()
	check := types.HealthCheck{
		Status:  types.StatusHealthy,
		Details: map[string]interface{}{"breaker": state.String()},
	}

	switch state {
	case remote.BreakerOpen:
		check.Status = types.StatusDegraded
		check.Message = "circuit breaker open"
	case remote.BreakerHalfOpen:
		check.Status = types.StatusDegraded
		check.Message = "circuit breaker probing"
	}

	return check
}
