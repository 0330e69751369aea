package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/types"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	m := NewManager(context.Background(), logger.NewZapWrapper(zaptest.NewLogger(t)), "sai-offline", "1.2.3", opts...)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func status(s types.HealthStatus) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: s}
	}
}

func TestCheckAllHealthy(t *testing.T) {
	m := newTestManager(t)
	m.RegisterChecker("storage", status(types.StatusHealthy))
	m.RegisterChecker("network", status(types.StatusHealthy))

	report := m.Check(context.Background())

	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Healthy)
	assert.Equal(t, "sai-offline", report.Service.Name)
	assert.Equal(t, "1.2.3", report.Service.Version)
	assert.Equal(t, "network", report.Checks["network"].Name)
	assert.Equal(t, []string{"network", "storage"}, m.Names())
}

func TestCheckDegradedAndUnhealthy(t *testing.T) {
	m := newTestManager(t)
	m.RegisterChecker("storage", status(types.StatusDegraded))

	report := m.Check(context.Background())
	assert.Equal(t, types.StatusDegraded, report.Status)
	assert.Equal(t, 1, report.Summary.Degraded)

	m.RegisterChecker("queue", status(types.StatusUnhealthy))
	report = m.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 1, report.Summary.Unhealthy)
	assert.Len(t, m.LastResults(), 2)
}

func TestCheckRecoversPanics(t *testing.T) {
	m := newTestManager(t)
	m.RegisterChecker("broken", func(ctx context.Context) types.HealthCheck {
		panic("boom")
	})

	report := m.Check(context.Background())

	require.Contains(t, report.Checks, "broken")
	assert.Equal(t, types.StatusUnhealthy, report.Checks["broken"].Status)
	assert.Contains(t, report.Checks["broken"].Message, "boom")
}

func TestCheckTimeout(t *testing.T) {
	m := newTestManager(t, WithCheckTimeout(20*time.Millisecond))
	m.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := m.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Checks["slow"].Status)
	assert.Equal(t, "health check timeout", report.Checks["slow"].Message)
}

func TestMissingStatusIsUnknown(t *testing.T) {
	m := newTestManager(t)
	m.RegisterChecker("empty", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{}
	})

	report := m.Check(context.Background())
	assert.Equal(t, types.StatusUnknown, report.Status)
	assert.Equal(t, 1, report.Summary.Unknown)
}

func TestLifecycle(t *testing.T) {
	m := NewManager(context.Background(), logger.NewZapWrapper(zaptest.NewLogger(t)), "svc", "v")
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrNotRunning)
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrAlreadyRunning)
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}
