package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/config"
	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/remote"
	"github.com/saiset-co/sai-offline/repository"
	"github.com/saiset-co/sai-offline/types"
)

func newTestApp(t *testing.T, connected bool, mutate ...func(*types.ServiceConfig)) (*Application, *remote.Simulated) {
	cfg := config.NewLoader().Defaults()
	cfg.Network.InitialConnected = connected
	cfg.Sync.RetrySchedule = ""
	for _, fn := range mutate {
		fn(cfg)
	}

	sim := remote.NewSimulated(nil)
	a, err := New(context.Background(), cfg,
		WithLogger(logger.NewZapWrapper(zaptest.NewLogger(t))),
		WithRemote(sim))
	require.NoError(t, err)

	return a, sim
}

func TestApplicationLifecycle(t *testing.T) {
	a, _ := newTestApp(t, true)

	require.NoError(t, a.Start())
	assert.True(t, a.IsRunning())
	assert.True(t, a.Engine().IsRunning())
	assert.True(t, a.Health().IsRunning())
	require.NotNil(t, a.Scheduler())
	assert.True(t, a.Scheduler().IsRunning())
	assert.ErrorIs(t, a.Start(), types.ErrAlreadyRunning)

	require.NoError(t, a.Stop())
	assert.False(t, a.IsRunning())
	assert.False(t, a.Engine().IsRunning())
	assert.ErrorIs(t, a.Stop(), types.ErrNotRunning)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestOfflineWriteReplaysOnReconnect(t *testing.T) {
	a, sim := newTestApp(t, false)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop() })

	ctx := context.Background()
	coach := types.Coach{ID: "c1", Name: "Ada", Available: true}

	_, err := a.Repository().CreateEntity(ctx, coach)
	require.NoError(t, err)

	pending, err := a.Engine().PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, sim.Len(types.EntityCoach))

	report := a.Health().Check(ctx)
	assert.Equal(t, types.StatusDegraded, report.Checks["network"].Status)

	entities, err := a.Repository().FetchEntities(ctx, types.EntityCoach, repository.DefaultFetchOptions())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "c1", entities[0].EntityID())

	a.Network().SetConnected(true, types.TransportWifi)

	assert.Eventually(t, func() bool {
		n, err := a.Engine().PendingCount(ctx)
		return err == nil && n == 0 && sim.Len(types.EntityCoach) == 1
	}, 2*time.Second, 10*time.Millisecond)

	report = a.Health().Check(ctx)
	assert.Equal(t, types.StatusHealthy, report.Status)
}

func TestDeadLettersDegradeHealth(t *testing.T) {
	a, sim := newTestApp(t, true, func(cfg *types.ServiceConfig) {
		cfg.Sync.SyncOnQueue = false
	})
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop() })

	ctx := context.Background()
	sim.SetDown(true)

	_, err := a.Repository().UpdateEntity(ctx, types.Coach{ID: "missing"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		if _, err := a.Engine().ForceSync(ctx); err != nil {
			return false
		}
		dead, err := a.Engine().DeadLetters(ctx)
		return err == nil && len(dead) == 1
	}, 2*time.Second, 10*time.Millisecond)

	report := a.Health().Check(ctx)
	assert.Equal(t, types.StatusDegraded, report.Checks["queue"].Status)
	assert.Equal(t, types.StatusDegraded, report.Status)
}
