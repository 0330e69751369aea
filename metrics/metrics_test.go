package metrics

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

func testLogger(t *testing.T) types.Logger {
	return logger.NewZapWrapper(zaptest.NewLogger(t))
}

func TestManagerDisabledIsNoop(t *testing.T) {
	m, err := NewManager(context.Background(), testLogger(t), &types.MetricsConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	m.Counter("sync_passes_total", nil).Inc()
	assert.Zero(t, m.Counter("sync_passes_total", nil).Get())
	assert.Nil(t, m.Backend())
}

func TestManagerUnknownType(t *testing.T) {
	_, err := NewManager(context.Background(), testLogger(t), &types.MetricsConfig{Enabled: true, Type: "statsd"})
	assert.ErrorIs(t, err, types.ErrMetricsTypeUnknown)
}

func TestManagerMemory(t *testing.T) {
	m, err := NewManager(context.Background(), testLogger(t), &types.MetricsConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)

	m.Counter("before_start", nil).Inc()

	require.NoError(t, m.Start())
	defer m.Stop()
	assert.ErrorIs(t, m.Start(), types.ErrAlreadyRunning)

	labels := map[string]string{"operation": "get", "result": "hit"}
	m.Counter("cache_operations_total", labels).Inc()
	m.Counter("cache_operations_total", map[string]string{"result": "hit", "operation": "get"}).Add(2)
	assert.Equal(t, float64(3), m.Counter("cache_operations_total", labels).Get())

	gauge := m.Gauge("sync_queue_length", nil)
	gauge.Set(4)
	gauge.Dec()
	assert.Equal(t, float64(3), gauge.Get())

	histogram := m.Histogram("sync_pass_duration_seconds", []float64{0.1, 1}, nil)
	histogram.Observe(0.5)
	histogram.Observe(2)
	assert.Equal(t, uint64(2), histogram.GetCount())
	assert.InDelta(t, 2.5, histogram.GetSum(), 1e-9)

	raw, err := m.GetStats()
	require.NoError(t, err)
	var stats types.MetricsStats
	require.NoError(t, utils.Unmarshal(raw, &stats))
	assert.Equal(t, 3, stats.TotalMetrics)

	raw, err = m.GetMetrics()
	require.NoError(t, err)
	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(raw, &values))
	require.Len(t, values, 3)
	assert.Equal(t, "cache_operations_total", values[0].Name)
}

func TestPrometheusMetrics(t *testing.T) {
	p, err := NewPrometheusMetrics(context.Background(), testLogger(t), &types.MetricsConfig{Namespace: "test"})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	p.Counter("sync_actions_total", map[string]string{"result": "success"}).Add(2)
	p.Counter("sync_actions_total", map[string]string{"result": "failure"}).Inc()
	assert.Equal(t, float64(2), p.Counter("sync_actions_total", map[string]string{"result": "success"}).Get())

	p.Gauge("sync_queue_length", nil).Set(7)
	assert.Equal(t, float64(7), p.Gauge("sync_queue_length", nil).Get())

	h := p.Histogram("sync_pass_duration_seconds", []float64{0.1, 1}, nil)
	h.Observe(0.3)
	assert.Equal(t, uint64(1), h.GetCount())

	var buf bytes.Buffer
	require.NoError(t, p.WriteText(&buf))
	assert.Contains(t, buf.String(), "test_sync_actions_total")
	assert.Contains(t, buf.String(), "test_sync_queue_length 7")
}

func TestMemoryMetricsRestart(t *testing.T) {
	m, err := NewMemoryMetrics(context.Background(), testLogger(t), &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
		Config:  map[string]interface{}{"cleanup_interval_s": 1, "system": true},
	})
	require.NoError(t, err)

	for run := 0; run < 3; run++ {
		require.NoError(t, m.Start())
		assert.True(t, m.IsRunning())
		m.Counter("sync_passes_total", nil).Inc()
		require.NoError(t, m.Stop())
		assert.False(t, m.IsRunning())
	}

	assert.ErrorIs(t, m.Stop(), types.ErrNotRunning)
	assert.Equal(t, float64(3), m.Counter("sync_passes_total", nil).Get())
}
