package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/types"
)

func testLogger(t *testing.T) types.Logger {
	return logger.NewZapWrapper(zaptest.NewLogger(t))
}

func TestMonitorNotifiesOnlyOnChange(t *testing.T) {
	m := NewMonitor(testLogger(t), types.NetworkState{IsConnected: true, TransportType: types.TransportWifi})

	var mu sync.Mutex
	var seen []types.NetworkState
	unsubscribe := m.Subscribe(func(state types.NetworkState) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	})

	assert.False(t, m.SetConnected(true, types.TransportWifi))
	assert.True(t, m.SetConnected(false, ""))
	assert.False(t, m.SetConnected(false, types.TransportNone))
	assert.True(t, m.SetConnected(true, types.TransportCellular))

	unsubscribe()
	unsubscribe()
	assert.True(t, m.SetConnected(false, ""))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.False(t, seen[0].IsConnected)
	assert.Equal(t, types.TransportNone, seen[0].TransportType)
	assert.Equal(t, types.TransportCellular, seen[1].TransportType)
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestMonitorRecoversListenerPanic(t *testing.T) {
	m := NewMonitor(testLogger(t), types.NetworkState{IsConnected: false})
	assert.Equal(t, types.TransportNone, m.Current().TransportType)

	var called atomic.Int32
	m.Subscribe(func(types.NetworkState) { panic("listener failure") })
	m.Subscribe(func(types.NetworkState) { called.Add(1) })

	require.NotPanics(t, func() { m.SetConnected(true, types.TransportEthernet) })
	assert.Equal(t, int32(1), called.Load())
	assert.True(t, m.Current().IsConnected)
}

func TestProberUpdatesMonitor(t *testing.T) {
	m := NewMonitor(testLogger(t), types.NetworkState{IsConnected: true, TransportType: types.TransportWifi})

	var fail atomic.Bool
	check := func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("unreachable")
		}
		return nil
	}

	p := NewProber(context.Background(), testLogger(t), m, &types.ProbeConfig{
		Interval:  10 * time.Millisecond,
		Timeout:   time.Second,
		Transport: types.TransportWifi,
	}, check)

	fail.Store(true)
	state := p.ProbeOnce(context.Background())
	assert.False(t, state.IsConnected)
	assert.False(t, m.Current().IsConnected)

	fail.Store(false)
	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), types.ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return m.Current().IsConnected }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	check := HTTPChecker("http://127.0.0.1:1/health", 200*time.Millisecond)
	err := check(context.Background())
	assert.ErrorIs(t, err, types.ErrNetwork)
}
