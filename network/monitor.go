package network

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
)

// Monitor holds the current connectivity state and fans changes out to
// subscribers. Listeners are invoked synchronously, in subscription order,
// only when the state actually differs from the previous one.
type Monitor struct {
	logger    types.Logger
	mu        sync.RWMutex
	state     types.NetworkState
	listeners map[uint64]func(types.NetworkState)
	nextID    uint64
}

func NewMonitor(logger types.Logger, initial types.NetworkState) *Monitor {
	if initial.TransportType == "" {
		if initial.IsConnected {
			initial.TransportType = types.TransportUnknown
		} else {
			initial.TransportType = types.TransportNone
		}
	}

	return &Monitor{
		logger:    logger,
		state:     initial,
		listeners: make(map[uint64]func(types.NetworkState)),
	}
}

func (m *Monitor) Current() types.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Subscribe(fn func(types.NetworkState)) func() {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Update records a new state. It reports whether the state changed.
func (m *Monitor) Update(state types.NetworkState) bool {
	if !state.IsConnected && state.TransportType == "" {
		state.TransportType = types.TransportNone
	}

	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return false
	}
	previous := m.state
	m.state = state

	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]func(types.NetworkState), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	m.logger.Info("Network state changed",
		zap.Bool("was_connected", previous.IsConnected),
		zap.Bool("connected", state.IsConnected),
		zap.String("transport", state.TransportType))

	for _, listener := range listeners {
		m.notify(listener, state)
	}

	return true
}

func (m *Monitor) SetConnected(connected bool, transport string) bool {
	return m.Update(types.NetworkState{IsConnected: connected, TransportType: transport})
}

func (m *Monitor) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

func (m *Monitor) notify(listener func(types.NetworkState), state types.NetworkState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Network listener panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	listener(state)
}
