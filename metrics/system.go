package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-offline/types"
)

// SystemMetricsCollector samples Go runtime gauges on a fixed interval. It
// can be stopped and started again.
type SystemMetricsCollector struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	metrics   types.MetricsManager
	interval  time.Duration
	startTime time.Time
	running   atomic.Bool
	done      chan struct{}
}

func NewSystemMetricsCollector(ctx context.Context, logger types.Logger, metrics types.MetricsManager, interval time.Duration) *SystemMetricsCollector {
	return &SystemMetricsCollector{
		ctx:      ctx,
		cancel:   func() {},
		logger:   logger,
		metrics:  metrics,
		interval: interval,
	}
}

func (smc *SystemMetricsCollector) Start() error {
	if !smc.running.CompareAndSwap(false, true) {
		return types.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(smc.ctx)
	smc.cancel = cancel
	smc.done = make(chan struct{})
	smc.startTime = time.Now()
	go smc.collectLoop(runCtx, smc.done)

	smc.logger.Debug("System metrics collection started")
	return nil
}

func (smc *SystemMetricsCollector) Stop() error {
	if !smc.running.CompareAndSwap(true, false) {
		return types.ErrNotRunning
	}

	smc.cancel()
	<-smc.done

	smc.logger.Debug("System metrics collection stopped")
	return nil
}

func (smc *SystemMetricsCollector) IsRunning() bool {
	return smc.running.Load()
}

func (smc *SystemMetricsCollector) collectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect()

	for {
		select {
		case <-ticker.C:
			smc.collect()
		case <-ctx.Done():
			return
		}
	}
}

func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	smc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_alloc"}).Set(float64(m.HeapAlloc))
	smc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"}).Set(float64(m.HeapInuse))
	smc.metrics.Gauge("system_memory_usage_bytes", map[string]string{"type": "sys"}).Set(float64(m.Sys))
	smc.metrics.Gauge("system_goroutines_count", nil).Set(float64(runtime.NumGoroutine()))
	smc.metrics.Gauge("system_gc_count", nil).Set(float64(m.NumGC))
	smc.metrics.Gauge("system_uptime_seconds", nil).Set(time.Since(smc.startTime).Seconds())
}
