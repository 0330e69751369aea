package metrics

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

type MemoryConfig struct {
	MaxMetrics       int  `yaml:"max_metrics" json:"max_metrics"`
	CleanupIntervalS int  `yaml:"cleanup_interval_s" json:"cleanup_interval_s"`
	System           bool `yaml:"system" json:"system"`
}

type MemoryMetrics struct {
	ctx         context.Context
	logger      types.Logger
	config      *MemoryConfig
	counters    map[string]*MemoryCounter
	gauges      map[string]*MemoryGauge
	histograms  map[string]*MemoryHistogram
	system      *SystemMetricsCollector
	running     atomic.Bool
	stopCleanup context.CancelFunc
	mu          sync.RWMutex
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (*MemoryMetrics, error) {
	memConfig := &MemoryConfig{
		MaxMetrics:       10000,
		CleanupIntervalS: 3600,
	}

	if config != nil && config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}

	m := &MemoryMetrics{
		ctx:         ctx,
		logger:      logger,
		config:      memConfig,
		counters:    make(map[string]*MemoryCounter),
		gauges:      make(map[string]*MemoryGauge),
		histograms:  make(map[string]*MemoryHistogram),
		stopCleanup: func() {},
	}

	if memConfig.System {
		m.system = NewSystemMetricsCollector(ctx, logger, m, 5*time.Second)
	}

	return m, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrAlreadyRunning
	}

	// Cleanup is scoped to this run.
	runCtx, stop := context.WithCancel(m.ctx)
	m.stopCleanup = stop
	if m.config.CleanupIntervalS > 0 {
		go m.cleanupRoutine(runCtx, time.Duration(m.config.CleanupIntervalS)*time.Second)
	}

	if m.system != nil {
		if err := m.system.Start(); err != nil {
			m.logger.Warn("Failed to start system collection", zap.Error(err))
		}
	}

	m.logger.Debug("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrNotRunning
	}

	if m.system != nil {
		_ = m.system.Stop()
	}

	m.stopCleanup()

	m.logger.Debug("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.running.Load()
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{name: name, labels: copyLabels(labels)}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{name: name, labels: copyLabels(labels)}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := buildKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  copyLabels(labels),
		buckets: make([]float64, len(buckets)),
		counts:  make([]uint64, len(buckets)+1),
	}
	copy(histogram.buckets, buckets)
	m.histograms[key] = histogram
	return histogram
}

// Snapshot returns every metric sorted by name, then by label key.
func (m *MemoryMetrics) Snapshot() []types.MetricValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	values := make([]types.MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))

	for _, counter := range m.counters {
		values = append(values, types.MetricValue{
			Name: counter.name, Type: "counter", Value: counter.Get(), Labels: counter.labels, Timestamp: now,
		})
	}
	for _, gauge := range m.gauges {
		values = append(values, types.MetricValue{
			Name: gauge.name, Type: "gauge", Value: gauge.Get(), Labels: gauge.labels, Timestamp: now,
		})
	}
	for _, histogram := range m.histograms {
		values = append(values, types.MetricValue{
			Name: histogram.name, Type: "histogram", Value: histogram.GetSum(), Labels: histogram.labels, Timestamp: now,
		})
	}

	sort.Slice(values, func(i, j int) bool {
		if values[i].Name != values[j].Name {
			return values[i].Name < values[j].Name
		}
		return buildKey("", values[i].Labels) < buildKey("", values[j].Labels)
	})

	return values
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}
	return utils.Marshal(m.Snapshot())
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(m.counters) + len(m.gauges) + len(m.histograms),
		CounterMetrics:   len(m.counters),
		GaugeMetrics:     len(m.gauges),
		HistogramMetrics: len(m.histograms),
		LastUpdate:       time.Now(),
	}

	return utils.Marshal(stats)
}

func (m *MemoryMetrics) cleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-ctx.Done():
			return
		}
	}
}

// performCleanup drops counters once the registry outgrows MaxMetrics.
func (m *MemoryMetrics) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalMetrics := len(m.counters) + len(m.gauges) + len(m.histograms)
	if totalMetrics <= m.config.MaxMetrics {
		return
	}

	toRemove := totalMetrics - m.config.MaxMetrics
	removed := 0

	for key := range m.counters {
		if removed >= toRemove {
			break
		}
		delete(m.counters, key)
		removed++
	}

	m.logger.Debug("Memory metrics cleanup completed", zap.Int("removed", removed))
}

func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	addFloat(&c.value, value)
}

func (c *MemoryCounter) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc()              { addFloat(&g.value, 1) }
func (g *MemoryGauge) Dec()              { addFloat(&g.value, -1) }
func (g *MemoryGauge) Add(value float64) { addFloat(&g.value, value) }
func (g *MemoryGauge) Sub(value float64) { addFloat(&g.value, -value) }

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

func addFloat(bits *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(bits, old, next) {
			return
		}
	}
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	addFloat(&h.sum, value)

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	atomic.AddUint64(&h.counts[bucketIndex], 1)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}
