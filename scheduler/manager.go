package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type job struct {
	entry types.JobEntry
	run   types.Job
}

// Manager runs named jobs on six-field cron specs (seconds first). A job
// never overlaps with itself; a tick that arrives while the previous run is
// still in progress is skipped.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	jobs            map[string]*job
	running         map[string]bool
	mu              sync.RWMutex
	state           atomic.Value
	wg              sync.WaitGroup
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

type Option func(*Manager)

func WithJobTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.jobTimeout = timeout
		}
	}
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.SchedulerConfig, opts ...Option) *Manager {
	timezone := time.UTC
	if config != nil && config.Timezone != "" {
		if loc, err := time.LoadLocation(config.Timezone); err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown scheduler timezone, using UTC", zap.String("timezone", config.Timezone))
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		timezone:        timezone,
		jobs:            make(map[string]*job),
		running:         make(map[string]bool),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      5 * time.Minute,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.state.Store(StateStopped)

	return m
}

func (m *Manager) Add(jobName, spec string, run types.Job) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if run == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return types.ErrCronSchedulerStopped
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "job: %s", jobName)
	}

	entryID, err := m.cron.AddFunc(spec, func() { m.execute(jobName) })
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	j := &job{
		entry: types.JobEntry{
			ID:      entryID,
			Name:    jobName,
			Spec:    spec,
			AddedAt: time.Now(),
		},
		run: run,
	}
	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		j.entry.NextRun = cronEntry.Next
	}
	m.jobs[jobName] = j

	m.logger.Info("Scheduled job added", zap.String("job_name", jobName), zap.String("spec", spec))
	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", jobName)
	}

	m.cron.Remove(j.entry.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Scheduled job removed", zap.String("job_name", jobName))
	return nil
}

// Jobs returns a snapshot of every job ordered by name.
func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.JobEntry, 0, len(m.jobs))
	for _, j := range m.jobs {
		entry := j.entry
		if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
			entry.NextRun = cronEntry.Next
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Name < entries[k].Name })
	return entries
}

// RunNow executes jobName synchronously outside its schedule.
func (m *Manager) RunNow(jobName string) error {
	m.mu.RLock()
	_, exists := m.jobs[jobName]
	m.mu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", jobName)
	}

	return m.execute(jobName)
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	m.cron.Start()
	m.setSchedulerStatus(1)

	m.setState(StateRunning)
	m.logger.Info("Scheduler started",
		zap.String("timezone", m.timezone.String()),
		zap.Int("jobs", len(m.Jobs())))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer m.setState(StateStopped)

	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	stopCtx := m.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		m.wg.Wait()
		close(done)
	}()

	m.setSchedulerStatus(0)

	select {
	case <-done:
		m.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Scheduler stop timeout, some jobs may still be running")
		return types.ErrCronJobTimeout
	}
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) execute(jobName string) (err error) {
	m.mu.Lock()
	j, exists := m.jobs[jobName]
	if !exists || m.ctx.Err() != nil {
		m.mu.Unlock()
		return types.ErrCronSchedulerStopped
	}
	if m.running[jobName] {
		m.mu.Unlock()
		m.logger.Debug("Scheduled job still running, tick skipped", zap.String("job_name", jobName))
		return nil
	}
	m.running[jobName] = true
	m.wg.Add(1)
	run := j.run
	m.mu.Unlock()

	start := time.Now()
	m.activeJobs(1)

	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
		}

		duration := time.Since(start)
		m.finish(jobName, start, duration, err)
		m.activeJobs(-1)
		m.wg.Done()
	}()

	jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
	defer cancel()

	err = run(jobCtx)
	if err == nil && types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
		err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
	}

	return err
}

func (m *Manager) finish(jobName string, start time.Time, duration time.Duration, err error) {
	m.mu.Lock()
	delete(m.running, jobName)
	if j, ok := m.jobs[jobName]; ok {
		j.entry.LastRun = start
		j.entry.LastDuration = duration
		j.entry.TotalDuration += duration
		j.entry.RunCount++
		j.entry.AvgDuration = j.entry.TotalDuration / time.Duration(j.entry.RunCount)
		j.entry.LastError = ""
		if err != nil {
			j.entry.LastError = err.Error()
		}
	}
	m.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
		m.logger.Error("Scheduled job failed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		m.logger.Debug("Scheduled job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}

	if m.metrics == nil {
		return
	}

	m.metrics.Counter("scheduler_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()

	m.metrics.Histogram("scheduler_job_duration_seconds",
		[]float64{0.01, 0.1, 1.0, 10.0, 60.0, 300.0},
		map[string]string{"job_name": jobName},
	).Observe(duration.Seconds())
}

func (m *Manager) activeJobs(delta float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("scheduler_active_jobs", nil).Add(delta)
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("scheduler_running", nil).Set(value)
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(toFields(keysAndValues), zap.Error(err))...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
