package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/queue"
	"github.com/saiset-co/sai-offline/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// SyncResult summarises one call of SyncPendingActions. Skipped is set when
// another pass was already running or, with Offline, when the device had no
// connectivity at pass start.
type SyncResult struct {
	Skipped      bool
	Offline      bool
	Processed    int
	Succeeded    int
	Retained     int
	DeadLettered int
	Duration     time.Duration
}

// Engine replays queued offline actions against the remote provider and
// maintains the per-type durable snapshots.
type Engine struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	kv              types.KVStore
	queue           *queue.Queue
	remote          types.RemoteProvider
	network         types.NetworkStateProvider
	now             func() time.Time
	syncOnQueue     bool
	callTimeout     time.Duration
	shutdownTimeout time.Duration

	state        atomic.Value
	syncing      atomic.Bool
	wasConnected atomic.Bool
	lastSync     atomic.Int64
	unsubscribe  func()
	wg           sync.WaitGroup
	bgMu         sync.Mutex
	snapMu       sync.Mutex

	listenersMu  sync.RWMutex
	listeners    map[uint64]types.SyncListener
	nextListener uint64
}

type Option func(*Engine)

func WithMetrics(metrics types.MetricsManager) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSyncOnQueue controls whether QueueAction starts a background pass
// while online.
func WithSyncOnQueue(enabled bool) Option {
	return func(e *Engine) {
		e.syncOnQueue = enabled
	}
}

func WithCallTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.callTimeout = timeout
		}
	}
}

func NewEngine(ctx context.Context, logger types.Logger, kv types.KVStore, q *queue.Queue, remote types.RemoteProvider, network types.NetworkStateProvider, opts ...Option) *Engine {
	engineCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		ctx:             engineCtx,
		cancel:          cancel,
		logger:          logger,
		kv:              kv,
		queue:           q,
		remote:          remote,
		network:         network,
		now:             time.Now,
		syncOnQueue:     true,
		callTimeout:     10 * time.Second,
		shutdownTimeout: 10 * time.Second,
		listeners:       make(map[uint64]types.SyncListener),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.state.Store(StateStopped)
	e.wasConnected.Store(network.Current().IsConnected)

	return e
}

// Start subscribes to connectivity changes. Only a disconnected to
// connected edge starts a pass.
func (e *Engine) Start() error {
	if !e.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	e.wasConnected.Store(e.network.Current().IsConnected)
	e.unsubscribe = e.network.Subscribe(e.onNetworkChange)

	if n, err := e.queue.Len(e.ctx); err == nil {
		e.queueLength(n)
	}

	e.setState(StateRunning)
	e.logger.Info("Sync engine started", zap.Bool("connected", e.wasConnected.Load()))
	return nil
}

func (e *Engine) Stop() error {
	if !e.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer e.setState(StateStopped)

	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}

	e.bgMu.Lock()
	e.cancel()
	e.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Sync engine stopped gracefully")
	case <-time.After(e.shutdownTimeout):
		e.logger.Warn("Sync engine stop timeout, a sync pass may still be running")
	}

	return nil
}

func (e *Engine) IsRunning() bool {
	return e.getState() == StateRunning
}

// QueueAction records a local mutation, reflects it in the snapshot and,
// when online, kicks off a background pass.
func (e *Engine) QueueAction(ctx context.Context, action types.OfflineAction) (types.OfflineAction, error) {
	action.ID = uuid.NewString()
	action.QueuedAt = e.now()
	action.RetryCount = 0
	action.LastError = ""

	if err := e.queue.Append(ctx, action); err != nil {
		return action, types.WrapError(err, "failed to queue action")
	}

	var err error
	switch action.Kind {
	case types.ActionCreate, types.ActionUpdate:
		err = e.putRecord(ctx, action.Payload, types.SyncStatusPending)
	case types.ActionDelete:
		err = e.RemoveData(ctx, action.EntityType, action.EntityID)
	}
	if err != nil {
		e.logger.Warn("Failed to update offline snapshot",
			zap.String("entity_type", action.EntityType.String()),
			zap.String("entity_id", action.EntityID),
			zap.Error(err))
	}

	if n, err := e.queue.Len(ctx); err == nil {
		e.queueLength(n)
	}

	if e.syncOnQueue && e.network.Current().IsConnected {
		e.syncInBackground("queue")
	}

	return action, nil
}

func (e *Engine) ForceSync(ctx context.Context) (SyncResult, error) {
	return e.SyncPendingActions(ctx)
}

// SyncPendingActions drains the queue once. Concurrent calls return a
// skipped result immediately. Per-action failures never abort the pass.
func (e *Engine) SyncPendingActions(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	if !e.syncing.CompareAndSwap(false, true) {
		result.Skipped = true
		e.recordPass("skipped", 0)
		return result, nil
	}
	defer e.syncing.Store(false)

	if !e.network.Current().IsConnected {
		result.Skipped = true
		result.Offline = true
		e.recordPass("offline", 0)
		return result, nil
	}

	start := time.Now()
	e.emit(types.SyncEvent{Type: types.SyncEventStarted, At: e.now()})

	actions, err := e.queue.Load(ctx)
	if err != nil {
		return e.failPass(result, start, types.WrapError(err, "failed to load action queue"))
	}

	if len(actions) == 0 {
		e.lastSync.Store(e.now().UnixNano())
		result.Duration = time.Since(start)
		e.recordPass("completed", result.Duration)
		e.queueLength(0)
		e.emit(types.SyncEvent{Type: types.SyncEventCompleted, At: e.now()})
		return result, nil
	}

	e.logger.Info("Sync pass started", zap.Int("pending", len(actions)))

	outcome := queue.NewOutcome()
	for _, action := range actions {
		if ctx.Err() != nil {
			break
		}

		result.Processed++
		if err := e.replay(ctx, action); err != nil {
			outcome.Fail(action.ID, err)
			e.recordAction(action.Kind, "failed")
			e.logger.Warn("Action replay failed",
				zap.String("id", action.ID),
				zap.String("kind", string(action.Kind)),
				zap.String("entity_type", action.EntityType.String()),
				zap.String("entity_id", action.EntityID),
				zap.Int("retry_count", action.RetryCount),
				zap.Error(err))
			continue
		}

		outcome.Succeed(action.ID)
		e.recordAction(action.Kind, "succeeded")
	}

	commit, err := e.queue.Commit(ctx, outcome)
	if err != nil {
		return e.failPass(result, start, types.WrapError(err, "failed to commit sync outcome"))
	}

	for _, letter := range commit.DeadLettered {
		if letter.Action.Kind == types.ActionDelete {
			continue
		}
		if err := e.markRecord(ctx, letter.Action.EntityType, letter.Action.EntityID, types.SyncStatusFailed); err != nil {
			e.logger.Warn("Failed to mark snapshot record", zap.String("entity_id", letter.Action.EntityID), zap.Error(err))
		}
	}

	result.Succeeded = commit.Succeeded
	result.Retained = commit.Retained
	result.DeadLettered = len(commit.DeadLettered)
	result.Duration = time.Since(start)

	e.lastSync.Store(e.now().UnixNano())
	e.queueLength(commit.Remaining)
	e.recordPass("completed", result.Duration)

	e.logger.Info("Sync pass completed",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("retained", result.Retained),
		zap.Int("dead_lettered", result.DeadLettered),
		zap.Duration("duration", result.Duration))

	e.emit(types.SyncEvent{
		Type:         types.SyncEventCompleted,
		At:           e.now(),
		Processed:    result.Processed,
		Succeeded:    result.Succeeded,
		Retained:     result.Retained,
		DeadLettered: result.DeadLettered,
	})

	return result, nil
}

func (e *Engine) GetNetworkStatus() types.NetworkState {
	return e.network.Current()
}

// LastSyncTime is zero until the first completed pass.
func (e *Engine) LastSyncTime() time.Time {
	nanos := e.lastSync.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Len(ctx)
}

func (e *Engine) PendingActions(ctx context.Context) ([]types.OfflineAction, error) {
	return e.queue.Load(ctx)
}

func (e *Engine) DeadLetters(ctx context.Context) ([]types.DeadLetter, error) {
	return e.queue.DeadLetters(ctx)
}

func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

func (e *Engine) AddSyncListener(listener types.SyncListener) uint64 {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	e.nextListener++
	e.listeners[e.nextListener] = listener
	return e.nextListener
}

func (e *Engine) RemoveSyncListener(id uint64) bool {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	if _, ok := e.listeners[id]; !ok {
		return false
	}
	delete(e.listeners, id)
	return true
}

// Wait blocks until every background pass started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) onNetworkChange(state types.NetworkState) {
	if !state.IsConnected {
		e.wasConnected.Store(false)
		return
	}

	if e.wasConnected.Swap(true) {
		return
	}

	e.logger.Info("Connectivity restored, syncing pending actions",
		zap.String("transport", state.TransportType))
	e.syncInBackground("reconnect")
}

func (e *Engine) syncInBackground(trigger string) {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()

	if e.ctx.Err() != nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		result, err := e.SyncPendingActions(e.ctx)
		if err != nil {
			e.logger.Error("Background sync failed", zap.String("trigger", trigger), zap.Error(err))
			return
		}
		if result.Skipped {
			e.logger.Debug("Background sync skipped",
				zap.String("trigger", trigger),
				zap.Bool("offline", result.Offline))
		}
	}()
}

func (e *Engine) replay(ctx context.Context, action types.OfflineAction) error {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch action.Kind {
	case types.ActionCreate:
		created, err := e.remote.Create(callCtx, action.Payload)
		if err != nil {
			return err
		}
		e.storeSynced(ctx, action, created)
		return nil
	case types.ActionUpdate:
		updated, err := e.remote.Update(callCtx, action.Payload)
		if err != nil {
			return err
		}
		e.storeSynced(ctx, action, updated)
		return nil
	case types.ActionDelete:
		return e.remote.Delete(callCtx, action.EntityType, action.EntityID)
	default:
		return types.Errorf(types.ErrInvalidAction, "kind: %q", action.Kind)
	}
}

func (e *Engine) storeSynced(ctx context.Context, action types.OfflineAction, entity types.Entity) {
	if entity == nil {
		entity = action.Payload
	}

	if entity.EntityID() != action.EntityID {
		e.snapMu.Lock()
		err := e.deleteRecordLocked(ctx, action.EntityType, action.EntityID)
		e.snapMu.Unlock()
		if err != nil {
			e.logger.Warn("Failed to drop provisional record", zap.String("entity_id", action.EntityID), zap.Error(err))
		}
	}

	if err := e.putRecord(ctx, entity, types.SyncStatusSynced); err != nil {
		e.logger.Warn("Failed to store synced record",
			zap.String("entity_type", entity.EntityType().String()),
			zap.String("entity_id", entity.EntityID()),
			zap.Error(err))
	}
}

func (e *Engine) failPass(result SyncResult, start time.Time, err error) (SyncResult, error) {
	result.Duration = time.Since(start)
	e.recordPass("failed", result.Duration)
	e.logger.Error("Sync pass failed", zap.Error(err))
	e.emit(types.SyncEvent{Type: types.SyncEventFailed, At: e.now(), Processed: result.Processed, Err: err})
	return result, err
}

func (e *Engine) emit(event types.SyncEvent) {
	e.listenersMu.RLock()
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]types.SyncListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.listenersMu.RUnlock()

	for _, listener := range listeners {
		e.notify(listener, event)
	}
}

func (e *Engine) notify(listener types.SyncListener, event types.SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Sync listener panicked",
				zap.String("event", string(event.Type)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	listener(event)
}

func (e *Engine) recordPass(result string, duration time.Duration) {
	if e.metrics == nil {
		return
	}

	e.metrics.Counter("sync_passes_total", map[string]string{"result": result}).Inc()
	if duration > 0 {
		e.metrics.Histogram("sync_pass_duration_seconds",
			[]float64{0.01, 0.1, 0.5, 1, 5, 30},
			nil,
		).Observe(duration.Seconds())
	}
}

func (e *Engine) recordAction(kind types.ActionKind, result string) {
	if e.metrics == nil {
		return
	}

	e.metrics.Counter("sync_actions_total", map[string]string{
		"kind":   string(kind),
		"result": result,
	}).Inc()
}

func (e *Engine) queueLength(n int) {
	if e.metrics == nil {
		return
	}
	e.metrics.Gauge("sync_queue_length", nil).Set(float64(n))
}

func (e *Engine) getState() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(newState State) {
	e.state.Store(newState)
}

func (e *Engine) transitionState(from, to State) bool {
	return e.state.CompareAndSwap(from, to)
}
