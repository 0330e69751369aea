package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

const (
	ActionsKey        = "offline_actions"
	DeadLettersKey    = "offline_dead_letters"
	QuarantineKey     = "offline_actions_corrupted"
	DefaultMaxRetries = 3
)

// Outcome is the per-action result of one sync pass. Actions absent from
// both sets were not attempted and are kept untouched.
type Outcome struct {
	Succeeded map[string]struct{}
	Failed    map[string]string
}

func NewOutcome() *Outcome {
	return &Outcome{
		Succeeded: make(map[string]struct{}),
		Failed:    make(map[string]string),
	}
}

func (o *Outcome) Succeed(id string) {
	o.Succeeded[id] = struct{}{}
}

func (o *Outcome) Fail(id string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	o.Failed[id] = msg
}

type CommitResult struct {
	Succeeded    int
	Retained     int
	DeadLettered []types.DeadLetter
	Remaining    int
}

// Queue is the durable FIFO of pending mutations. Every load-modify-write
// runs under one mutex so appends racing a commit are never lost.
type Queue struct {
	kv         types.KVStore
	logger     types.Logger
	maxRetries int
	now        func() time.Time
	mu         sync.Mutex
}

type Option func(*Queue)

func WithMaxRetries(maxRetries int) Option {
	return func(q *Queue) {
		if maxRetries > 0 {
			q.maxRetries = maxRetries
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func New(kv types.KVStore, logger types.Logger, opts ...Option) *Queue {
	q := &Queue{
		kv:         kv,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Append validates action and adds it to the tail. A stored queue that can
// no longer be decoded is moved aside to QuarantineKey first.
func (q *Queue) Append(ctx context.Context, action types.OfflineAction) error {
	if err := action.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.load(ctx)
	if err != nil {
		if !types.IsError(err, types.ErrQueueCorrupted) {
			return err
		}
		if qErr := q.quarantine(ctx); qErr != nil {
			return qErr
		}
		actions = nil
	}

	actions = append(actions, action)

	if err := q.save(ctx, ActionsKey, actions); err != nil {
		return err
	}

	q.logger.Debug("Action queued",
		zap.String("id", action.ID),
		zap.String("kind", string(action.Kind)),
		zap.String("entity_type", action.EntityType.String()),
		zap.Int("queue_length", len(actions)))

	return nil
}

// Load returns the queued actions in insertion order.
func (q *Queue) Load(ctx context.Context) ([]types.OfflineAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.load(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	actions, err := q.Load(ctx)
	return len(actions), err
}

func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.kv.Remove(ctx, ActionsKey)
}

func (q *Queue) DeadLetters(ctx context.Context) ([]types.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.loadDeadLetters(ctx)
}

func (q *Queue) ClearDeadLetters(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.kv.Remove(ctx, DeadLettersKey)
}

// Commit applies a pass outcome to the stored queue: succeeded actions are
// dropped, failed ones have their retry count bumped and are dead-lettered
// once it reaches the retry limit. Actions appended during the pass keep
// their position.
func (q *Queue) Commit(ctx context.Context, outcome *Outcome) (CommitResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result CommitResult

	actions, err := q.load(ctx)
	if err != nil {
		return result, err
	}

	kept := make([]types.OfflineAction, 0, len(actions))
	for _, action := range actions {
		if _, ok := outcome.Succeeded[action.ID]; ok {
			result.Succeeded++
			continue
		}

		msg, failed := outcome.Failed[action.ID]
		if !failed {
			kept = append(kept, action)
			continue
		}

		action.RetryCount++
		action.LastError = msg

		if action.RetryCount >= q.maxRetries {
			exhausted := types.Errorf(types.ErrSyncExhausted, "%d attempts, last error: %s", action.RetryCount, msg)
			result.DeadLettered = append(result.DeadLettered, types.DeadLetter{
				Action:         action,
				Error:          exhausted.Error(),
				DeadLetteredAt: q.now(),
			})
			continue
		}

		result.Retained++
		kept = append(kept, action)
	}

	if len(result.DeadLettered) > 0 {
		letters, err := q.loadDeadLetters(ctx)
		if err != nil {
			q.logger.Warn("Dead letter list unreadable, starting a new one", zap.Error(err))
			letters = nil
		}
		letters = append(letters, result.DeadLettered...)
		if err := q.save(ctx, DeadLettersKey, letters); err != nil {
			return result, err
		}

		for _, letter := range result.DeadLettered {
			q.logger.Warn("Action dead-lettered",
				zap.String("id", letter.Action.ID),
				zap.String("kind", string(letter.Action.Kind)),
				zap.String("entity_type", letter.Action.EntityType.String()),
				zap.String("entity_id", letter.Action.EntityID),
				zap.String("error", letter.Error))
		}
	}

	if err := q.save(ctx, ActionsKey, kept); err != nil {
		return result, err
	}

	result.Remaining = len(kept)
	return result, nil
}

func (q *Queue) load(ctx context.Context) ([]types.OfflineAction, error) {
	raw, ok, err := q.kv.Get(ctx, ActionsKey)
	if err != nil {
		return nil, types.WrapError(err, "failed to read action queue")
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	var actions []types.OfflineAction
	if err := utils.Unmarshal(raw, &actions); err != nil {
		return nil, types.Errorf(types.ErrQueueCorrupted, "%v", err)
	}

	return actions, nil
}

func (q *Queue) loadDeadLetters(ctx context.Context) ([]types.DeadLetter, error) {
	raw, ok, err := q.kv.Get(ctx, DeadLettersKey)
	if err != nil {
		return nil, types.WrapError(err, "failed to read dead letters")
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	var letters []types.DeadLetter
	if err := utils.Unmarshal(raw, &letters); err != nil {
		return nil, types.Errorf(types.ErrQueueCorrupted, "dead letters: %v", err)
	}

	return letters, nil
}

func (q *Queue) save(ctx context.Context, key string, value interface{}) error {
	data, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to encode "+key)
	}

	if err := q.kv.Set(ctx, key, data); err != nil {
		return types.WrapError(err, "failed to store "+key)
	}

	return nil
}

func (q *Queue) quarantine(ctx context.Context) error {
	raw, ok, err := q.kv.Get(ctx, ActionsKey)
	if err != nil {
		return types.WrapError(err, "failed to read action queue")
	}
	if ok {
		if err := q.kv.Set(ctx, QuarantineKey, raw); err != nil {
			return types.WrapError(err, "failed to quarantine action queue")
		}
	}

	q.logger.Error("Action queue was corrupted and has been moved aside",
		zap.String("key", QuarantineKey), zap.Int("bytes", len(raw)))
	return nil
}
