package remote

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-offline/types"
)

// Simulated is an in-process stand-in for the backend with optional latency
// and failure injection. Entities are stored per type and listed by id.
type Simulated struct {
	mu          sync.RWMutex
	data        map[types.EntityType]map[string]types.Entity
	latency     time.Duration
	failureRate float64
	down        atomic.Bool
	calls       atomic.Int64
}

func NewSimulated(config *types.SimulatedConfig) *Simulated {
	s := &Simulated{data: make(map[types.EntityType]map[string]types.Entity)}
	if config != nil {
		s.latency = config.Latency
		s.failureRate = config.FailureRate
	}
	return s
}

// SetDown makes every call fail with types.ErrNetwork until reset.
func (s *Simulated) SetDown(down bool) {
	s.down.Store(down)
}

func (s *Simulated) Calls() int64 {
	return s.calls.Load()
}

func (s *Simulated) Seed(entities ...types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entity := range entities {
		s.put(entity)
	}
}

func (s *Simulated) Len(entityType types.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[entityType])
}

func (s *Simulated) FetchAll(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	if err := s.before(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.data[entityType]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities := make([]types.Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, bucket[id])
	}
	return entities, nil
}

func (s *Simulated) FetchOne(ctx context.Context, entityType types.EntityType, id string) (types.Entity, error) {
	if err := s.before(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.data[entityType][id]
	if !ok {
		return nil, types.Errorf(types.ErrRemoteNotFound, "%s %s", entityType, id)
	}
	return entity, nil
}

func (s *Simulated) Create(ctx context.Context, entity types.Entity) (types.Entity, error) {
	if err := s.before(ctx); err != nil {
		return nil, err
	}

	if entity.EntityID() == "" {
		entity = withID(entity, uuid.NewString())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(entity)
	return entity, nil
}

func (s *Simulated) Update(ctx context.Context, entity types.Entity) (types.Entity, error) {
	if err := s.before(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[entity.EntityType()][entity.EntityID()]; !ok {
		return nil, types.Errorf(types.ErrRemoteNotFound, "%s %s", entity.EntityType(), entity.EntityID())
	}
	s.put(entity)
	return entity, nil
}

// Delete is idempotent; a missing entity is not an error.
func (s *Simulated) Delete(ctx context.Context, entityType types.EntityType, id string) error {
	if err := s.before(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[entityType], id)
	return nil
}

func (s *Simulated) put(entity types.Entity) {
	bucket, ok := s.data[entity.EntityType()]
	if !ok {
		bucket = make(map[string]types.Entity)
		s.data[entity.EntityType()] = bucket
	}
	bucket[entity.EntityID()] = entity
}

func (s *Simulated) before(ctx context.Context) error {
	s.calls.Add(1)

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.down.Load() {
		return types.Errorf(types.ErrNetwork, "simulated backend unreachable")
	}

	if s.failureRate > 0 && rand.Float64() < s.failureRate {
		return types.Errorf(types.ErrNetwork, "simulated transient failure")
	}

	return ctx.Err()
}

func withID(entity types.Entity, id string) types.Entity {
	switch e := entity.(type) {
	case types.Coach:
		e.ID = id
		return e
	case types.User:
		e.ID = id
		return e
	case types.Message:
		e.ID = id
		return e
	case types.Conversation:
		e.ID = id
		return e
	case types.Session:
		e.ID = id
		return e
	default:
		return entity
	}
}
