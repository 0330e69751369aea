package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/saiset-co/sai-offline/types"
)

// Endpoints are the remote operations for one entity type. Nil fields are
// reported as types.ErrEndpointMissing.
type Endpoints struct {
	FetchAll func(ctx context.Context) ([]types.Entity, error)
	FetchOne func(ctx context.Context, id string) (types.Entity, error)
	Create   func(ctx context.Context, entity types.Entity) (types.Entity, error)
	Update   func(ctx context.Context, entity types.Entity) (types.Entity, error)
	Delete   func(ctx context.Context, id string) error
}

// Registry builds a types.RemoteProvider from per-type endpoint functions.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[types.EntityType]Endpoints
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[types.EntityType]Endpoints)}
}

func (r *Registry) Register(entityType types.EntityType, endpoints Endpoints) error {
	if !entityType.Valid() {
		return types.Errorf(types.ErrUnknownEntityType, "type: %s", entityType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[entityType] = endpoints
	return nil
}

func (r *Registry) Types() []types.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := make([]types.EntityType, 0, len(r.endpoints))
	for t := range r.endpoints {
		registered = append(registered, t)
	}
	sort.Slice(registered, func(i, j int) bool { return registered[i] < registered[j] })
	return registered
}

func (r *Registry) lookup(entityType types.EntityType) (Endpoints, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints, ok := r.endpoints[entityType]
	if !ok {
		return Endpoints{}, types.Errorf(types.ErrEndpointMissing, "no endpoints for %s", entityType)
	}
	return endpoints, nil
}

func (r *Registry) FetchAll(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	endpoints, err := r.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if endpoints.FetchAll == nil {
		return nil, types.Errorf(types.ErrEndpointMissing, "fetch all %s", entityType)
	}
	return endpoints.FetchAll(ctx)
}

func (r *Registry) FetchOne(ctx context.Context, entityType types.EntityType, id string) (types.Entity, error) {
	endpoints, err := r.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if endpoints.FetchOne == nil {
		return nil, types.Errorf(types.ErrEndpointMissing, "fetch one %s", entityType)
	}
	return endpoints.FetchOne(ctx, id)
}

func (r *Registry) Create(ctx context.Context, entity types.Entity) (types.Entity, error) {
	endpoints, err := r.lookup(entity.EntityType())
	if err != nil {
		return nil, err
	}
	if endpoints.Create == nil {
		return nil, types.Errorf(types.ErrEndpointMissing, "create %s", entity.EntityType())
	}
	return endpoints.Create(ctx, entity)
}

func (r *Registry) Update(ctx context.Context, entity types.Entity) (types.Entity, error) {
	endpoints, err := r.lookup(entity.EntityType())
	if err != nil {
		return nil, err
	}
	if endpoints.Update == nil {
		return nil, types.Errorf(types.ErrEndpointMissing, "update %s", entity.EntityType())
	}
	return endpoints.Update(ctx, entity)
}

func (r *Registry) Delete(ctx context.Context, entityType types.EntityType, id string) error {
	endpoints, err := r.lookup(entityType)
	if err != nil {
		return err
	}
	if endpoints.Delete == nil {
		return types.Errorf(types.ErrEndpointMissing, "delete %s", entityType)
	}
	return endpoints.Delete(ctx, id)
}

// ListOf adapts a typed list endpoint to Endpoints.FetchAll.
func ListOf[T types.Entity](fn func(ctx context.Context) ([]T, error)) func(ctx context.Context) ([]types.Entity, error) {
	return func(ctx context.Context) ([]types.Entity, error) {
		items, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		entities := make([]types.Entity, len(items))
		for i, item := range items {
			entities[i] = item
		}
		return entities, nil
	}
}

// OneOf adapts a typed fetch-one endpoint to Endpoints.FetchOne.
func OneOf[T types.Entity](fn func(ctx context.Context, id string) (T, error)) func(ctx context.Context, id string) (types.Entity, error) {
	return func(ctx context.Context, id string) (types.Entity, error) {
		item, err := fn(ctx, id)
		if err != nil {
			return nil, err
		}
		return item, nil
	}
}
