package types

import "context"

// RemoteProvider is the asynchronous source of truth for entity data.
type RemoteProvider interface {
	FetchAll(ctx context.Context, entityType EntityType) ([]Entity, error)
	FetchOne(ctx context.Context, entityType EntityType, id string) (Entity, error)
	Create(ctx context.Context, entity Entity) (Entity, error)
	Update(ctx context.Context, entity Entity) (Entity, error)
	Delete(ctx context.Context, entityType EntityType, id string) error
}
