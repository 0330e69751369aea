package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-offline/cache"
	"github.com/saiset-co/sai-offline/syncer"
	"github.com/saiset-co/sai-offline/types"
)

type FetchOptions struct {
	UseCache     bool
	ForceRefresh bool
	CacheTTL     time.Duration
	OfflineFirst bool
}

func DefaultFetchOptions() FetchOptions {
	return FetchOptions{UseCache: true}
}

type SearchFilters struct {
	EntityType types.EntityType
	Fields     map[string]string
}

func ListKey(entityType types.EntityType) string {
	return entityType.Plural() + "_list"
}

func EntityKey(entityType types.EntityType, id string) string {
	return string(entityType) + "_" + id
}

func SearchKey(entityType types.EntityType, query string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+fields[name])
	}

	return fmt.Sprintf("search_%s_%s_%s", entityType, query, strings.Join(pairs, ","))
}

// Repository is the read/write facade over the cache, the durable
// snapshots and the remote provider. Reads degrade to local data when the
// remote side is unreachable; writes are always queued.
type Repository struct {
	logger     types.Logger
	cache      *cache.Store
	engine     *syncer.Engine
	remote     types.RemoteProvider
	ttl        types.CacheTTLConfig
	defaultTTL time.Duration
	timeout    time.Duration
	group      singleflight.Group
}

type Option func(*Repository)

func WithTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func New(logger types.Logger, store *cache.Store, engine *syncer.Engine, remote types.RemoteProvider, config *types.CacheConfig, opts ...Option) *Repository {
	r := &Repository{
		logger:     logger,
		cache:      store,
		engine:     engine,
		remote:     remote,
		defaultTTL: 5 * time.Minute,
		timeout:    10 * time.Second,
	}

	if config != nil {
		r.ttl = config.TTL
		if config.DefaultTTL > 0 {
			r.defaultTTL = config.DefaultTTL
		}
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// TTLFor returns the cache lifetime used for entityType.
func (r *Repository) TTLFor(entityType types.EntityType) time.Duration {
	return r.ttl.For(entityType, r.defaultTTL)
}

type source int

const (
	sourceRemote source = iota
	sourceCache
	sourceLocal
)

// FetchEntities resolves a list of entities. Offline (or with OfflineFirst)
// the durable snapshot wins; otherwise the cached list, then the remote,
// falling back to snapshot and cache when the remote call fails.
func (r *Repository) FetchEntities(ctx context.Context, entityType types.EntityType, opts FetchOptions) ([]types.Entity, error) {
	entities, _, err := r.fetchEntities(ctx, entityType, opts)
	return entities, err
}

func (r *Repository) fetchEntities(ctx context.Context, entityType types.EntityType, opts FetchOptions) ([]types.Entity, source, error) {
	if !entityType.Valid() {
		return nil, sourceLocal, types.Errorf(types.ErrUnknownEntityType, "type: %s", entityType)
	}

	connected := r.engine.GetNetworkStatus().IsConnected

	if !connected || opts.OfflineFirst {
		snapshot := r.snapshot(ctx, entityType)
		if len(snapshot) > 0 {
			return snapshot, sourceLocal, nil
		}
		if !connected {
			return []types.Entity{}, sourceLocal, nil
		}
	}

	listKey := ListKey(entityType)

	if opts.UseCache && !opts.ForceRefresh {
		if cached, ok := r.cachedList(ctx, entityType, listKey); ok {
			r.writeThrough(ctx, entityType, cached)
			return cached, sourceCache, nil
		}
	}

	entities, err := r.fetchRemote(ctx, entityType)
	if err == nil {
		if opts.UseCache {
			if err := r.cache.Set(ctx, listKey, entities, r.ttlOrDefault(entityType, opts)); err != nil {
				r.logger.Warn("Failed to cache entity list", zap.String("key", listKey), zap.Error(err))
			}
		}
		r.writeThrough(ctx, entityType, entities)
		return entities, sourceRemote, nil
	}

	r.logger.Warn("Remote fetch failed, using local data",
		zap.String("entity_type", entityType.String()),
		zap.Error(err))

	if snapshot := r.snapshot(ctx, entityType); len(snapshot) > 0 {
		return snapshot, sourceLocal, nil
	}

	if cached, ok := r.cachedList(ctx, entityType, listKey); ok {
		return cached, sourceLocal, nil
	}

	if types.IsNetworkError(err) {
		return nil, sourceLocal, types.WrapError(err, fmt.Sprintf("no local data for %s", entityType.Plural()))
	}
	return nil, sourceLocal, err
}

// FetchEntity resolves a single entity by id.
func (r *Repository) FetchEntity(ctx context.Context, entityType types.EntityType, id string) (types.Entity, error) {
	if !entityType.Valid() {
		return nil, types.Errorf(types.ErrUnknownEntityType, "type: %s", entityType)
	}

	key := EntityKey(entityType, id)

	var remoteErr error
	if r.engine.GetNetworkStatus().IsConnected {
		entity, err := r.fetchRemoteOne(ctx, entityType, id)
		if err == nil {
			if err := r.cache.Set(ctx, key, entity, r.TTLFor(entityType)); err != nil {
				r.logger.Warn("Failed to cache entity", zap.String("key", key), zap.Error(err))
			}
			if err := r.engine.UpsertData(ctx, entity); err != nil {
				r.logger.Warn("Failed to store entity snapshot", zap.String("key", key), zap.Error(err))
			}
			return entity, nil
		}
		r.logger.Warn("Remote fetch failed, using local data", zap.String("key", key), zap.Error(err))
		remoteErr = err
	}

	if entity, ok, err := r.engine.GetData(ctx, entityType, id); err == nil && ok {
		return entity, nil
	}

	if raw, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		if entity, err := types.DecodeEntity(entityType, raw); err == nil {
			return entity, nil
		}
	}

	if remoteErr != nil && !types.IsNetworkError(remoteErr) {
		return nil, remoteErr
	}
	return nil, types.Errorf(types.ErrNetwork, "%s %s unavailable offline", entityType, id)
}

// SearchEntities filters the entities of filters.EntityType by a
// case-insensitive substring of their search text and exact attribute
// matches. Results resolved online are cached under SearchKey.
func (r *Repository) SearchEntities(ctx context.Context, query string, filters SearchFilters, opts FetchOptions) ([]types.Entity, error) {
	entityType := filters.EntityType
	if !entityType.Valid() {
		return nil, types.Errorf(types.ErrUnknownEntityType, "type: %s", entityType)
	}

	key := SearchKey(entityType, query, filters.Fields)

	if opts.UseCache && !opts.ForceRefresh {
		if cached, ok := r.cachedList(ctx, entityType, key); ok {
			return cached, nil
		}
	}

	all, from, err := r.fetchEntities(ctx, entityType, opts)
	if err != nil {
		return nil, err
	}

	matches := Filter(all, query, filters.Fields)

	// Local results are served, never cached: they would outlive the outage.
	if opts.UseCache && from != sourceLocal {
		if err := r.cache.Set(ctx, key, matches, r.ttlOrDefault(entityType, opts)); err != nil {
			r.logger.Warn("Failed to cache search result", zap.String("key", key), zap.Error(err))
		}
	}

	return matches, nil
}

// Filter returns the entities matching query and fields, preserving order.
func Filter(entities []types.Entity, query string, fields map[string]string) []types.Entity {
	needle := strings.ToLower(strings.TrimSpace(query))
	matches := make([]types.Entity, 0, len(entities))

	for _, entity := range entities {
		if needle != "" && !strings.Contains(strings.ToLower(entity.SearchText()), needle) {
			continue
		}

		attributes := entity.Attributes()
		matched := true
		for name, want := range fields {
			if attributes[name] != want {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, entity)
		}
	}

	return matches
}

func (r *Repository) CreateEntity(ctx context.Context, entity types.Entity) (types.OfflineAction, error) {
	if entity == nil {
		return types.OfflineAction{}, types.Errorf(types.ErrInvalidAction, "nil entity")
	}
	return r.write(ctx, types.NewCreateAction(entity))
}

func (r *Repository) UpdateEntity(ctx context.Context, entity types.Entity) (types.OfflineAction, error) {
	if entity == nil {
		return types.OfflineAction{}, types.Errorf(types.ErrInvalidAction, "nil entity")
	}
	return r.write(ctx, types.NewUpdateAction(entity))
}

func (r *Repository) DeleteEntity(ctx context.Context, entityType types.EntityType, id string) (types.OfflineAction, error) {
	return r.write(ctx, types.NewDeleteAction(entityType, id))
}

// Invalidate drops the cached list, single entries and searches of
// entityType.
func (r *Repository) Invalidate(ctx context.Context, entityType types.EntityType) error {
	var errs []error

	if err := r.cache.Remove(ctx, ListKey(entityType)); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.cache.Clear(ctx, string(entityType)+"_"); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.cache.Clear(ctx, "search_"+string(entityType)+"_"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (r *Repository) InvalidateKey(ctx context.Context, key string) error {
	return r.cache.Remove(ctx, key)
}

// Prefetch warms the user's profile together with the coach, conversation
// and session lists. Every part runs independently.
func (r *Repository) Prefetch(ctx context.Context, userID string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	record := func(part string, err error) {
		if err == nil {
			return
		}
		r.logger.Warn("Prefetch failed", zap.String("part", part), zap.Error(err))
		mu.Lock()
		errs = append(errs, types.WrapError(err, "prefetch "+part))
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.FetchEntity(ctx, types.EntityUser, userID)
		record("user", err)
	}()

	for _, entityType := range []types.EntityType{types.EntityCoach, types.EntityConversation, types.EntitySession} {
		entityType := entityType
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.FetchEntities(ctx, entityType, DefaultFetchOptions())
			record(entityType.Plural(), err)
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (r *Repository) write(ctx context.Context, action types.OfflineAction) (types.OfflineAction, error) {
	queued, err := r.engine.QueueAction(ctx, action)
	if err != nil {
		return queued, err
	}

	if err := r.Invalidate(ctx, action.EntityType); err != nil {
		r.logger.Warn("Failed to invalidate cache after write",
			zap.String("entity_type", action.EntityType.String()),
			zap.Error(err))
	}

	return queued, nil
}

func (r *Repository) fetchRemote(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	value, err := r.shared(ctx, "list:"+string(entityType), func(callCtx context.Context) (interface{}, error) {
		return r.remote.FetchAll(callCtx, entityType)
	})
	if err != nil {
		return nil, err
	}

	shared, _ := value.([]types.Entity)
	entities := make([]types.Entity, len(shared))
	copy(entities, shared)
	return entities, nil
}

func (r *Repository) fetchRemoteOne(ctx context.Context, entityType types.EntityType, id string) (types.Entity, error) {
	value, err := r.shared(ctx, "one:"+string(entityType)+":"+id, func(callCtx context.Context) (interface{}, error) {
		return r.remote.FetchOne(callCtx, entityType, id)
	})
	if err != nil {
		return nil, err
	}

	entity, ok := value.(types.Entity)
	if !ok || entity == nil {
		return nil, types.Errorf(types.ErrRemoteNotFound, "%s %s", entityType, id)
	}
	return entity, nil
}

// shared runs call once per key across concurrent callers. The call is
// bounded by the repository timeout and outlives any single caller; a
// caller whose ctx ends stops waiting for it.
func (r *Repository) shared(ctx context.Context, key string, call func(context.Context) (interface{}, error)) (interface{}, error) {
	results := r.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return call(callCtx)
	})

	select {
	case res := <-results:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Repository) ttlOrDefault(entityType types.EntityType, opts FetchOptions) time.Duration {
	if opts.CacheTTL > 0 {
		return opts.CacheTTL
	}
	return r.TTLFor(entityType)
}

func (r *Repository) cachedList(ctx context.Context, entityType types.EntityType, key string) ([]types.Entity, bool) {
	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	entities, err := types.DecodeEntities(entityType, raw)
	if err != nil {
		r.logger.Warn("Dropping undecodable cached list", zap.String("key", key), zap.Error(err))
		_ = r.cache.Remove(ctx, key)
		return nil, false
	}

	return entities, true
}

func (r *Repository) snapshot(ctx context.Context, entityType types.EntityType) []types.Entity {
	entities, err := r.engine.GetDataByType(ctx, entityType)
	if err != nil {
		r.logger.Warn("Snapshot read failed", zap.String("entity_type", entityType.String()), zap.Error(err))
		return nil
	}
	return entities
}

func (r *Repository) writeThrough(ctx context.Context, entityType types.EntityType, entities []types.Entity) {
	if err := r.engine.StoreData(ctx, entityType, entities); err != nil {
		r.logger.Warn("Snapshot write-through failed",
			zap.String("entity_type", entityType.String()),
			zap.Error(err))
	}
}
