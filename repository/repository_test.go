package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/sai-offline/cache"
	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/network"
	"github.com/saiset-co/sai-offline/queue"
	"github.com/saiset-co/sai-offline/remote"
	"github.com/saiset-co/sai-offline/storage"
	"github.com/saiset-co/sai-offline/syncer"
	"github.com/saiset-co/sai-offline/types"
)

type fixture struct {
	repo    *Repository
	cache   *cache.Store
	engine  *syncer.Engine
	sim     *remote.Simulated
	monitor *network.Monitor
}

func newFixture(t *testing.T, connected bool, provider types.RemoteProvider) *fixture {
	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	kv := storage.NewMemoryStore()
	store := cache.NewStore(kv, log)
	sim := remote.NewSimulated(nil)
	if provider == nil {
		provider = sim
	}
	guarded := remote.NewGuarded(provider, log, nil, &types.RemoteConfig{Timeout: time.Second})
	monitor := network.NewMonitor(log, types.NetworkState{IsConnected: connected, TransportType: types.TransportWifi})

	engine := syncer.NewEngine(context.Background(), log, kv, queue.New(kv, log), guarded, monitor, syncer.WithSyncOnQueue(false))
	require.NoError(t, engine.Start())
	t.Cleanup(func() { _ = engine.Stop() })

	config := &types.CacheConfig{
		DefaultTTL: 5 * time.Minute,
		TTL: types.CacheTTLConfig{
			Messages:      time.Minute,
			Conversations: 2 * time.Minute,
			Sessions:      10 * time.Minute,
			Coaches:       30 * time.Minute,
			Users:         60 * time.Minute,
		},
	}

	return &fixture{
		repo:    New(log, store, engine, guarded, config),
		cache:   store,
		engine:  engine,
		sim:     sim,
		monitor: monitor,
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "coaches_list", ListKey(types.EntityCoach))
	assert.Equal(t, "sessions_list", ListKey(types.EntitySession))
	assert.Equal(t, "user_u1", EntityKey(types.EntityUser, "u1"))
	assert.Equal(t, "search_coach_yoga_available=true,specialty=yoga",
		SearchKey(types.EntityCoach, "yoga", map[string]string{"specialty": "yoga", "available": "true"}))
}

func TestDifferentialTTLs(t *testing.T) {
	f := newFixture(t, true, nil)

	assert.Equal(t, time.Minute, f.repo.TTLFor(types.EntityMessage))
	assert.Equal(t, 2*time.Minute, f.repo.TTLFor(types.EntityConversation))
	assert.Equal(t, 10*time.Minute, f.repo.TTLFor(types.EntitySession))
	assert.Equal(t, 30*time.Minute, f.repo.TTLFor(types.EntityCoach))
	assert.Equal(t, 60*time.Minute, f.repo.TTLFor(types.EntityUser))
}

func TestFetchCachesAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.sim.Seed(types.Coach{ID: "c1", Name: "Ada"}, types.Coach{ID: "c2", Name: "Bo"})

	coaches, err := f.repo.FetchEntities(ctx, types.EntityCoach, DefaultFetchOptions())
	require.NoError(t, err)
	require.Len(t, coaches, 2)

	ok, err := f.cache.Exists(ctx, "coaches_list")
	require.NoError(t, err)
	assert.True(t, ok)

	snapshot, err := f.engine.GetDataByType(ctx, types.EntityCoach)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)

	calls := f.sim.Calls()
	_, err = f.repo.FetchEntities(ctx, types.EntityCoach, DefaultFetchOptions())
	require.NoError(t, err)
	assert.Equal(t, calls, f.sim.Calls())

	_, err = f.repo.FetchEntities(ctx, types.EntityCoach, FetchOptions{UseCache: true, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.sim.Calls())
}

func TestRemoteFailureFallsBackToCachedList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)

	require.NoError(t, f.cache.Set(ctx, "coaches_list", []types.Coach{{ID: "cached", Name: "From cache"}}, time.Hour))
	f.sim.SetDown(true)

	coaches, err := f.repo.FetchEntities(ctx, types.EntityCoach, FetchOptions{UseCache: true, ForceRefresh: true})
	require.NoError(t, err)
	require.Len(t, coaches, 1)
	assert.Equal(t, "cached", coaches[0].EntityID())
}

func TestRemoteFailurePrefersSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)

	require.NoError(t, f.engine.StoreData(ctx, types.EntityCoach, []types.Entity{types.Coach{ID: "snap"}}))
	require.NoError(t, f.cache.Set(ctx, "coaches_list", []types.Coach{{ID: "cached"}}, time.Hour))
	f.sim.SetDown(true)

	coaches, err := f.repo.FetchEntities(ctx, types.EntityCoach, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, coaches, 1)
	assert.Equal(t, "snap", coaches[0].EntityID())
}

func TestRemoteFailureWithoutLocalData(t *testing.T) {
	f := newFixture(t, true, nil)
	f.sim.SetDown(true)

	_, err := f.repo.FetchEntities(context.Background(), types.EntityUser, DefaultFetchOptions())
	assert.ErrorIs(t, err, types.ErrNetwork)
}

func TestOfflineFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, nil)
	f.sim.Seed(types.Session{ID: "s-remote"})

	sessions, err := f.repo.FetchEntities(ctx, types.EntitySession, DefaultFetchOptions())
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.NotNil(t, sessions)
	assert.Zero(t, f.sim.Calls())

	require.NoError(t, f.engine.StoreData(ctx, types.EntitySession, []types.Entity{types.Session{ID: "s-local"}}))
	sessions, err = f.repo.FetchEntities(ctx, types.EntitySession, DefaultFetchOptions())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-local", sessions[0].EntityID())
}

func TestOfflineFirstOnlineFallsThroughWhenEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.sim.Seed(types.Message{ID: "m1", Content: "hello"})

	messages, err := f.repo.FetchEntities(ctx, types.EntityMessage, FetchOptions{OfflineFirst: true})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	f.sim.Seed(types.Message{ID: "m2", Content: "later"})
	messages, err = f.repo.FetchEntities(ctx, types.EntityMessage, FetchOptions{OfflineFirst: true})
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

type countingProvider struct {
	types.RemoteProvider
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingProvider) FetchAll(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	c.calls.Add(1)
	<-c.release
	return []types.Entity{types.Coach{ID: "c1"}}, nil
}

func TestConcurrentFetchesShareOneCall(t *testing.T) {
	provider := &countingProvider{RemoteProvider: remote.NewSimulated(nil), release: make(chan struct{})}
	f := newFixture(t, true, provider)

	var wg sync.WaitGroup
	results := make([][]types.Entity, 5)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = f.repo.FetchEntities(context.Background(), types.EntityCoach, FetchOptions{})
		}()
	}

	assert.Eventually(t, func() bool { return provider.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	assert.Equal(t, int32(1), provider.calls.Load())
	for _, result := range results {
		assert.Len(t, result, 1)
	}
}

func TestFetchEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.sim.Seed(types.User{ID: "u1", Name: "Cy"})

	user, err := f.repo.FetchEntity(ctx, types.EntityUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Cy", user.(types.User).Name)

	_, err = f.repo.FetchEntity(ctx, types.EntityUser, "u404")
	assert.ErrorIs(t, err, types.ErrRemoteNotFound)

	f.monitor.SetConnected(false, "")
	offline, err := f.repo.FetchEntity(ctx, types.EntityUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", offline.EntityID())

	_, err = f.repo.FetchEntity(ctx, types.EntityUser, "u2")
	assert.ErrorIs(t, err, types.ErrNetwork)
}

func TestSearchEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.sim.Seed(
		types.Coach{ID: "c1", Name: "Ada Yoga", Available: true, Specialties: []string{"yoga"}},
		types.Coach{ID: "c2", Name: "Bo", Bio: "YOGA instructor", Available: false, Specialties: []string{"yoga"}},
		types.Coach{ID: "c3", Name: "Cy", Bio: "running", Available: true, Specialties: []string{"running"}},
	)

	filters := SearchFilters{EntityType: types.EntityCoach, Fields: map[string]string{"available": "true"}}
	found, err := f.repo.SearchEntities(ctx, "yoga", filters, DefaultFetchOptions())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c1", found[0].EntityID())

	ok, err := f.cache.Exists(ctx, SearchKey(types.EntityCoach, "yoga", filters.Fields))
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := f.repo.SearchEntities(ctx, "YOGA", SearchFilters{EntityType: types.EntityCoach}, DefaultFetchOptions())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	f.monitor.SetConnected(false, "")
	offline, err := f.repo.SearchEntities(ctx, "running", SearchFilters{EntityType: types.EntityCoach}, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, offline, 1)
	assert.Equal(t, "c3", offline[0].EntityID())
}

func TestOfflineSearchIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, nil)
	f.sim.Seed(types.Coach{ID: "c1", Name: "Yoga Ada"})

	filters := SearchFilters{EntityType: types.EntityCoach}
	found, err := f.repo.SearchEntities(ctx, "yoga", filters, DefaultFetchOptions())
	require.NoError(t, err)
	assert.Empty(t, found)

	ok, err := f.cache.Exists(ctx, SearchKey(types.EntityCoach, "yoga", nil))
	require.NoError(t, err)
	assert.False(t, ok)

	f.monitor.SetConnected(true, types.TransportWifi)
	calls := f.sim.Calls()

	found, err = f.repo.SearchEntities(ctx, "yoga", filters, DefaultFetchOptions())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c1", found[0].EntityID())
	assert.Greater(t, f.sim.Calls(), calls)
}

type rejectingProvider struct {
	types.RemoteProvider
}

func (rejectingProvider) FetchAll(context.Context, types.EntityType) ([]types.Entity, error) {
	return nil, types.Errorf(types.ErrRemoteNotFound, "list gone")
}

func (rejectingProvider) FetchOne(_ context.Context, entityType types.EntityType, id string) (types.Entity, error) {
	return nil, types.Errorf(types.ErrRemoteNotFound, "%s %s", entityType, id)
}

func TestAnyRemoteFailureFallsBackToLocalData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, rejectingProvider{RemoteProvider: remote.NewSimulated(nil)})

	require.NoError(t, f.engine.StoreData(ctx, types.EntityCoach, []types.Entity{types.Coach{ID: "snap"}}))

	coaches, err := f.repo.FetchEntities(ctx, types.EntityCoach, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, coaches, 1)
	assert.Equal(t, "snap", coaches[0].EntityID())

	coach, err := f.repo.FetchEntity(ctx, types.EntityCoach, "snap")
	require.NoError(t, err)
	assert.Equal(t, "snap", coach.EntityID())

	_, err = f.repo.FetchEntities(ctx, types.EntitySession, FetchOptions{})
	assert.ErrorIs(t, err, types.ErrRemoteNotFound)

	_, err = f.repo.FetchEntity(ctx, types.EntityUser, "u1")
	assert.ErrorIs(t, err, types.ErrRemoteNotFound)
}

func TestCancelledCallerStopsWaiting(t *testing.T) {
	provider := &countingProvider{RemoteProvider: remote.NewSimulated(nil), release: make(chan struct{})}
	f := newFixture(t, true, provider)
	t.Cleanup(func() { close(provider.release) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.repo.FetchEntities(ctx, types.EntityCoach, FetchOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("fetch kept waiting after its context was cancelled")
	}
}

func TestWritesQueueAndInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, nil)

	require.NoError(t, f.cache.Set(ctx, "conversations_list", []int{1}, 0))
	require.NoError(t, f.cache.Set(ctx, "search_conversation_x_", []int{1}, 0))
	require.NoError(t, f.cache.Set(ctx, "coaches_list", []int{1}, 0))

	created, err := f.repo.CreateEntity(ctx, types.Conversation{ID: "cv1", Title: "Intro"})
	require.NoError(t, err)
	assert.Equal(t, types.ActionCreate, created.Kind)

	_, err = f.repo.UpdateEntity(ctx, types.Conversation{ID: "cv1", Title: "Intro v2"})
	require.NoError(t, err)
	_, err = f.repo.DeleteEntity(ctx, types.EntityConversation, "cv0")
	require.NoError(t, err)

	for key, want := range map[string]bool{
		"conversations_list":     false,
		"search_conversation_x_": false,
		"coaches_list":           true,
	} {
		ok, err := f.cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, ok, key)
	}

	pending, err := f.engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	conversations, err := f.repo.FetchEntities(ctx, types.EntityConversation, DefaultFetchOptions())
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "Intro v2", conversations[0].(types.Conversation).Title)

	f.monitor.SetConnected(true, types.TransportWifi)
	f.engine.Wait()

	pending, err = f.engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 1, f.sim.Len(types.EntityConversation))

	_, err = f.repo.CreateEntity(ctx, nil)
	assert.ErrorIs(t, err, types.ErrInvalidAction)
}

func TestPrefetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.sim.Seed(types.User{ID: "u1"}, types.Coach{ID: "c1"}, types.Session{ID: "s1", UserID: "u1"})

	require.NoError(t, f.repo.Prefetch(ctx, "u1"))

	for _, key := range []string{"user_u1", "coaches_list", "conversations_list", "sessions_list"} {
		ok, err := f.cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	err := f.repo.Prefetch(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrRemoteNotFound)
}

func TestInvalidateKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)

	require.NoError(t, f.cache.Set(ctx, "custom", 1, 0))
	require.NoError(t, f.repo.InvalidateKey(ctx, "custom"))

	ok, err := f.cache.Exists(ctx, "custom")
	require.NoError(t, err)
	assert.False(t, ok)
}
