package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-offline/cache"
	"github.com/saiset-co/sai-offline/health"
	"github.com/saiset-co/sai-offline/logger"
	"github.com/saiset-co/sai-offline/metrics"
	"github.com/saiset-co/sai-offline/network"
	"github.com/saiset-co/sai-offline/queue"
	"github.com/saiset-co/sai-offline/remote"
	"github.com/saiset-co/sai-offline/repository"
	"github.com/saiset-co/sai-offline/scheduler"
	"github.com/saiset-co/sai-offline/storage"
	"github.com/saiset-co/sai-offline/syncer"
	"github.com/saiset-co/sai-offline/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Application owns every component of the offline layer and the order they
// are started and stopped in.
type Application struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.ServiceConfig
	logger          types.Logger
	metrics         *metrics.Manager
	storage         types.KVStore
	cache           *cache.Store
	queue           *queue.Queue
	monitor         *network.Monitor
	prober          *network.Prober
	provider        types.RemoteProvider
	remote          *remote.Guarded
	engine          *syncer.Engine
	repository      *repository.Repository
	health          *health.Manager
	scheduler       *scheduler.Manager
	state           atomic.Value
	wg              sync.WaitGroup
	shutdownTimeout time.Duration
	startTimeout    time.Duration
}

type Option func(*options)

type options struct {
	logger   types.Logger
	provider types.RemoteProvider
	checker  network.Checker
	storages map[string]types.KVStoreCreator
}

// WithLogger replaces the logger built from config.
func WithLogger(l types.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRemote replaces the simulated backend with a real provider.
func WithRemote(provider types.RemoteProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithNetworkChecker replaces the HTTP reachability probe.
func WithNetworkChecker(checker network.Checker) Option {
	return func(o *options) {
		o.checker = checker
	}
}

func WithStorage(storageType string, creator types.KVStoreCreator) Option {
	return func(o *options) {
		o.storages[storageType] = creator
	}
}

func New(ctx context.Context, config *types.ServiceConfig, opts ...Option) (*Application, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	o := &options{storages: make(map[string]types.KVStoreCreator)}
	for _, opt := range opts {
		opt(o)
	}

	appCtx, cancel := context.WithCancel(ctx)

	a := &Application{
		ctx:             appCtx,
		cancel:          cancel,
		config:          config,
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}
	a.state.Store(StateStopped)

	if err := a.build(o); err != nil {
		cancel()
		return nil, err
	}

	return a, nil
}

func (a *Application) build(o *options) error {
	var err error

	a.logger = o.logger
	if a.logger == nil {
		a.logger, err = logger.NewFactory().Create(a.config.Logger)
		if err != nil {
			return types.WrapError(err, "failed to create logger")
		}
	}

	a.metrics, err = metrics.NewManager(a.ctx, a.logger, a.config.Metrics)
	if err != nil {
		return types.WrapError(err, "failed to create metrics manager")
	}

	factory := storage.NewFactory(a.logger, a.metrics)
	for name, creator := range o.storages {
		factory.Register(name, creator)
	}

	a.storage, err = factory.Open(a.ctx, a.config.Storage)
	if err != nil {
		return types.WrapError(err, "failed to open storage")
	}

	a.cache = cache.NewStore(a.storage, a.logger,
		cache.WithPrefix(a.config.Cache.Prefix),
		cache.WithMetrics(a.metrics))

	a.queue = queue.New(a.storage, a.logger, queue.WithMaxRetries(a.config.Sync.MaxRetries))

	a.buildNetwork(o.checker)

	a.provider = o.provider
	if a.provider == nil {
		a.provider = remote.NewSimulated(a.config.Remote.Simulated)
	}
	a.remote = remote.NewGuarded(a.provider, a.logger, a.metrics, a.config.Remote)

	a.engine = syncer.NewEngine(a.ctx, a.logger, a.storage, a.queue, a.remote, a.monitor,
		syncer.WithMetrics(a.metrics),
		syncer.WithSyncOnQueue(a.config.Sync.SyncOnQueue),
		syncer.WithCallTimeout(a.remote.Timeout()))

	a.repository = repository.New(a.logger, a.cache, a.engine, a.remote, a.config.Cache,
		repository.WithTimeout(a.remote.Timeout()))

	a.health = health.NewManager(a.ctx, a.logger, a.config.Name, a.config.Version)
	a.registerCheckers(a.health)

	if a.config.Scheduler != nil && a.config.Scheduler.Enabled {
		a.scheduler = scheduler.NewManager(a.ctx, a.logger, a.metrics, a.config.Scheduler)
		if err := a.registerJobs(a.scheduler); err != nil {
			return err
		}
	}

	return nil
}

func (a *Application) buildNetwork(checker network.Checker) {
	initial := types.NetworkState{IsConnected: true}
	var probe *types.ProbeConfig

	if a.config.Network != nil {
		initial.IsConnected = a.config.Network.InitialConnected
		probe = a.config.Network.Probe
	}
	if probe != nil {
		initial.TransportType = probe.Transport
	}

	a.monitor = network.NewMonitor(a.logger, initial)

	if probe != nil && (probe.Enabled || checker != nil) {
		a.prober = network.NewProber(a.ctx, a.logger, a.monitor, probe, checker)
	}
}

func (a *Application) registerJobs(s types.Scheduler) error {
	if spec := a.config.Cache.CleanupSchedule; spec != "" {
		if err := s.Add(scheduler.CacheCleanupJobName, spec, scheduler.CleanupJob(a.cache, a.logger)); err != nil {
			return types.WrapError(err, "failed to schedule cache cleanup")
		}
	}

	if spec := a.config.Sync.RetrySchedule; spec != "" {
		if err := s.Add(scheduler.RetrySyncJobName, spec, scheduler.RetrySyncJob(a.engine, a.logger)); err != nil {
			return types.WrapError(err, "failed to schedule sync retry")
		}
	}

	return nil
}

func (a *Application) Start() error {
	if !a.transitionState(StateStopped, StateStarting) {
		a.logger.Warn("Application is already running")
		return types.ErrAlreadyRunning
	}

	var startErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				startErr = fmt.Errorf("application panic: %v", r)
				a.logger.Error("Application start panic", zap.Stack(string(buf[:n])))
			}
		}()

		ctx, cancel := context.WithTimeout(a.ctx, a.startTimeout)
		defer cancel()

		startErr = a.startComponents(ctx)
	}()

	if startErr != nil {
		if a.engine.IsRunning() {
			_ = a.engine.Stop()
		}
		a.setState(StateStopped)
		return types.WrapError(startErr, "failed to start components")
	}

	a.setState(StateRunning)
	a.logger.Info("Application started",
		zap.String("name", a.config.Name),
		zap.String("version", a.config.Version),
		zap.String("storage", a.config.Storage.Type))
	return nil
}

// Run starts the application and blocks until ctx is done or a shutdown
// signal arrives, then stops it.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Application context cancelled")
	case <-a.ctx.Done():
	}

	return a.Stop()
}

func (a *Application) Stop() error {
	if !a.transitionState(StateRunning, StateStopping) {
		a.logger.Warn("Application is not running")
		return types.ErrNotRunning
	}

	a.logger.Info("Stopping application...")

	err := a.stopComponents()
	a.cancel()

	a.setState(StateStopped)
	logger.Sync(a.logger)

	return err
}

func (a *Application) IsRunning() bool {
	return a.getState() == StateRunning
}

func (a *Application) startComponents(ctx context.Context) error {
	if err := a.metrics.Start(); err != nil {
		a.logger.Error("Failed to start metrics manager", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := a.engine.Start(); err != nil {
			return types.WrapError(err, "failed to start sync engine")
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if a.config.Health == nil || a.config.Health.Enabled {
		g.Go(func() error {
			return startIn(gCtx, a.health, "health manager", a.logger)
		})
	}

	if a.prober != nil {
		g.Go(func() error {
			return startIn(gCtx, a.prober, "network prober", a.logger)
		})
	}

	if a.scheduler != nil {
		g.Go(func() error {
			return startIn(gCtx, a.scheduler, "scheduler", a.logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if a.engine.GetNetworkStatus().IsConnected {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if _, err := a.engine.SyncPendingActions(a.ctx); err != nil {
				a.logger.Warn("Startup sync failed", zap.Error(err))
			}
		}()
	}

	return nil
}

func (a *Application) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error

	components := map[string]types.LifecycleManager{"health manager": a.health}
	if a.scheduler != nil {
		components["scheduler"] = a.scheduler
	}
	if a.prober != nil {
		components["network prober"] = a.prober
	}

	g, gCtx := errgroup.WithContext(ctx)

	for name, component := range components {
		if !component.IsRunning() {
			continue
		}
		name, component := name, component
		g.Go(func() error {
			return stopIn(gCtx, component, name, a.logger)
		})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := a.engine.Stop(); err != nil && !types.IsError(err, types.ErrNotRunning) {
		a.logger.Error("Failed to stop sync engine", zap.Error(err))
		errs = append(errs, err)
	}

	if a.metrics.IsRunning() {
		if err := a.metrics.Stop(); err != nil {
			a.logger.Error("Failed to stop metrics manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	a.wg.Wait()

	if err := a.storage.Close(); err != nil {
		a.logger.Error("Failed to close storage", zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return types.NewErrorf("failed to stop %d component(s): %v", len(errs), errs)
	}

	a.logger.Info("All components stopped successfully")
	return nil
}

func startIn(ctx context.Context, component types.LifecycleManager, name string, l types.Logger) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := component.Start(); err != nil {
			l.Error("Failed to start "+name, zap.Error(err))
			return types.WrapError(err, "failed to start "+name)
		}
		return nil
	}
}

func stopIn(ctx context.Context, component types.LifecycleManager, name string, l types.Logger) error {
	done := make(chan error, 1)
	go func() {
		done <- component.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			l.Error("Failed to stop "+name, zap.Error(err))
		}
		return err
	case <-ctx.Done():
		l.Warn("Timed out stopping "+name)
		return ctx.Err()
	}
}

func (a *Application) Config() *types.ServiceConfig { return a.config }
func (a *Application) Logger() types.Logger { return a.logger }
func (a *Application) Metrics() *metrics.Manager { return a.metrics }
func (a *Application) Storage() types.KVStore { return a.storage }
func (a *Application) Cache() *cache.Store { return a.cache }
func (a *Application) Queue() *queue.Queue { return a.queue }
func (a *Application) Network() *network.Monitor { return a.monitor }
func (a *Application) Prober() *network.Prober { return a.prober }
func (a *Application) Provider() types.RemoteProvider { return a.provider }
func (a *Application) Remote() *remote.Guarded { return a.remote }
func (a *Application) Engine() *syncer.Engine { return a.engine }
func (a *Application) Repository() *repository.Repository { return a.repository }
func (a *Application) Health() *health.Manager { return a.health }
func (a *Application) Scheduler() *scheduler.Manager { return a.scheduler }

func (a *Application) getState() State {
	return a.state.Load().(State)
}

func (a *Application) setState(newState State) {
	a.state.Store(newState)
}

func (a *Application) transitionState(from, to State) bool {
	return a.state.CompareAndSwap(from, to)
}
