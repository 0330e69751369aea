package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
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

// Checker reports whether the remote side is reachable.
type Checker func(ctx context.Context) error

// HTTPChecker issues a HEAD request against url. Any response below 500
// counts as reachable.
func HTTPChecker(url string, timeout time.Duration) Checker {
	client := &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	return func(ctx context.Context) error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodHead)

		callTimeout := timeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < callTimeout {
				callTimeout = remaining
			}
		}

		if err := client.DoTimeout(req, resp, callTimeout); err != nil {
			return types.WrapError(types.ErrNetwork, err.Error())
		}

		if resp.StatusCode() >= fasthttp.StatusInternalServerError {
			return types.Errorf(types.ErrNetwork, "probe status %d", resp.StatusCode())
		}

		return nil
	}
}

// Prober periodically runs a Checker and feeds the result into a Monitor.
type Prober struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	monitor   *Monitor
	check     Checker
	interval  time.Duration
	timeout   time.Duration
	transport string
	state     atomic.Value
	wg        sync.WaitGroup
}

func NewProber(ctx context.Context, logger types.Logger, monitor *Monitor, config *types.ProbeConfig, check Checker) *Prober {
	proberCtx, cancel := context.WithCancel(ctx)

	if check == nil {
		check = HTTPChecker(config.URL, config.Timeout)
	}

	transport := config.Transport
	if transport == "" {
		transport = types.TransportUnknown
	}

	interval := config.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	p := &Prober{
		ctx:       proberCtx,
		cancel:    cancel,
		logger:    logger,
		monitor:   monitor,
		check:     check,
		interval:  interval,
		timeout:   timeout,
		transport: transport,
	}

	p.state.Store(StateStopped)

	return p
}

func (p *Prober) Start() error {
	if !p.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	p.wg.Add(1)
	go p.loop()

	p.state.Store(StateRunning)
	p.logger.Info("Network prober started", zap.Duration("interval", p.interval))
	return nil
}

func (p *Prober) Stop() error {
	if !p.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	p.cancel()
	p.wg.Wait()

	p.state.Store(StateStopped)
	p.logger.Info("Network prober stopped")
	return nil
}

func (p *Prober) IsRunning() bool {
	return p.state.Load().(State) == StateRunning
}

// ProbeOnce runs the checker a single time and updates the monitor.
func (p *Prober) ProbeOnce(ctx context.Context) types.NetworkState {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	state := types.NetworkState{IsConnected: true, TransportType: p.transport}
	if err := p.check(probeCtx); err != nil {
		p.logger.Debug("Network probe failed", zap.Error(err))
		state = types.NetworkState{IsConnected: false, TransportType: types.TransportNone}
	}

	p.monitor.Update(state)
	return state
}

func (p *Prober) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(p.ctx)
		}
	}
}
