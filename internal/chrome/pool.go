package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/metrics"
	"github.com/adscan/adscan/pkg/types"
)

// ScanPool runs page tasks against managed browsers. Pool is the normal
// implementation; FallbackPool trades throughput for isolation when the
// shared browsers keep crashing.
type ScanPool interface {
	Run(ctx context.Context, url string, opts TaskOptions) types.TaskResult
	Stats() PoolStats
	Shutdown(ctx context.Context) error
}

// Pool manages a fixed set of long-lived browser instances handed out FIFO.
type Pool struct {
	config    *Config
	logger    *zap.Logger
	collector *metrics.Collector

	instances []*Instance
	queue     chan int // instance IDs ready for work

	activeTabs    atomic.Int32
	totalTasks    atomic.Int64
	totalRestarts atomic.Int64

	// live counts instances still in rotation; when a failed restart
	// drops the last one, dead is closed so blocked acquires fail fast
	// instead of waiting on an empty queue forever.
	live     atomic.Int32
	dead     chan struct{}
	deadOnce sync.Once

	shutdownOnce sync.Once
	shutdown     atomic.Bool
}

// NewPool launches poolSize browsers up front so the first batch does not
// pay startup latency. Partial startup failure is fatal: a half-sized pool
// silently changes throughput in ways operators will not expect.
func NewPool(cfg *Config, collector *metrics.Collector, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser pool config: %w", err)
	}

	size := cfg.CalculatePoolSize()
	logger.Info("Starting browser pool",
		zap.Int("poolSize", size),
		zap.Bool("headless", cfg.Headless))

	p := &Pool{
		config:    cfg,
		logger:    logger,
		collector: collector,
		instances: make([]*Instance, size),
		queue:     make(chan int, size),
		dead:      make(chan struct{}),
	}
	p.live.Store(int32(size))

	for id := 0; id < size; id++ {
		inst, err := NewInstance(id, cfg, logger)
		if err != nil {
			p.terminateAll()
			return nil, fmt.Errorf("failed to start browser %d of %d: %w", id+1, size, err)
		}
		p.instances[id] = inst
		p.queue <- id
	}

	collector.UpdatePoolSize(size)
	collector.UpdatePoolAvailable(size)
	return p, nil
}

// acquire hands out the next ready instance, restarting dead or stale ones
// on the way.
func (p *Pool) acquire(ctx context.Context) (*Instance, error) {
	for {
		if p.shutdown.Load() {
			return nil, ErrPoolShutdown
		}

		var id int
		select {
		case id = <-p.queue:
		case <-p.dead:
			return nil, ErrPoolShutdown
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		inst := p.instances[id]

		if !inst.IsAlive() || inst.ShouldRestart() {
			if err := p.restartInstance(inst); err != nil {
				p.logger.Error("Browser restart failed, instance removed from rotation",
					zap.Int("instance", id),
					zap.Error(err))
				// Do not requeue; the pool shrinks rather than loops on
				// a broken Chrome install.
				p.dropFromRotation()
				continue
			}
		}

		inst.Status = StatusBusy
		p.activeTabs.Add(1)
		p.collector.UpdatePoolAvailable(len(p.queue))
		return inst, nil
	}
}

// release returns an instance to the rotation.
func (p *Pool) release(inst *Instance) {
	p.activeTabs.Add(-1)
	inst.RecordTask()
	inst.Status = StatusReady

	if p.shutdown.Load() {
		return
	}
	select {
	case p.queue <- inst.ID:
	default:
		// Queue full can only mean double release; drop rather than block.
		p.logger.Warn("Browser release with full queue", zap.Int("instance", inst.ID))
	}
	p.collector.UpdatePoolAvailable(len(p.queue))
}

// dropFromRotation accounts for an instance that will never be requeued.
// Dropping the last one marks the whole pool dead.
func (p *Pool) dropFromRotation() {
	if p.live.Add(-1) <= 0 {
		p.deadOnce.Do(func() { close(p.dead) })
	}
}

// Dead reports whether the pool lost its entire rotation. A deliberate
// Shutdown does not count.
func (p *Pool) Dead() bool {
	return p.live.Load() <= 0 && !p.shutdown.Load()
}

// restartInstance replaces the browser process behind an instance slot.
func (p *Pool) restartInstance(inst *Instance) error {
	p.totalRestarts.Add(1)
	p.collector.RecordRestart()
	return inst.Restart(p.logger)
}

// Run executes one page task on a pooled browser.
func (p *Pool) Run(ctx context.Context, url string, opts TaskOptions) types.TaskResult {
	inst, err := p.acquire(ctx)
	if err != nil {
		det := types.DetailedError{
			Category:    types.CategoryBrowser,
			SubCategory: "pool",
			Phase:       types.PhaseNavigation,
			Code:        types.CodeBrowserCrashNoRetry,
			URL:         url,
			Timestamp:   time.Now().UTC(),
			Message:     fmt.Sprintf("no browser available: %v", err),
		}
		return types.NewErrorResult(&det)
	}
	defer p.release(inst)

	p.totalTasks.Add(1)
	start := time.Now()
	result := ScanPage(ctx, inst.GetContext(), url, opts, p.logger)
	p.collector.RecordTaskDuration(time.Since(start).Seconds())
	p.collector.RecordTask(result.Kind.String())
	if result.Kind == types.TaskError && result.Detailed != nil {
		p.collector.RecordTaskError(result.Detailed.Category)
	}
	return result
}

// Stats returns a snapshot of pool health.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		PoolSize:      len(p.instances),
		Available:     len(p.queue),
		ActiveTabs:    p.activeTabs.Load(),
		TotalTasks:    p.totalTasks.Load(),
		TotalRestarts: p.totalRestarts.Load(),
	}
}

// Shutdown drains active tabs, then terminates every browser. Waiting is
// bounded by ctx and by the configured shutdown timeout, whichever fires
// first.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		p.shutdown.Store(true)
		p.deadOnce.Do(func() { close(p.dead) })
		p.logger.Info("Shutting down browser pool",
			zap.Int32("activeTabs", p.activeTabs.Load()))

		deadline := time.NewTimer(p.config.ShutdownTimeout)
		defer deadline.Stop()
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

	drain:
		for p.activeTabs.Load() > 0 {
			select {
			case <-ticker.C:
			case <-deadline.C:
				err = fmt.Errorf("pool shutdown timed out with %d active tabs", p.activeTabs.Load())
				break drain
			case <-ctx.Done():
				err = ctx.Err()
				break drain
			}
		}

		p.terminateAll()
		p.collector.UpdatePoolSize(0)
		p.collector.UpdatePoolAvailable(0)
		p.logger.Info("Browser pool shut down")
	})
	return err
}

func (p *Pool) terminateAll() {
	for _, inst := range p.instances {
		if inst != nil {
			inst.Terminate()
		}
	}
}

// FallbackPool launches a fresh browser per task. Slower, but a renderer
// crash then takes down only its own task. The batch orchestrator switches
// to it after repeated pool-level failures.
type FallbackPool struct {
	config    *Config
	logger    *zap.Logger
	collector *metrics.Collector

	sem        chan struct{}
	totalTasks atomic.Int64
	shutdown   atomic.Bool
}

// NewFallbackPool bounds concurrent single-use browsers at maxConcurrent.
func NewFallbackPool(cfg *Config, maxConcurrent int, collector *metrics.Collector, logger *zap.Logger) *FallbackPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &FallbackPool{
		config:    cfg,
		logger:    logger,
		collector: collector,
		sem:       make(chan struct{}, maxConcurrent),
	}
}

// Run launches a dedicated browser, scans one page and tears it down.
func (f *FallbackPool) Run(ctx context.Context, url string, opts TaskOptions) types.TaskResult {
	if f.shutdown.Load() {
		return poolDownResult(url, ErrPoolShutdown)
	}

	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return poolDownResult(url, ctx.Err())
	}
	defer func() { <-f.sem }()

	inst, err := NewInstance(0, f.config, f.logger)
	if err != nil {
		return poolDownResult(url, err)
	}
	defer inst.Terminate()

	f.totalTasks.Add(1)
	start := time.Now()
	result := ScanPage(ctx, inst.GetContext(), url, opts, f.logger)
	f.collector.RecordTaskDuration(time.Since(start).Seconds())
	f.collector.RecordTask(result.Kind.String())
	if result.Kind == types.TaskError && result.Detailed != nil {
		f.collector.RecordTaskError(result.Detailed.Category)
	}
	return result
}

// Stats reports fallback activity; PoolSize 0 marks the degraded mode.
func (f *FallbackPool) Stats() PoolStats {
	return PoolStats{
		PoolSize:   0,
		ActiveTabs: int32(len(f.sem)),
		TotalTasks: f.totalTasks.Load(),
	}
}

// Shutdown stops accepting tasks; per-task browsers die with their tasks.
func (f *FallbackPool) Shutdown(ctx context.Context) error {
	f.shutdown.Store(true)
	return nil
}

// FailoverPool runs tasks on the shared pool and switches to the
// browser-per-task fallback once the shared pool loses its whole rotation
// mid-run.
type FailoverPool struct {
	primary  *Pool
	fallback ScanPool
	logger   *zap.Logger

	degraded atomic.Bool
	warnOnce sync.Once
}

func NewFailoverPool(primary *Pool, fallback ScanPool, logger *zap.Logger) *FailoverPool {
	return &FailoverPool{primary: primary, fallback: fallback, logger: logger}
}

// Run prefers the shared pool. A task that failed because the pool died is
// rerun on the fallback rather than surfaced as an error.
func (f *FailoverPool) Run(ctx context.Context, url string, opts TaskOptions) types.TaskResult {
	if !f.degraded.Load() {
		if !f.primary.Dead() {
			result := f.primary.Run(ctx, url, opts)
			// Keep whatever outcome the shared pool produced before it
			// died; only the acquire failure itself gets rerun.
			if !f.primary.Dead() || result.Code != types.CodeBrowserCrashNoRetry {
				return result
			}
		}
		f.degraded.Store(true)
		f.warnOnce.Do(func() {
			f.logger.Warn("Shared browser pool lost every instance, switching to a browser per task")
		})
	}
	return f.fallback.Run(ctx, url, opts)
}

func (f *FailoverPool) Stats() PoolStats {
	if f.degraded.Load() {
		return f.fallback.Stats()
	}
	return f.primary.Stats()
}

func (f *FailoverPool) Shutdown(ctx context.Context) error {
	err := f.primary.Shutdown(ctx)
	if ferr := f.fallback.Shutdown(ctx); err == nil {
		err = ferr
	}
	return err
}

func poolDownResult(url string, err error) types.TaskResult {
	det := types.DetailedError{
		Category:    types.CategoryBrowser,
		SubCategory: "pool",
		Phase:       types.PhaseNavigation,
		Code:        types.CodeBrowserCrashNoRetry,
		URL:         url,
		Timestamp:   time.Now().UTC(),
		Message:     fmt.Sprintf("browser unavailable: %v", err),
	}
	return types.NewErrorResult(&det)
}
