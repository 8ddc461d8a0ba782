package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/mattermost/mattermost-plugin-vma/server/logging"
	"github.com/mattermost/mattermost-plugin-vma/server/metrics"
	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

const (
	// DefaultDebounce is the quiet period before a requested run starts
	DefaultDebounce = 2 * time.Second

	// RunMutexKey names the cluster mutex that serializes runs across server nodes.
	RunMutexKey = "vma_pipeline_run"
)

var (
	// ErrRunInProgress is returned when a run is requested while another one executes.
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrCircuitOpen is returned when a run is skipped because the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Fetcher returns the current alerts of a source. It never fails: errors yield an empty list.
type Fetcher interface {
	FetchAlerts(ctx context.Context, source vma.Source) []vma.Alert
}

// TargetLister enumerates the registered targets in registration order.
type TargetLister interface {
	ListTargets() ([]target.Target, error)
}

// Applier feeds a target its relevant alerts.
type Applier interface {
	Apply(t target.Target, alerts []vma.Alert) error
}

// ClusterMutex serializes runs across cluster nodes. *cluster.Mutex satisfies it.
type ClusterMutex interface {
	LockWithContext(ctx context.Context) error
	Unlock()
}

// Config holds the pipeline settings.
type Config struct {
	Debounce         time.Duration
	FailureThreshold int
	Cooldown         time.Duration

	// ClusterMutex is held for the duration of every run. Nil on a single node.
	ClusterMutex ClusterMutex
}

// Pipeline fetches the alerts of every needed source and distributes them to matching targets.
type Pipeline struct {
	debounce time.Duration
	fetcher  Fetcher
	targets  TargetLister
	applier  Applier
	breaker  *CircuitBreaker
	clock    clock.Clock
	logger   logging.Logger
	metrics  *metrics.Metrics

	// runMu is held by the executing run and by Exclusive callers.
	runMu        sync.Mutex
	clusterMutex ClusterMutex

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	timer         *clock.Timer
	timerToken    int
	lastRun       time.Time
	lastRunResult string
	stopped       bool
	wg            sync.WaitGroup
}

// New creates a pipeline.
func New(
	config Config,
	fetcher Fetcher,
	targets TargetLister,
	applier Applier,
	clk clock.Clock,
	logger logging.Logger,
	m *metrics.Metrics,
) *Pipeline {
	if clk == nil {
		clk = clock.New()
	}
	debounce := config.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		debounce: debounce,
		fetcher:  fetcher,
		targets:  targets,
		applier:  applier,
		breaker:  NewCircuitBreaker(config.FailureThreshold, config.Cooldown, clk, logger, m),
		clock:    clk,
		logger:   logger,
		metrics:  m,

		clusterMutex: config.ClusterMutex,

		ctx:    ctx,
		cancel: cancel,
	}
}

// Breaker returns the circuit breaker guarding the runs.
func (p *Pipeline) Breaker() *CircuitBreaker {
	return p.breaker
}

// LastRun returns when the last run finished and its result.
func (p *Pipeline) LastRun() (time.Time, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun, p.lastRunResult
}

// RequestRun schedules a run after the debounce period, restarting the period if a run is
// already scheduled.
func (p *Pipeline) RequestRun() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timerToken++
	token := p.timerToken
	p.timer = p.clock.AfterFunc(p.debounce, func() {
		p.fire(token)
	})
}

func (p *Pipeline) fire(token int) {
	p.mu.Lock()
	if p.stopped || token != p.timerToken {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.wg.Add(1)
	p.mu.Unlock()

	defer p.wg.Done()
	_ = p.Run(p.ctx)
}

// Run executes one distribution run. A run requested while another executes is dropped, and
// no run happens while the circuit breaker is open.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.runMu.TryLock() {
		p.metrics.PipelineRun(metrics.RunDroppedBusy)
		p.logger.Debug("Pipeline run already in progress, dropping request")
		return ErrRunInProgress
	}
	defer p.runMu.Unlock()

	if p.breaker.IsOpen() {
		p.finish(metrics.RunSkippedOpen)
		p.logger.Debug("Circuit breaker open, skipping pipeline run")
		return ErrCircuitOpen
	}

	if p.clusterMutex != nil {
		if err := p.clusterMutex.LockWithContext(ctx); err != nil {
			p.logger.Debug("Pipeline run cancelled while waiting for the cluster lock")
			return fmt.Errorf("failed to acquire cluster lock: %w", err)
		}
		defer p.clusterMutex.Unlock()
	}

	err := p.run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Debug("Pipeline run cancelled")
			return err
		}
		p.breaker.RecordFailure()
		p.finish(metrics.RunFailed)
		p.logger.Error("Pipeline run failed", "error", err.Error())
		return err
	}

	p.breaker.RecordSuccess()
	p.finish(metrics.RunSucceeded)
	return nil
}

// Exclusive calls fn once no run executes, on this node or on any node sharing the cluster
// mutex. Runs requested meanwhile are dropped. Target state must only be reset through it, so
// that a run holding a stale target cannot write the state back.
func (p *Pipeline) Exclusive(fn func()) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.clusterMutex != nil {
		if err := p.clusterMutex.LockWithContext(context.Background()); err != nil {
			p.logger.Warn("Failed to acquire cluster lock, continuing without it", "error", err.Error())
		} else {
			defer p.clusterMutex.Unlock()
		}
	}

	fn()
}

func (p *Pipeline) finish(result string) {
	p.metrics.PipelineRun(result)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRun = p.clock.Now()
	p.lastRunResult = result
}

func (p *Pipeline) run(ctx context.Context) error {
	targets, err := p.targets.ListTargets()
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	alerts, err := p.fetchAll(ctx, target.NeededSources(targets))
	if err != nil {
		return err
	}

	for _, t := range targets {
		if !t.IsEnabled() || !t.HasRequiredCapability() {
			p.logger.Debug("Skipping target", "targetId", t.GetID(), "enabled", t.IsEnabled())
			continue
		}

		source := vma.SourceFor(t.IsTestMode())
		relevant := make([]vma.Alert, 0)
		for _, alert := range alerts[source] {
			if vma.Matches(t.GetAreaCode(), alert) {
				relevant = append(relevant, alert)
			}
		}

		if err := p.applier.Apply(t, relevant); err != nil {
			p.logger.Error("Failed to apply alerts to target",
				"targetId", t.GetID(),
				"areaCode", t.GetAreaCode(),
				"error", err.Error())
		}
	}

	p.logger.Debug("Pipeline run completed", "targets", len(targets))
	return nil
}

// fetchAll fetches the needed sources concurrently.
func (p *Pipeline) fetchAll(ctx context.Context, needed map[vma.Source]bool) (map[vma.Source][]vma.Alert, error) {
	var mu sync.Mutex
	results := make(map[vma.Source][]vma.Alert, len(needed))

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range vma.Sources {
		if !needed[source] {
			continue
		}
		g.Go(func() error {
			alerts := p.fetcher.FetchAlerts(gctx, source)
			p.metrics.FetchedAlerts(source.String(), len(alerts))

			mu.Lock()
			results[source] = alerts
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch interrupted: %w", err)
	}
	return results, nil
}

// Stop cancels the scheduled run and the breaker reset, interrupts a running fetch and waits
// for a run started by the debounce timer to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerToken++
	p.mu.Unlock()

	p.cancel()
	p.breaker.Stop()
	p.wg.Wait()
}
