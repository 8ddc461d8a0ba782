package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-vma/server/incident"
	"github.com/mattermost/mattermost-plugin-vma/server/logging"
	"github.com/mattermost/mattermost-plugin-vma/server/metrics"
	"github.com/mattermost/mattermost-plugin-vma/server/target"
	"github.com/mattermost/mattermost-plugin-vma/server/target/targettest"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeFetcher struct {
	mu      sync.Mutex
	alerts  map[vma.Source][]vma.Alert
	calls   map[vma.Source]int
	block   chan struct{}
	entered chan struct{}
}

func newFakeFetcher(alerts map[vma.Source][]vma.Alert) *fakeFetcher {
	return &fakeFetcher{alerts: alerts, calls: map[vma.Source]int{}}
}

func (f *fakeFetcher) FetchAlerts(ctx context.Context, source vma.Source) []vma.Alert {
	f.mu.Lock()
	f.calls[source]++
	block, entered := f.block, f.entered
	alerts := f.alerts[source]
	f.mu.Unlock()

	if block != nil {
		entered <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
			return []vma.Alert{}
		}
	}
	return alerts
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) callsFor(source vma.Source) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

type fakeLister struct {
	mu      sync.Mutex
	targets []target.Target
	err     error
	calls   int
}

func (f *fakeLister) ListTargets() ([]target.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.targets, nil
}

func (f *fakeLister) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alertFor(id string, status vma.Status, geocodes ...string) vma.Alert {
	var area []vma.AreaRef
	for _, geocode := range geocodes {
		area = append(area, vma.AreaRef{Geocode: geocode})
	}
	return vma.Alert{
		IncidentID: id,
		MsgType:    vma.MsgTypeAlert,
		Status:     status,
		Info: []vma.Info{
			{Language: "sv-SE", Description: "Viktigt meddelande", AreaDesc: "Län", Area: area},
		},
	}
}

func newTestPipeline(fetcher Fetcher, lister TargetLister, clk clock.Clock) (*Pipeline, *logging.Recorder) {
	logger := &logging.Recorder{}
	m := metrics.New()
	p := New(
		Config{Debounce: 2 * time.Second, FailureThreshold: 5, Cooldown: 5 * time.Minute},
		fetcher,
		lister,
		incident.NewMachine("sv", logger, m),
		clk,
		logger,
		m,
	)
	return p, logger
}

func TestPipeline_RequestRunDebounces(t *testing.T) {
	mock := clock.NewMock()
	fetcher := newFakeFetcher(nil)
	lister := &fakeLister{targets: []target.Target{targettest.New("t1", "01")}}
	p, _ := newTestPipeline(fetcher, lister, mock)
	defer p.Stop()

	for i := 0; i < 5; i++ {
		p.RequestRun()
		mock.Add(500 * time.Millisecond)
	}
	assert.Equal(t, 0, fetcher.total(), "quiet period restarts on every request")

	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return fetcher.total() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return fetcher.total() > 1 }, 50*time.Millisecond, tick)

	require.Eventually(t, func() bool {
		_, result := p.LastRun()
		return result == metrics.RunSucceeded
	}, waitFor, tick)
}

func TestPipeline_RunIsMutuallyExclusive(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	fetcher.block = make(chan struct{})
	fetcher.entered = make(chan struct{}, 1)
	lister := &fakeLister{targets: []target.Target{targettest.New("t1", "01")}}
	p, _ := newTestPipeline(fetcher, lister, clock.NewMock())
	defer p.Stop()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	<-fetcher.entered

	assert.ErrorIs(t, p.Run(context.Background()), ErrRunInProgress)

	close(fetcher.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, lister.callCount(), "dropped request does not run")
}

func TestPipeline_CircuitBreaker(t *testing.T) {
	mock := clock.NewMock()
	fetcher := newFakeFetcher(nil)
	lister := &fakeLister{
		targets: []target.Target{targettest.New("t1", "01")},
		err:     errors.New("registry unavailable"),
	}
	p, logger := newTestPipeline(fetcher, lister, mock)
	defer p.Stop()

	for i := 0; i < 4; i++ {
		assert.Error(t, p.Run(context.Background()))
		assert.False(t, p.Breaker().IsOpen())
	}
	assert.Error(t, p.Run(context.Background()))
	assert.True(t, p.Breaker().IsOpen(), "fifth failure opens the breaker")
	assert.Equal(t, 5, logger.Count("error", "Pipeline run failed"))

	lister.setErr(nil)
	assert.ErrorIs(t, p.Run(context.Background()), ErrCircuitOpen)
	assert.Equal(t, 5, lister.callCount())
	assert.Equal(t, 0, fetcher.total(), "no fetch while open")

	mock.Add(5 * time.Minute)
	require.Eventually(t, func() bool { return !p.Breaker().IsOpen() }, waitFor, tick)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, fetcher.total())
}

func TestPipeline_SuccessResetsFailures(t *testing.T) {
	lister := &fakeLister{err: errors.New("registry unavailable")}
	p, _ := newTestPipeline(newFakeFetcher(nil), lister, clock.NewMock())
	defer p.Stop()

	for i := 0; i < 4; i++ {
		_ = p.Run(context.Background())
	}
	lister.setErr(nil)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 0, p.Breaker().Failures())

	lister.setErr(errors.New("registry unavailable"))
	for i := 0; i < 4; i++ {
		_ = p.Run(context.Background())
	}
	assert.False(t, p.Breaker().IsOpen())
}

func TestPipeline_CountyPrefixScenario(t *testing.T) {
	county := targettest.New("county", "01")
	municipality := targettest.New("municipality", "0114")
	elsewhere := targettest.New("elsewhere", "0380")
	nationwide := targettest.New("nationwide", "00")

	fetcher := newFakeFetcher(map[vma.Source][]vma.Alert{
		vma.SourceProduction: {alertFor("incident-1", vma.StatusActual, "01")},
	})
	lister := &fakeLister{targets: []target.Target{county, municipality, elsewhere, nationwide}}
	p, _ := newTestPipeline(fetcher, lister, clock.NewMock())
	defer p.Stop()

	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, county.Triggered(), 1)
	assert.Len(t, municipality.Triggered(), 1, "municipality matches through its county prefix")
	assert.Empty(t, elsewhere.Triggered())
	assert.Len(t, nationwide.Triggered(), 1)
}

func TestPipeline_SourceSelection(t *testing.T) {
	production := targettest.New("production", "01")
	drill := targettest.New("drill", "01")
	drill.TestMode = true

	fetcher := newFakeFetcher(map[vma.Source][]vma.Alert{
		vma.SourceProduction: {alertFor("real", vma.StatusActual, "01")},
		vma.SourceTest:       {alertFor("drill", vma.StatusTest, "01")},
	})
	lister := &fakeLister{targets: []target.Target{production, drill}}
	p, _ := newTestPipeline(fetcher, lister, clock.NewMock())
	defer p.Stop()

	require.NoError(t, p.Run(context.Background()))

	require.Len(t, production.Triggered(), 1)
	assert.Equal(t, "real", production.Triggered()[0].IncidentID)
	require.Len(t, drill.Triggered(), 1)
	assert.Equal(t, "drill", drill.Triggered()[0].IncidentID)
	assert.True(t, drill.Triggered()[0].Test)
}

func TestPipeline_FetchesOnlyNeededSources(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	disabledTest := targettest.New("disabled", "01")
	disabledTest.TestMode = true
	disabledTest.Enabled = false

	lister := &fakeLister{targets: []target.Target{targettest.New("production", "01"), disabledTest}}
	p, _ := newTestPipeline(fetcher, lister, clock.NewMock())
	defer p.Stop()

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 1, fetcher.callsFor(vma.SourceProduction))
	assert.Equal(t, 0, fetcher.callsFor(vma.SourceTest))
}

func TestPipeline_SkipsDisabledAndIncapableTargets(t *testing.T) {
	disabled := targettest.New("disabled", "01")
	disabled.Enabled = false
	incapable := targettest.New("incapable", "01")
	incapable.Capability = false

	fetcher := newFakeFetcher(map[vma.Source][]vma.Alert{
		vma.SourceProduction: {alertFor("incident-1", vma.StatusActual, "01")},
	})
	lister := &fakeLister{targets: []target.Target{disabled, incapable, targettest.New("enabled", "01")}}
	p, _ := newTestPipeline(fetcher, lister, clock.NewMock())
	defer p.Stop()

	require.NoError(t, p.Run(context.Background()))

	for _, skipped := range []*targettest.FakeTarget{disabled, incapable} {
		assert.Empty(t, skipped.Triggered())
		assert.Empty(t, skipped.Incidents())
		assert.Equal(t, 0, skipped.Saves())
		assert.False(t, skipped.Alarm())
	}
}

func TestPipeline_TargetFailureDoesNotAbortRun(t *testing.T) {
	broken := targettest.New("broken", "01")
	broken.LoadErr = errors.New("kv unavailable")
	healthy := targettest.New("healthy", "01")

	fetcher := newFakeFetcher(map[vma.Source][]vma.Alert{
		vma.SourceProduction: {alertFor("incident-1", vma.StatusActual, "01")},
	})
	lister := &fakeLister{targets: []target.Target{broken, healthy}}
	p, logger := newTestPipeline(fetcher, lister, clock.NewMock())
	defer p.Stop()

	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, healthy.Triggered(), 1)
	assert.Equal(t, 1, logger.Count("error", "Failed to apply alerts to target"))
	assert.Equal(t, 0, p.Breaker().Failures(), "target failures are not pipeline failures")
}

func TestPipeline_StopCancelsScheduledRun(t *testing.T) {
	mock := clock.NewMock()
	fetcher := newFakeFetcher(nil)
	lister := &fakeLister{targets: []target.Target{targettest.New("t1", "01")}}
	p, _ := newTestPipeline(fetcher, lister, mock)

	p.RequestRun()
	p.Stop()
	mock.Add(time.Minute)

	assert.Never(t, func() bool { return fetcher.total() > 0 }, 50*time.Millisecond, tick)

	p.RequestRun()
	mock.Add(time.Minute)
	assert.Never(t, func() bool { return fetcher.total() > 0 }, 50*time.Millisecond, tick)
}

// fakeClusterMutex behaves like a cluster mutex shared by every node of a test.
type fakeClusterMutex struct {
	ch chan struct{}
}

func newFakeClusterMutex() *fakeClusterMutex {
	return &fakeClusterMutex{ch: make(chan struct{}, 1)}
}

func (m *fakeClusterMutex) LockWithContext(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *fakeClusterMutex) Unlock() {
	<-m.ch
}

func newClusterNode(fetcher Fetcher, lister TargetLister, mutex ClusterMutex) *Pipeline {
	logger := &logging.Recorder{}
	m := metrics.New()
	return New(
		Config{Debounce: 2 * time.Second, FailureThreshold: 5, Cooldown: 5 * time.Minute, ClusterMutex: mutex},
		fetcher,
		lister,
		incident.NewMachine("sv", logger, m),
		clock.NewMock(),
		logger,
		m,
	)
}

func TestPipeline_ClusterMutexSerializesNodes(t *testing.T) {
	// Both nodes see the same target state, as they would through the shared KV store.
	shared := targettest.New("t1", "01")
	alerts := map[vma.Source][]vma.Alert{
		vma.SourceProduction: {alertFor("incident-1", vma.StatusActual, "01")},
	}
	mutex := newFakeClusterMutex()

	fetcherA := newFakeFetcher(alerts)
	fetcherA.block = make(chan struct{})
	fetcherA.entered = make(chan struct{}, 1)
	nodeA := newClusterNode(fetcherA, &fakeLister{targets: []target.Target{shared}}, mutex)
	defer nodeA.Stop()

	fetcherB := newFakeFetcher(alerts)
	nodeB := newClusterNode(fetcherB, &fakeLister{targets: []target.Target{shared}}, mutex)
	defer nodeB.Stop()

	doneA := make(chan error, 1)
	go func() { doneA <- nodeA.Run(context.Background()) }()
	<-fetcherA.entered

	doneB := make(chan error, 1)
	go func() { doneB <- nodeB.Run(context.Background()) }()
	assert.Never(t, func() bool { return fetcherB.total() > 0 }, 50*time.Millisecond, tick,
		"second node waits for the first to finish")

	close(fetcherA.block)
	require.NoError(t, <-doneA)
	require.NoError(t, <-doneB)

	assert.Equal(t, 1, fetcherB.total())
	assert.Len(t, shared.Triggered(), 1, "incident announced once across nodes")
}

func TestPipeline_RunCancelledWhileWaitingForClusterLock(t *testing.T) {
	mutex := newFakeClusterMutex()
	require.NoError(t, mutex.LockWithContext(context.Background()))
	defer mutex.Unlock()

	fetcher := newFakeFetcher(nil)
	p := newClusterNode(fetcher, &fakeLister{targets: []target.Target{targettest.New("t1", "01")}}, mutex)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, fetcher.total())
	assert.Equal(t, 0, p.Breaker().Failures(), "cancellation is not a failure")
	p.Stop()
}

func TestPipeline_ExclusiveWaitsForRunningRun(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	fetcher.block = make(chan struct{})
	fetcher.entered = make(chan struct{}, 1)
	p := newClusterNode(fetcher, &fakeLister{targets: []target.Target{targettest.New("t1", "01")}}, newFakeClusterMutex())
	defer p.Stop()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	<-fetcher.entered

	var mu sync.Mutex
	var order []string
	exclusiveDone := make(chan struct{})
	go func() {
		p.Exclusive(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, "exclusive")
		})
		close(exclusiveDone)
	}()

	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) > 0
	}, 50*time.Millisecond, tick)

	mu.Lock()
	order = append(order, "run released")
	mu.Unlock()
	close(fetcher.block)
	require.NoError(t, <-done)
	<-exclusiveDone

	assert.Equal(t, []string{"run released", "exclusive"}, order)
}

func TestPipeline_RunDroppedDuringExclusive(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	p, _ := newTestPipeline(fetcher, &fakeLister{targets: []target.Target{targettest.New("t1", "01")}}, clock.NewMock())
	defer p.Stop()

	p.Exclusive(func() {
		assert.ErrorIs(t, p.Run(context.Background()), ErrRunInProgress)
	})
	assert.Equal(t, 0, fetcher.total())
}
