package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mattermost/mattermost-plugin-vma/server/logging"
	"github.com/mattermost/mattermost-plugin-vma/server/metrics"
	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

var errStreamClosed = errors.New("stream closed by server")

// Topology reports which sources have at least one enabled target.
type Topology interface {
	NeededSources() map[vma.Source]bool
}

// Status is a point-in-time view of one source's stream.
type Status struct {
	Source           string    `json:"source"`
	Open             bool      `json:"open"`
	Connected        bool      `json:"connected"`
	RetryCount       int       `json:"retryCount"`
	ConnectedAt      time.Time `json:"connectedAt,omitempty"`
	ReconnectPending bool      `json:"reconnectPending"`
}

type connection struct {
	cancel      context.CancelFunc
	connected   bool
	createdAt   time.Time
	connectedAt time.Time
}

type sourceState struct {
	conn           *connection
	retryCount     int
	reconnect      *clock.Timer
	reconnectToken int
}

// Manager keeps one push stream per needed source and requests a pipeline run for every
// message received. Connections are opened and closed as the set of needed sources changes.
type Manager struct {
	config     Config
	subscriber Subscriber
	topology   Topology
	onMessage  func()
	clock      clock.Clock
	logger     logging.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	sources map[vma.Source]*sourceState
	ticker  *clock.Ticker
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewManager creates a stream manager. onMessage is called, outside any lock, for every
// well-formed stream message.
func NewManager(
	config Config,
	subscriber Subscriber,
	topology Topology,
	onMessage func(),
	clk clock.Clock,
	logger logging.Logger,
	m *metrics.Metrics,
) *Manager {
	if clk == nil {
		clk = clock.New()
	}

	sources := make(map[vma.Source]*sourceState, len(vma.Sources))
	for _, source := range vma.Sources {
		sources[source] = &sourceState{}
	}

	return &Manager{
		config:     config.withDefaults(),
		subscriber: subscriber,
		topology:   topology,
		onMessage:  onMessage,
		clock:      clk,
		logger:     logger,
		metrics:    m,
		sources:    sources,
		done:       make(chan struct{}),
	}
}

// Start begins the periodic health check of live connections.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.ticker != nil {
		return
	}

	m.ticker = m.clock.Ticker(m.config.HealthCheckInterval)
	ticker := m.ticker

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				for _, source := range vma.Sources {
					m.HealthCheck(source)
				}
			}
		}
	}()
}

// Reconcile opens the streams of newly needed sources and closes the ones no longer needed.
func (m *Manager) Reconcile() {
	needed := m.topology.NeededSources()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, source := range vma.Sources {
		m.ensureLocked(source, needed[source])
	}
}

// EnsureConnection brings the stream of source in line with whether any target needs it.
func (m *Manager) EnsureConnection(source vma.Source) {
	needed := m.topology.NeededSources()[source]

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLocked(source, needed)
}

func (m *Manager) ensureLocked(source vma.Source, needed bool) {
	state, ok := m.sources[source]
	if !ok || m.stopped {
		return
	}

	if !needed {
		if state.conn != nil || state.reconnect != nil {
			m.logger.Info("Closing stream, no target needs the source", "source", source.String())
		}
		m.teardownLocked(source, state)
		return
	}

	// A pending reconnection opens the stream when it fires
	if state.conn != nil || state.reconnect != nil {
		return
	}

	m.openLocked(source, state)
}

func (m *Manager) openLocked(source vma.Source, state *sourceState) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		cancel:    cancel,
		createdAt: m.clock.Now(),
	}
	state.conn = conn

	url := m.config.Endpoints[source].StreamURL
	m.logger.Info("Opening stream", "source", source.String(), "url", url, "retryCount", state.retryCount)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		err := m.subscriber.Subscribe(ctx, url, Handlers{
			OnOpen:  func() { m.handleOpen(source, conn) },
			OnEvent: func(data []byte) { m.handleMessage(source, conn, data) },
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errStreamClosed
		}
		m.handleError(source, conn, err)
	}()
}

// teardownLocked closes the connection and cancels the pending reconnection of source.
func (m *Manager) teardownLocked(source vma.Source, state *sourceState) {
	if state.reconnect != nil {
		state.reconnect.Stop()
		state.reconnect = nil
		state.reconnectToken++
	}
	if state.conn != nil {
		state.conn.cancel()
		state.conn = nil
	}
	state.retryCount = 0
	m.metrics.StreamConnected(source.String(), false)
}

func (m *Manager) handleOpen(source vma.Source, conn *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.sources[source]
	if state.conn != conn {
		return
	}
	m.markConnectedLocked(source, state)
}

func (m *Manager) markConnectedLocked(source vma.Source, state *sourceState) {
	state.conn.connected = true
	state.conn.connectedAt = m.clock.Now()
	state.retryCount = 0
	m.metrics.StreamConnected(source.String(), true)
	m.logger.Info("Stream connected", "source", source.String())
}

func (m *Manager) handleMessage(source vma.Source, conn *connection, data []byte) {
	m.mu.Lock()
	state := m.sources[source]
	if state.conn != conn {
		m.mu.Unlock()
		return
	}
	if !conn.connected {
		m.markConnectedLocked(source, state)
	}
	m.mu.Unlock()

	var message vma.StreamMessage
	if err := json.Unmarshal(data, &message); err != nil {
		m.metrics.StreamMessage(source.String(), metrics.MessageMalformed)
		m.logger.Warn("Dropping malformed stream message", "source", source.String(), "error", err.Error())
		return
	}
	if message.Message == "" {
		m.metrics.StreamMessage(source.String(), metrics.MessageMalformed)
		m.logger.Warn("Dropping stream message without message field", "source", source.String())
		return
	}

	m.metrics.StreamMessage(source.String(), metrics.MessageParsed)
	m.logger.Debug("Stream message received", "source", source.String(), "message", message.Message)

	if m.onMessage != nil {
		m.onMessage()
	}
}

func (m *Manager) handleError(source vma.Source, conn *connection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.sources[source]
	if state.conn != conn || m.stopped {
		return
	}

	conn.cancel()
	state.conn = nil
	m.metrics.StreamConnected(source.String(), false)
	m.logger.Warn("Stream error", "source", source.String(), "error", err.Error())

	m.scheduleLocked(source, state)
}

// ScheduleReconnection arms the reconnect timer of source unless one is already pending.
func (m *Manager) ScheduleReconnection(source vma.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sources[source]
	if !ok || m.stopped {
		return
	}
	m.scheduleLocked(source, state)
}

func (m *Manager) scheduleLocked(source vma.Source, state *sourceState) {
	if state.reconnect != nil {
		return
	}

	if state.retryCount < MaxRetryCount {
		state.retryCount++
	}
	delay := ReconnectDelay(m.config.BaseDelay, m.config.MaxDelay, state.retryCount)

	state.reconnectToken++
	token := state.reconnectToken
	state.reconnect = m.clock.AfterFunc(delay, func() {
		m.reconnect(source, token)
	})

	m.metrics.StreamReconnectScheduled(source.String())
	m.logger.Info("Stream reconnection scheduled",
		"source", source.String(),
		"retryCount", state.retryCount,
		"delay", delay.String())
}

func (m *Manager) reconnect(source vma.Source, token int) {
	needed := m.topology.NeededSources()[source]

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.sources[source]
	if m.stopped || state.reconnectToken != token {
		return
	}
	state.reconnect = nil

	if !needed {
		m.logger.Debug("Skipping reconnection, source no longer needed", "source", source.String())
		return
	}
	if state.conn != nil {
		return
	}

	m.openLocked(source, state)
}

// HealthCheck recycles the connection of source once it is older than the maximum age. The
// retry counter is left alone and resets when the new connection opens.
func (m *Manager) HealthCheck(source vma.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sources[source]
	if !ok || m.stopped || state.conn == nil {
		return
	}

	age := m.clock.Since(state.conn.createdAt)
	if age <= m.config.MaxAge {
		return
	}

	m.logger.Info("Recycling stream that exceeded its maximum age",
		"source", source.String(),
		"age", age.String())
	m.metrics.StreamRecycled(source.String())

	state.conn.cancel()
	state.conn = nil
	m.metrics.StreamConnected(source.String(), false)
	m.openLocked(source, state)
}

// Snapshot returns the state of every source's stream.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]Status, 0, len(vma.Sources))
	for _, source := range vma.Sources {
		state := m.sources[source]
		status := Status{
			Source:           source.String(),
			RetryCount:       state.retryCount,
			ReconnectPending: state.reconnect != nil,
		}
		if state.conn != nil {
			status.Open = true
			status.Connected = state.conn.connected
			status.ConnectedAt = state.conn.connectedAt
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Stop cancels all timers, closes both streams and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true

	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.done)

	for _, source := range vma.Sources {
		m.teardownLocked(source, m.sources[source])
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Stream manager stopped")
}
