package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vma"

// Pipeline run results
const (
	RunSucceeded     = "succeeded"
	RunFailed        = "failed"
	RunSkippedOpen   = "skipped_breaker_open"
	RunDroppedBusy   = "dropped_busy"
	MessageParsed    = "parsed"
	MessageMalformed = "malformed"
)

// Metrics holds the collectors of the alert core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns       *prometheus.CounterVec
	fetchedAlerts      *prometheus.GaugeVec
	streamConnected    *prometheus.GaugeVec
	streamReconnects   *prometheus.CounterVec
	streamRecycles     *prometheus.CounterVec
	streamMessages     *prometheus.CounterVec
	incidents          *prometheus.CounterVec
	openIncidents      *prometheus.GaugeVec
	rejectedTestAlerts prometheus.Counter
	sideEffectFailures *prometheus.CounterVec
	breakerOpen        prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Distribution pipeline runs by result",
		}, []string{"result"}),
		fetchedAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetched_alerts",
			Help:      "Number of alerts returned by the last fetch of each source",
		}, []string{"source"}),
		streamConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_connected",
			Help:      "1 while the push stream of a source is connected",
		}, []string{"source"}),
		streamReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_scheduled_total",
			Help:      "Reconnections scheduled after stream errors",
		}, []string{"source"}),
		streamRecycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_recycles_total",
			Help:      "Streams closed and reopened by the health check for exceeding their maximum age",
		}, []string{"source"}),
		streamMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Push stream messages by parse result",
		}, []string{"source", "result"}),
		incidents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_transitions_total",
			Help:      "Incident transitions emitted to targets",
		}, []string{"transition"}),
		openIncidents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_incidents",
			Help:      "Open incidents per target",
		}, []string{"target"}),
		rejectedTestAlerts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_test_alerts_total",
			Help:      "Test alerts that reached a target outside test mode",
		}),
		sideEffectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_side_effect_failures_total",
			Help:      "Failed target side effects by operation",
		}, []string{"operation"}),
		breakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while the pipeline circuit breaker is open",
		}),
	}
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PipelineRun(result string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) FetchedAlerts(source string, count int) {
	if m == nil {
		return
	}
	m.fetchedAlerts.WithLabelValues(source).Set(float64(count))
}

func (m *Metrics) StreamConnected(source string, connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	m.streamConnected.WithLabelValues(source).Set(value)
}

func (m *Metrics) StreamReconnectScheduled(source string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(source).Inc()
}

func (m *Metrics) StreamRecycled(source string) {
	if m == nil {
		return
	}
	m.streamRecycles.WithLabelValues(source).Inc()
}

func (m *Metrics) StreamMessage(source, result string) {
	if m == nil {
		return
	}
	m.streamMessages.WithLabelValues(source, result).Inc()
}

func (m *Metrics) IncidentTriggered() {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues("triggered").Inc()
}

func (m *Metrics) IncidentCancelled() {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues("cancelled").Inc()
}

func (m *Metrics) OpenIncidents(targetID string, count int) {
	if m == nil {
		return
	}
	m.openIncidents.WithLabelValues(targetID).Set(float64(count))
}

// ForgetTarget drops the per-target series of a removed target.
func (m *Metrics) ForgetTarget(targetID string) {
	if m == nil {
		return
	}
	m.openIncidents.DeleteLabelValues(targetID)
}

func (m *Metrics) TestAlertRejected() {
	if m == nil {
		return
	}
	m.rejectedTestAlerts.Inc()
}

func (m *Metrics) SideEffectFailed(operation string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) BreakerOpen(open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.breakerOpen.Set(value)
}
