// ABOUTME: Prometheus metrics for the agent supervisor and the control API.
// ABOUTME: Each Metrics owns its registry; a nil *Metrics records nothing.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the botkeeper collectors.
type Metrics struct {
	registry *prometheus.Registry

	agentRunning        prometheus.Gauge
	agentStarts         prometheus.Counter
	agentDisconnects    *prometheus.CounterVec
	reconnectAttempts   prometheus.Counter
	reconnectExhausted  prometheus.Counter
	movements           prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics registered on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		agentRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botkeeper_agent_running",
			Help: "1 when an agent handle exists, 0 otherwise",
		}),
		agentStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botkeeper_agent_starts_total",
			Help: "Total number of manual agent starts",
		}),
		agentDisconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botkeeper_agent_disconnects_total",
				Help: "Total number of agent disconnects by reason",
			},
			[]string{"reason"},
		),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botkeeper_reconnect_attempts_total",
			Help: "Total number of reconnect attempts",
		}),
		reconnectExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botkeeper_reconnect_exhausted_total",
			Help: "Total number of reconnect campaigns that ran out of attempts",
		}),
		movements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botkeeper_movements_total",
			Help: "Total number of random movement goals issued",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botkeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botkeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.agentRunning,
		m.agentStarts,
		m.agentDisconnects,
		m.reconnectAttempts,
		m.reconnectExhausted,
		m.movements,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetRunning sets the agent_running gauge.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.agentRunning.Set(1)
	} else {
		m.agentRunning.Set(0)
	}
}

// AgentStarted counts a manual start.
func (m *Metrics) AgentStarted() {
	if m == nil {
		return
	}
	m.agentStarts.Inc()
}

// AgentDisconnected counts a disconnect; reason is ended, kicked, or errored.
func (m *Metrics) AgentDisconnected(reason string) {
	if m == nil {
		return
	}
	m.agentDisconnects.WithLabelValues(reason).Inc()
}

// ReconnectAttempted counts one reconnect attempt.
func (m *Metrics) ReconnectAttempted() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// ReconnectExhausted counts a campaign that gave up.
func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectExhausted.Inc()
}

// Moved counts an issued movement goal.
func (m *Metrics) Moved() {
	if m == nil {
		return
	}
	m.movements.Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
