package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "termstack"

// Metrics holds all Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal metrics
	TerminalsRunning prometheus.Gauge
	Spawns           *prometheus.CounterVec
	Exits            *prometheus.CounterVec
	Reruns           *prometheus.CounterVec
	Replays          prometheus.Counter

	// Scheduler metrics
	HealthChecks *prometheus.CounterVec

	// Persistence metrics
	Saves *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON API
type MetricsSnapshot struct {
	TotalRequests     int64
	TotalErrors       int64
	RunningTerminals  int64
	ActiveConnections int64
	FailedSaves       int64
	TotalDuration     float64 // sum of all request durations
	RequestCount      int64   // count for averaging
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Terminal metrics
		TerminalsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "terminals_running",
				Help:      "Number of terminals with a live process",
			},
		),
		Spawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_spawns_total",
				Help:      "Process spawn attempts",
			},
			[]string{"status"},
		),
		Exits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_exits_total",
				Help:      "Process exits by outcome",
			},
			[]string{"outcome"},
		),
		Reruns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_reruns_total",
				Help:      "Automatic restarts, scheduled or suspended",
			},
			[]string{"status"},
		),
		Replays: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequencer_replays_total",
				Help:      "Recorded replies typed into a process",
			},
		),

		// Scheduler metrics
		HealthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Startup health-check attempts by outcome",
			},
			[]string{"outcome"},
		),

		// Persistence metrics
		Saves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_saves_total",
				Help:      "State document writes",
			},
			[]string{"status"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "event"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status >= 400 {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordSpawn counts a spawn attempt. A successful spawn adds a running terminal.
func (m *Metrics) RecordSpawn(ok bool) {
	m.Spawns.WithLabelValues(status(ok)).Inc()
	if !ok {
		return
	}
	m.TerminalsRunning.Inc()
	m.mu.Lock()
	m.snapshot.RunningTerminals++
	m.mu.Unlock()
}

// RecordExit counts a process exit and removes a running terminal
func (m *Metrics) RecordExit(code int) {
	outcome := "clean"
	if code != 0 {
		outcome = "error"
	}
	m.Exits.WithLabelValues(outcome).Inc()
	m.TerminalsRunning.Dec()
	m.mu.Lock()
	m.snapshot.RunningTerminals--
	m.mu.Unlock()
}

// RecordRerun counts an automatic restart, or its suspension
func (m *Metrics) RecordRerun(suspended bool) {
	if suspended {
		m.Reruns.WithLabelValues("suspended").Inc()
		return
	}
	m.Reruns.WithLabelValues("scheduled").Inc()
}

// RecordReplay counts a typed sequencer reply
func (m *Metrics) RecordReplay() {
	m.Replays.Inc()
}

// RecordHealthCheck counts a startup health-check outcome
func (m *Metrics) RecordHealthCheck(outcome string) {
	m.HealthChecks.WithLabelValues(outcome).Inc()
}

// RecordSave counts a state write
func (m *Metrics) RecordSave(ok bool) {
	m.Saves.WithLabelValues(status(ok)).Inc()
	if ok {
		return
	}
	m.mu.Lock()
	m.snapshot.FailedSaves++
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, event string) {
	m.WSMessages.WithLabelValues(direction, event).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
