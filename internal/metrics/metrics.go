// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zigbeegate"

// Metrics holds the gateway's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	writes         *prometheus.CounterVec
	writeDuration  prometheus.Histogram
	availability   *prometheus.CounterVec
	configure      *prometheus.CounterVec
	devices        *prometheus.GaugeVec
	pairingActive  prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	coordinatorEvt *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Property writes by outcome.",
			},
			[]string{"outcome"},
		),
		writeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Time from write request to the last acknowledged op.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		availability: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "availability_transitions_total",
				Help:      "Device availability transitions by new state.",
			},
			[]string{"state"},
		),
		configure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "configure_attempts_total",
				Help:      "Configure procedure runs by outcome.",
			},
			[]string{"outcome"},
		),
		devices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices",
				Help:      "Tracked devices by availability.",
			},
			[]string{"state"},
		),
		pairingActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pairing_active",
				Help:      "1 while the join window is open.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		coordinatorEvt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coordinator_events_total",
				Help:      "Events received from the coordinator by kind.",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.writes,
		m.writeDuration,
		m.availability,
		m.configure,
		m.devices,
		m.pairingActive,
		m.httpRequests,
		m.coordinatorEvt,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveWrite records a completed write.
func (m *Metrics) ObserveWrite(outcome string, elapsed time.Duration) {
	m.writes.WithLabelValues(outcome).Inc()
	m.writeDuration.Observe(elapsed.Seconds())
}

// AvailabilityChanged counts a transition into state.
func (m *Metrics) AvailabilityChanged(state string) {
	m.availability.WithLabelValues(state).Inc()
}

// ConfigureOutcome counts a configure run.
func (m *Metrics) ConfigureOutcome(outcome string) {
	m.configure.WithLabelValues(outcome).Inc()
}

// SetDevices sets the tracked device gauges.
func (m *Metrics) SetDevices(online, offline, unknown int) {
	m.devices.WithLabelValues("online").Set(float64(online))
	m.devices.WithLabelValues("offline").Set(float64(offline))
	m.devices.WithLabelValues("unknown").Set(float64(unknown))
}

// SetPairing records whether the join window is open.
func (m *Metrics) SetPairing(active bool) {
	if active {
		m.pairingActive.Set(1)
		return
	}
	m.pairingActive.Set(0)
}

// CoordinatorEvent counts an event from the coordinator.
func (m *Metrics) CoordinatorEvent(kind string) {
	m.coordinatorEvt.WithLabelValues(kind).Inc()
}

// Middleware counts API requests. route labels come from the router so
// device ids do not explode the label set.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.httpRequests.WithLabelValues(route(r), r.Method, strconv.Itoa(rec.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
