package internal

import (
	"net/http"
	"strconv"
	"time"

	"rtb-inventory-api/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "rtb"

// Metrics holds the service's Prometheus collectors on a private registry.
// It doubles as the workflow observer.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	transitions *prometheus.CounterVec
	assigned    prometheus.Counter
	conflicts   prometheus.Counter
}

func NewMetrics() *Metrics {
	labels := []string{"method", "path", "code"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "application_transitions_total",
			Help:      "Device application status changes.",
		}, []string{"from", "to"}),
		assigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "devices_assigned_total",
			Help:      "Devices tagged and assigned to schools.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "assignment_conflicts_total",
			Help:      "Assignments lost to a concurrent writer.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.inFlight,
		m.transitions, m.assigned, m.conflicts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Transitioned counts an application status change. Submission has no
// previous status and is labelled from="none".
func (m *Metrics) Transitioned(from, to models.ApplicationStatus) {
	f := string(from)
	if f == "" {
		f = "none"
	}
	m.transitions.WithLabelValues(f, string(to)).Inc()
}

func (m *Metrics) DevicesAssigned(n int) {
	m.assigned.Add(float64(n))
}

func (m *Metrics) AssignmentConflict() {
	m.conflicts.Inc()
}

// Middleware records request count, latency and in-flight requests
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			lv := []string{r.Method, routePattern(r), strconv.Itoa(rec.code)}
			m.requests.WithLabelValues(lv...).Inc()
			m.latency.WithLabelValues(lv...).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler serves the private registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// routePattern prefers chi's matched pattern so ids stay out of labels.
// Unmatched requests share one label value.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusRecorder captures the response status for metrics and logging
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.code = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
