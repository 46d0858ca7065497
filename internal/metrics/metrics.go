// Package metrics holds the Prometheus collectors for the guide pipeline
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups every ccEPG metric on its own registry. All methods are
// safe to call on a nil *Collectors, which records nothing.
type Collectors struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	FetchErrors      *prometheus.CounterVec
	ChannelsTotal    *prometheus.CounterVec
	IngestTotal      *prometheus.CounterVec
	SweptTotal       *prometheus.CounterVec
	AssignTotal      *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Collectors {
	m := &Collectors{registry: prometheus.NewRegistry()}

	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccepg_runs_total",
			Help: "Pipeline runs, by outcome.",
		},
		[]string{"outcome"},
	)
	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ccepg_run_duration_seconds",
			Help:    "Duration of complete pipeline runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	m.FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccepg_provider_errors_total",
			Help: "Provider fetch or normalize failures, by provider and stage.",
		},
		[]string{"provider", "stage"},
	)
	m.ChannelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccepg_channels_registered_total",
			Help: "Channels registered, by provider and whether they were new.",
		},
		[]string{"provider", "result"},
	)
	m.IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccepg_entries_ingested_total",
			Help: "Entry drafts processed, by provider and result.",
		},
		[]string{"provider", "result"},
	)
	m.SweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccepg_entries_swept_total",
			Help: "Entries deleted by the retention sweep, by reason.",
		},
		[]string{"reason"},
	)
	m.AssignTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccepg_entries_assigned_total",
			Help: "Entries processed by channel assignment, by result.",
		},
		[]string{"result"},
	)
	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccepg_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)
	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccepg_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RunsTotal,
		m.RunDuration,
		m.FetchErrors,
		m.ChannelsTotal,
		m.IngestTotal,
		m.SweptTotal,
		m.AssignTotal,
		m.RequestDuration,
		m.RequestsInFlight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Collectors) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Collectors) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Collectors) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Collectors) ProviderError(provider, stage string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(provider, stage).Inc()
}

func (m *Collectors) ChannelRegistered(provider string, created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "created"
	}
	m.ChannelsTotal.WithLabelValues(provider, result).Inc()
}

func (m *Collectors) Ingested(provider, result string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(provider, result).Inc()
}

func (m *Collectors) Swept(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *Collectors) Assigned(assigned, unresolved int) {
	if m == nil {
		return
	}
	m.AssignTotal.WithLabelValues("assigned").Add(float64(assigned))
	m.AssignTotal.WithLabelValues("unresolved").Add(float64(unresolved))
}

// Middleware records request duration and in-flight count.
func (m *Collectors) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.RequestDuration.
			WithLabelValues(sanitizeEndpoint(r.URL.Path), r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// sanitizeEndpoint normalizes paths to avoid cardinality explosion.
func sanitizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/channels/"):
		return "/api/channels/:provider/:id"
	case strings.HasPrefix(path, "/api/providers/"):
		return "/api/providers/:provider"
	default:
		return path
	}
}
