package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurationMs *prometheus.HistogramVec

	submissionsCreatedTotal prometheus.Counter
	uploadBytesTotal        prometheus.Counter
	uploadObjectsTotal      *prometheus.CounterVec
	rollbacksTotal          *prometheus.CounterVec

	jobStatusCacheTotal *prometheus.CounterVec
	jobStatusFetchTotal *prometheus.CounterVec

	eventsConnections     prometheus.Gauge
	eventsReconnectsTotal prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	m.httpRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"method", "route"})

	m.submissionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "submissions_created_total",
		Help: "Total number of submissions created.",
	})
	m.uploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_bytes_total",
		Help: "Total number of input file bytes written to the object store.",
	})
	m.uploadObjectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_objects_total",
		Help: "Total number of input file uploads by result.",
	}, []string{"result"})
	m.rollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "submission_rollbacks_total",
		Help: "Total number of submission create rollbacks by outcome.",
	}, []string{"outcome"})

	m.jobStatusCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_status_cache_lookups_total",
		Help: "Job status cache lookups by state.",
	}, []string{"state"})
	m.jobStatusFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_status_fetches_total",
		Help: "Cluster job listings by result.",
	}, []string{"result"})

	m.eventsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "events_connections",
		Help: "Number of active realtime connections.",
	})
	m.eventsReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_reconnects_total",
		Help: "Total number of realtime reconnects.",
	})

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDurationMs,
		m.submissionsCreatedTotal,
		m.uploadBytesTotal,
		m.uploadObjectsTotal,
		m.rollbacksTotal,
		m.jobStatusCacheTotal,
		m.jobStatusFetchTotal,
		m.eventsConnections,
		m.eventsReconnectsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, statusLabel).Inc()
	ms := float64(duration.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.httpRequestDurationMs.WithLabelValues(method, route).Observe(ms)
}

func (m *Metrics) IncSubmissionsCreated() {
	if m == nil {
		return
	}
	m.submissionsCreatedTotal.Inc()
}

// ObserveUpload records one input file put; bytes count only on success.
func (m *Metrics) ObserveUpload(bytes int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.uploadObjectsTotal.WithLabelValues("error").Inc()
		return
	}
	m.uploadObjectsTotal.WithLabelValues("ok").Inc()
	if bytes > 0 {
		m.uploadBytesTotal.Add(float64(bytes))
	}
}

// IncRollbacks counts a compensated create; outcome is "clean" or "partial".
func (m *Metrics) IncRollbacks(outcome string) {
	if m == nil {
		return
	}
	m.rollbacksTotal.WithLabelValues(labelOr(outcome, "unknown")).Inc()
}

func (m *Metrics) IncJobStatusCache(state string) {
	if m == nil {
		return
	}
	m.jobStatusCacheTotal.WithLabelValues(labelOr(state, "unknown")).Inc()
}

func (m *Metrics) IncJobStatusFetch(result string) {
	if m == nil {
		return
	}
	m.jobStatusFetchTotal.WithLabelValues(labelOr(result, "unknown")).Inc()
}

func labelOr(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func (m *Metrics) IncEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Inc()
}

func (m *Metrics) DecEventsConnections() {
	if m == nil {
		return
	}
	m.eventsConnections.Dec()
}

func (m *Metrics) IncEventsReconnects() {
	if m == nil {
		return
	}
	m.eventsReconnectsTotal.Inc()
}
