// Package metrics exposes Prometheus collectors for the analytics service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resident-x/go-solarsight/internal/domain"
)

const namespace = "solarsight"

// Computation results.
const (
	ResultSuccess  = "success"
	ResultCached   = "cached"
	ResultFallback = "fallback"
	ResultError    = "error"
)

// Metrics holds every collector on its own registry. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	computations        *prometheus.CounterVec
	computationDuration *prometheus.HistogramVec
	siteHealth          *prometheus.GaugeVec
	issues              *prometheus.CounterVec
	sensorErrors        *prometheus.CounterVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	staleDrops          *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	ingested            *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "Total view computations by view and result.",
		}, []string{"view", "result"}),
		computationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "computation_duration_seconds",
			Help:      "Histogram of view computation durations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"view"}),
		siteHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "site_health_score",
			Help:      "Latest committed health score per site.",
		}, []string{"site"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Generated issues by severity.",
		}, []string{"severity"}),
		sensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_errors_total",
			Help:      "Issues flagged with a sensor error, per site.",
		}, []string{"site"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total result cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total result cache misses.",
		}),
		staleDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_dropped_total",
			Help:      "Refresh results discarded because a newer request superseded them.",
		}, []string{"view"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Issue notifications by result (sent, failed, throttled).",
		}, []string{"result"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_samples_total",
			Help:      "Ingested telemetry samples by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.computations,
		m.computationDuration,
		m.siteHealth,
		m.issues,
		m.sensorErrors,
		m.cacheHits,
		m.cacheMisses,
		m.staleDrops,
		m.notifications,
		m.ingested,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveComputation records one view computation.
func (m *Metrics) ObserveComputation(view domain.View, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(string(view), result).Inc()
	m.computationDuration.WithLabelValues(string(view)).Observe(d.Seconds())
}

// SetSiteHealth records the latest health score of a site.
func (m *Metrics) SetSiteHealth(siteID string, score float64) {
	if m == nil {
		return
	}
	m.siteHealth.WithLabelValues(siteID).Set(score)
}

// DeleteSite drops per-site series.
func (m *Metrics) DeleteSite(siteID string) {
	if m == nil {
		return
	}
	m.siteHealth.DeleteLabelValues(siteID)
	m.sensorErrors.DeleteLabelValues(siteID)
}

// ObserveIssues counts issues by severity and sensor errors by site.
func (m *Metrics) ObserveIssues(siteID string, issues []domain.SolarIssue) {
	if m == nil {
		return
	}
	for _, issue := range issues {
		m.issues.WithLabelValues(string(issue.Severity)).Inc()
		if issue.HasSensorError {
			m.sensorErrors.WithLabelValues(siteID).Inc()
		}
	}
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// StaleDropped counts a refresh result that lost to a newer request.
func (m *Metrics) StaleDropped(view domain.View) {
	if m == nil {
		return
	}
	m.staleDrops.WithLabelValues(string(view)).Inc()
}

// Notification counts a notification outcome.
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// Ingested counts accepted and rejected telemetry samples.
func (m *Metrics) Ingested(accepted, rejected int) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues("accepted").Add(float64(accepted))
	m.ingested.WithLabelValues("rejected").Add(float64(rejected))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and latency for a route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
