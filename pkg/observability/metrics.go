package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Identity metrics
	TokenVerificationsTotal *prometheus.CounterVec

	// Role resolution metrics
	RoleResolutionsTotal   *prometheus.CounterVec
	RoleResolutionDuration *prometheus.HistogramVec
	RoleMultipleRowsTotal  prometheus.Counter

	// Gate metrics
	GateDecisionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Login activity metrics
	ActivityWritesTotal *prometheus.CounterVec
	ActivityPurgedTotal prometheus.Counter
	ActivityArchived    prometheus.Counter

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_token_verifications_total",
				Help: "Bearer token verifications by result",
			},
			[]string{"result"},
		),

		RoleResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_role_resolutions_total",
				Help: "Role resolutions by outcome",
			},
			[]string{"outcome"},
		),
		RoleResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_role_resolution_duration_seconds",
				Help:    "Role resolution duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"outcome"},
		),
		RoleMultipleRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_role_lookup_multiple_rows_total",
				Help: "Role lookups that returned more than one row",
			},
		),

		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_gate_decisions_total",
				Help: "Access gate decisions by state and outcome",
			},
			[]string{"state", "outcome"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_role_cache_hits_total",
				Help: "Role cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_role_cache_misses_total",
				Help: "Role cache misses by tier",
			},
			[]string{"tier"},
		),

		ActivityWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_login_activity_writes_total",
				Help: "Login activity writes by status",
			},
			[]string{"status"},
		),
		ActivityPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_login_activity_purged_total",
				Help: "Login activity rows removed by the retention sweep",
			},
		),
		ActivityArchived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_login_activity_archived_total",
				Help: "Login activity rows archived before purge",
			},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenVerificationsTotal,
		m.RoleResolutionsTotal,
		m.RoleResolutionDuration,
		m.RoleMultipleRowsTotal,
		m.GateDecisionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ActivityWritesTotal,
		m.ActivityPurgedTotal,
		m.ActivityArchived,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template, not the raw path, so
// user-supplied path segments do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// MetricsHandler exposes the registry in the Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// AttachOTel forwards gate and resolver observations to OpenTelemetry as well
func (m *Metrics) AttachOTel(o *OTelMetrics) {
	if m != nil {
		m.otel = o
	}
}

// The Observe* helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveTokenVerification(result string) {
	if m == nil {
		return
	}
	m.TokenVerificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRoleResolution(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RoleResolutionsTotal.WithLabelValues(outcome).Inc()
	m.RoleResolutionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.otel.RecordRoleResolution(ctx, outcome, elapsed.Seconds())
}

func (m *Metrics) ObserveMultipleRoleRows() {
	if m == nil {
		return
	}
	m.RoleMultipleRowsTotal.Inc()
}

func (m *Metrics) ObserveGateDecision(ctx context.Context, state, outcome string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(state, outcome).Inc()
	m.otel.RecordGateDecision(ctx, state, outcome)
}

func (m *Metrics) ObserveCache(tier string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(tier).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveActivityWrite(status string) {
	if m == nil {
		return
	}
	m.ActivityWritesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveActivitySweep(archived, purged int64) {
	if m == nil {
		return
	}
	m.ActivityArchived.Add(float64(archived))
	m.ActivityPurgedTotal.Add(float64(purged))
}

// ObserveDBStats copies connection pool stats into the gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
}
