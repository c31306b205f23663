package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzDuration       *prometheus.HistogramVec

	GuardDecisionsTotal *prometheus.CounterVec

	HookOutcomesTotal *prometheus.CounterVec
	HookDuration      prometheus.Histogram

	CacheInvalidationsTotal *prometheus.CounterVec
	MemberLookupsTotal      *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_authz_decisions_total",
				Help: "Authorization decisions by kind (command, permission) and result",
			},
			[]string{"kind", "result"},
		),
		AuthzDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_authz_duration_seconds",
				Help:    "Time taken to reach an authorization decision",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_guard_decisions_total",
				Help: "Hierarchy edit guard decisions by target (role, member) and result",
			},
			[]string{"target", "result"},
		),
		HookOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_override_hook_outcomes_total",
				Help: "External override hook outcomes",
			},
			[]string{"outcome"},
		),
		HookDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_override_hook_duration_seconds",
				Help:    "External override hook round trip time",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_enablement_invalidations_total",
				Help: "Enablement cache invalidations by scope (module, guild, all) and origin (local, remote)",
			},
			[]string{"scope", "origin"},
		),
		MemberLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_member_lookups_total",
				Help: "Platform member lookups by source (cache, fetch) and result",
			},
			[]string{"source", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.AuthzDecisionsTotal,
		m.AuthzDuration,
		m.GuardDecisionsTotal,
		m.HookOutcomesTotal,
		m.HookDuration,
		m.CacheInvalidationsTotal,
		m.MemberLookupsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveDecision records one authorization decision
func (m *Metrics) ObserveDecision(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(kind, result).Inc()
	m.AuthzDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveGuard records one hierarchy edit guard decision
func (m *Metrics) ObserveGuard(target, result string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(target, result).Inc()
}

// ObserveHook records one override hook round trip
func (m *Metrics) ObserveHook(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HookOutcomesTotal.WithLabelValues(outcome).Inc()
	m.HookDuration.Observe(elapsed.Seconds())
}

// ObserveInvalidation records one enablement cache invalidation
func (m *Metrics) ObserveInvalidation(scope, origin string) {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.WithLabelValues(scope, origin).Inc()
}

// ObserveMemberLookup records one platform member lookup
func (m *Metrics) ObserveMemberLookup(source, result string) {
	if m == nil {
		return
	}
	m.MemberLookupsTotal.WithLabelValues(source, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware counts and times requests, labelled by the matched
// mux route template so path parameters do not explode cardinality
func HTTPMetricsMiddleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
