// Package metrics exposes the service's Prometheus instrumentation on a
// private registry so tests can create isolated instances.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for ledger operation counters.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDenied    = "denied"
	OutcomeQueued    = "queued_for_approval"
)

// Metrics holds every collector the service registers. A nil *Metrics is a
// valid no-op recorder, which keeps instrumentation optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	withdrawals  *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	deposits     prometheus.Counter
	rateLimited  *prometheus.CounterVec
	killTrips    prometheus.Counter
	reconcileHit prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "withdrawals_total",
			Help:      "Withdrawal requests by outcome.",
		}, []string{"outcome"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "transfers_total",
			Help:      "Internal transfer requests by outcome.",
		}, []string{"outcome"}),
		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "deposits_total",
			Help:      "Deposits credited.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests denied by admission control, by action.",
		}, []string{"action"}),
		killTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "threshold_trips_total",
			Help:      "Automatic kill-switch trips by the system threshold guard.",
		}),
		reconcileHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "reconciliation_refusals_total",
			Help:      "Mutations refused because the account did not reconcile.",
		}),
	}
	registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.withdrawals, m.transfers, m.deposits,
		m.rateLimited, m.killTrips, m.reconcileHit,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterQueueDepthGauge exposes a drop counter from an async queue (audit,
// alerts) as a gauge read at scrape time.
func (m *Metrics) RegisterQueueDepthGauge(name, help string, fn func() uint64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "ledger",
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) }))
}

// Instrument wraps an HTTP handler with request counting and latency
// observation, labeled by the chi route pattern to keep cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) ObserveWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransfer(outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

func (m *Metrics) ObserveRateLimited(action string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveThresholdTrip() {
	if m == nil {
		return
	}
	m.killTrips.Inc()
}

func (m *Metrics) ObserveReconcileRefusal() {
	if m == nil {
		return
	}
	m.reconcileHit.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
