// Package metrics holds the Prometheus registry. The Registry satisfies
// the scheduler and live engine recorder interfaces so both report into
// the same place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Job metrics
	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	trialsTotal  *prometheus.CounterVec

	// Live engine metrics
	ticksTotal   *prometheus.CounterVec
	signalsTotal *prometheus.CounterVec
	ordersTotal  *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),

		jobsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_jobs_started_total",
				Help: "Jobs picked up by scheduler workers",
			},
			[]string{"kind"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_jobs_finished_total",
				Help: "Jobs that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		trialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_trials_total",
				Help: "Optimization trials executed",
			},
			[]string{"outcome"},
		),

		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_live_ticks_total",
				Help: "Live engine evaluation ticks",
			},
			[]string{"outcome"},
		),
		signalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_live_signals_total",
				Help: "Signals emitted by the live engine",
			},
			[]string{"decision"},
		),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeforge_live_orders_total",
				Help: "Orders sent to the broker gateway",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)
	reg.MustRegister(r.jobsStarted)
	reg.MustRegister(r.jobsFinished)
	reg.MustRegister(r.trialsTotal)
	reg.MustRegister(r.ticksTotal)
	reg.MustRegister(r.signalsTotal)
	reg.MustRegister(r.ordersTotal)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	r.httpRequestsTotal.WithLabelValues(method, path, statusToString(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// JobStarted records a job picked up by a worker.
func (r *Registry) JobStarted(kind string) {
	r.jobsStarted.WithLabelValues(kind).Inc()
}

// JobFinished records a job reaching a terminal status.
func (r *Registry) JobFinished(kind, status string) {
	r.jobsFinished.WithLabelValues(kind, status).Inc()
}

// TrialCompleted records one optimization trial.
func (r *Registry) TrialCompleted(failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	r.trialsTotal.WithLabelValues(outcome).Inc()
}

// TickCompleted records a live engine tick.
func (r *Registry) TickCompleted(settingID string, skipped bool) {
	outcome := "evaluated"
	if skipped {
		outcome = "skipped"
	}
	r.ticksTotal.WithLabelValues(outcome).Inc()
}

// SignalEmitted records an emitted live signal.
func (r *Registry) SignalEmitted(decision string) {
	r.signalsTotal.WithLabelValues(decision).Inc()
}

// OrderPlaced records a broker order attempt.
func (r *Registry) OrderPlaced(ok bool) {
	status := "accepted"
	if !ok {
		status = "rejected"
	}
	r.ordersTotal.WithLabelValues(status).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
