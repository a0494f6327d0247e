// Package metrics provides Prometheus instrumentation for deployrecon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Chain metrics
	rpcCallsTotal     *prometheus.CounterVec
	pollAttemptsTotal *prometheus.CounterVec

	// Deployment metrics
	manifestTransitionsTotal *prometheus.CounterVec

	// Reconciliation metrics
	verdictsTotal    *prometheus.CounterVec
	stateChecksTotal *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec

	// Verification metrics
	verificationTotal     *prometheus.CounterVec
	explorerRequestsTotal *prometheus.CounterVec
)

// Init initializes the metrics system. Helpers are no-ops until Init is
// called with enabled set.
func Init(enabledFlag bool, svcName string) {
	if enabled {
		// collectors are registered once per process
		return
	}
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	rpcCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_rpc_calls_total",
			Help: "Total number of JSON-RPC calls by method and result",
		},
		[]string{"method", "result"},
	)

	pollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_receipt_poll_attempts_total",
			Help: "Total number of receipt poll attempts",
		},
		[]string{"network"},
	)

	manifestTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_manifest_transitions_total",
			Help: "Total number of deployment manifest state transitions",
		},
		[]string{"network", "status"},
	)

	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_bytecode_verdicts_total",
			Help: "Total number of bytecode reconciliation verdicts",
		},
		[]string{"verdict"},
	)

	stateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_state_checks_total",
			Help: "Total number of on-chain state checks",
		},
		[]string{"check", "result"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_reconciliation_runs_total",
			Help: "Total number of reconciliation runs by overall result",
		},
		[]string{"result"},
	)

	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_verification_outcomes_total",
			Help: "Total number of verification outcomes",
		},
		[]string{"outcome"},
	)

	explorerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployrecon_explorer_requests_total",
			Help: "Total number of explorer API requests",
		},
		[]string{"action", "result"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
