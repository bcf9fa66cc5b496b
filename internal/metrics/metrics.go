package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// payment sessions
	PaymentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Payment session creation attempts by outcome",
		},
		[]string{"outcome"}, // created|rejected|unreachable|error
	)

	// ledger transitions actually applied
	PaymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Applied ledger status transitions",
		},
		[]string{"status", "source"}, // source: redirect|ipn|fail|cancel
	)

	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment gateway calls",
		},
		[]string{"op", "outcome"},
	)

	RecordsMaterialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_materialized_total",
			Help: "Device records created from paid transactions",
		},
		[]string{"outcome"}, // created|invalid|duplicate|error
	)

	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Classifier predictions by label",
		},
		[]string{"label"},
	)

	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests by chi route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	initOnce sync.Once
)

// /metrics endpoint handler
var Handler = promhttp.Handler

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPLatency, PaymentsCreated, PaymentTransitions, GatewayRequests, RecordsMaterialized, Predictions)
	})
}
