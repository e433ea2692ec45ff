package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collab"

var (
	EditOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "edit_outcomes_total", Help: "Edit submissions by outcome (accepted, conflict, rejected)."},
		[]string{"outcome"},
	)
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_received_total", Help: "Realtime messages received by type."},
		[]string{"type"},
	)
	ProtocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "protocol_errors_total", Help: "Error frames sent to connections by code."},
		[]string{"code"},
	)
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "active_connections", Help: "Open realtime connections."},
	)
	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent in the revision store compare-and-commit.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, route and status."},
		[]string{"method", "path", "status"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests or messages rejected by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		EditOutcomes,
		MessagesReceived,
		ProtocolErrors,
		ActiveConnections,
		CommitDuration,
		HTTPRequests,
		RateLimitRejected,
	)
}
