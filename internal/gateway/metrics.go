package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the gateway, exposed on each worker's /metrics
// endpoint and registered via promauto.

var (
	metricConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_connections_active",
			Help: "Number of currently open WebSocket connections",
		},
	)

	metricConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total number of WebSocket connections accepted",
		},
	)

	metricEventsIn = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_in_total",
			Help: "Total number of inbound events by type",
		},
		[]string{"type"},
	)

	metricEventsOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_out_total",
			Help: "Total number of outbound events by type",
		},
		[]string{"type"},
	)

	metricEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_events_dropped_total",
			Help: "Total number of outbound events dropped (closed session or full queue)",
		},
	)

	metricErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_errors_total",
			Help: "Total number of error events sent to clients by reason",
		},
		[]string{"reason"},
	)

	metricAdmissionRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_admission_rejected_total",
			Help: "Total number of connections rejected by the per-address cap",
		},
	)

	metricSessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_sessions_evicted_total",
			Help: "Total number of sessions displaced by a newer login for the same user",
		},
	)

	metricGroupsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_groups_active",
			Help: "Number of groups with at least one connected member",
		},
	)
)
