// Package metrics declares the Prometheus metrics recorded by the relay
// and the client adapter. Only the relay serves them over HTTP
// (/metrics); the client adapter has no metrics endpoint.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: simulcast (application-level grouping)
//   - subsystem: relay, room, ipc, barrier, latency (feature-level grouping)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of accepted relay WebSocket
	// connections, including ones still in the handshake state machine.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "simulcast",
		Subsystem: "relay",
		Name:      "connections_active",
		Help:      "Current number of active relay WebSocket connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "simulcast",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in a given room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "simulcast",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// MessagesRouted tracks messages fanned out by the registry, by variant.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "relay",
		Name:      "messages_routed_total",
		Help:      "Total wire messages routed by the relay, by message type",
	}, []string{"type"})

	// BroadcastDropped tracks per-peer broadcast failures (§4.2 best-effort delivery).
	BroadcastDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "relay",
		Name:      "broadcast_dropped_total",
		Help:      "Total per-peer broadcast deliveries dropped due to a full or closed send queue",
	}, []string{"reason"})

	// ProtocolErrors tracks sessions closed for a protocol violation.
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "relay",
		Name:      "protocol_errors_total",
		Help:      "Total sessions closed due to a protocol error",
	}, []string{"reason"})

	// IPCRequestDuration tracks player IPC request/reply latency.
	IPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "simulcast",
		Subsystem: "ipc",
		Name:      "request_duration_seconds",
		Help:      "Time spent waiting for a player IPC reply",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// IPCErrors tracks player IPC failures.
	IPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "ipc",
		Name:      "errors_total",
		Help:      "Total player IPC errors",
	}, []string{"kind"})

	// LatencyRTT tracks the smoothed RTT estimate to each peer.
	LatencyRTT = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "simulcast",
		Subsystem: "latency",
		Name:      "rtt_ms",
		Help:      "Smoothed round-trip time estimate to a peer, in milliseconds",
	}, []string{"peer_id"})

	// BarrierOutcomes tracks how resume barriers resolve.
	BarrierOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "barrier",
		Name:      "outcomes_total",
		Help:      "Total resume barrier outcomes",
	}, []string{"outcome"})

	// ReconnectAttempts tracks client-relay link reconnect attempts.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "link",
		Name:      "reconnect_attempts_total",
		Help:      "Total client-relay link reconnect attempts",
	})

	// circuitBreakerState tracks the gobreaker state of external dependency
	// circuit breakers (e.g. the optional Redis fan-out bus). 0=closed,
	// 1=open, 2=half-open.
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "simulcast",
		Subsystem: "relay",
		Name:      "circuit_breaker_state",
		Help:      "State of a named circuit breaker: 0=closed, 1=open, 2=half-open",
	}, []string{"name"})

	// RateLimitRejections tracks WebSocket upgrade attempts rejected by the
	// relay's connect-rate limiter, by source.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simulcast",
		Subsystem: "relay",
		Name:      "rate_limit_rejections_total",
		Help:      "Total WebSocket upgrade attempts rejected for exceeding the connect rate limit",
	}, []string{"endpoint"})
)

// CircuitBreakerGauge records the current state of a named circuit breaker.
func CircuitBreakerGauge(name string, state float64) {
	circuitBreakerState.WithLabelValues(name).Set(state)
}
