package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling broker.
//
// Naming convention: namespace_subsystem_name
// - namespace: signaling (application-level grouping)
// - subsystem: websocket, room, queue, conn (feature-level grouping)
//
// Gauges track current state, counters cumulative events, histograms
// latency distributions.

var (
	// ActiveWebSocketConnections tracks currently open client sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks rooms with at least one registered socket.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks membership per room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents counts ingress events by type and outcome.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks ingress event handling latency.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// QueueDepth tracks pending signaling messages per room.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending signaling messages per room queue",
	}, []string{"room_id"})

	// DroppedCandidates counts ice-candidate messages trimmed under
	// backpressure.
	DroppedCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "queue",
		Name:      "dropped_candidates_total",
		Help:      "Total ice-candidate messages dropped by the queue trim",
	})

	// ReconnectRequests counts reconnection triggers by outcome.
	ReconnectRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "conn",
		Name:      "reconnect_requests_total",
		Help:      "Total reconnection requests triggered",
	}, []string{"status"})

	// FallbackPairs tracks pairs currently relaying over the broker.
	FallbackPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "conn",
		Name:      "fallback_pairs",
		Help:      "Number of pairs in websocket fallback mode",
	})

	// RelayFrames counts relay-data frames forwarded while in fallback.
	RelayFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "conn",
		Name:      "relay_frames_total",
		Help:      "Total relay-data frames forwarded",
	})

	// CircuitBreakerState exposes the store breaker state (0 closed,
	// 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backing store",
	}, []string{"store"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
