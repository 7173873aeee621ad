package gateway

import (
	"encoding/json"

	"github.com/jamlink/broker/internal/v1/types"
)

// Wire event names. These form the stable WebSocket contract; payloads are
// JSON objects and signaling payloads stay opaque end to end.
const (
	// client -> server
	EventJoin             = "join"
	EventLeave            = "leave"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventIceCandidate     = "ice-candidate"
	EventReconnectRequest = "reconnect-request"
	EventConnectionState  = "connection-state"
	EventFallbackActivate = "webrtc-fallback-activate"
	EventRelayData        = "relay-data"

	// server -> client
	EventRoomState          = "room-state"
	EventPlayerJoined       = "player-joined"
	EventPlayerLeft         = "player-left"
	EventReconnectNeeded    = "reconnect-needed"
	EventPeerConnState      = "peer-connection-state"
	EventFallbackSuggested  = "webrtc-fallback-suggested"
	EventFallbackNeeded     = "webrtc-fallback-needed"
	EventFallbackActivated  = "webrtc-fallback-activated"
	EventError              = "error"
)

// Stable error codes surfaced on the wire.
const (
	CodeMaxConnections     = "ERR_MAX_CONNECTIONS"
	CodePeerNotFound       = "ERR_PEER_NOT_FOUND"
	CodeFallbackNotEnabled = "ERR_FALLBACK_NOT_ENABLED"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> server payloads ---

// MembershipPayload carries join and leave requests.
type MembershipPayload struct {
	RoomId types.RoomIdType `json:"roomId"`
	PeerId types.PeerIdType `json:"peerId"`
}

// SignalPayload carries offer, answer, and ice-candidate messages. Exactly
// one of Offer, Answer, Candidate is set depending on the event name; the
// broker never inspects their contents.
type SignalPayload struct {
	RoomId    types.RoomIdType `json:"roomId"`
	From      types.PeerIdType `json:"from"`
	To        types.PeerIdType `json:"to"`
	Offer     json.RawMessage  `json:"offer,omitempty"`
	Answer    json.RawMessage  `json:"answer,omitempty"`
	Candidate json.RawMessage  `json:"candidate,omitempty"`
}

// PairPayload carries reconnect-request and webrtc-fallback-activate.
type PairPayload struct {
	RoomId types.RoomIdType `json:"roomId"`
	From   types.PeerIdType `json:"from"`
	To     types.PeerIdType `json:"to"`
}

// ConnectionStatePayload carries client connection-state reports.
type ConnectionStatePayload struct {
	RoomId types.RoomIdType      `json:"roomId"`
	PeerId types.PeerIdType      `json:"peerId"`
	State  types.ConnectionState `json:"state"`
}

// RelayDataPayload carries opaque relay frames in both directions.
type RelayDataPayload struct {
	RoomId  types.RoomIdType `json:"roomId,omitempty"`
	From    types.PeerIdType `json:"from"`
	To      types.PeerIdType `json:"to,omitempty"`
	Payload json.RawMessage  `json:"payload"`
}

// --- Server -> client payloads ---

// RoomStateEvent is the snapshot unicast to a freshly joined socket.
type RoomStateEvent struct {
	RoomId  types.RoomIdType   `json:"roomId"`
	OwnerId types.PeerIdType   `json:"ownerId"`
	Players []types.PeerIdType `json:"players"`
	Rules   types.RoomRules    `json:"rules"`
}

// PlayerJoinedEvent is broadcast to the room on every successful join.
type PlayerJoinedEvent struct {
	PeerId       types.PeerIdType `json:"peerId"`
	RoomId       types.RoomIdType `json:"roomId"`
	TotalPlayers int              `json:"totalPlayers"`
	IsRoomOwner  bool             `json:"isRoomOwner"`
}

// PlayerLeftEvent is broadcast to the room on leave or final disconnect.
type PlayerLeftEvent struct {
	PeerId types.PeerIdType `json:"peerId"`
	RoomId types.RoomIdType `json:"roomId"`
}

// ForwardedSignal is the egress shape of offer/answer/ice-candidate.
type ForwardedSignal struct {
	From      types.PeerIdType `json:"from"`
	Offer     json.RawMessage  `json:"offer,omitempty"`
	Answer    json.RawMessage  `json:"answer,omitempty"`
	Candidate json.RawMessage  `json:"candidate,omitempty"`
}

// ReconnectNeededEvent tells a peer its counterpart wants a fresh attempt.
type ReconnectNeededEvent struct {
	From types.PeerIdType `json:"from"`
}

// PeerConnectionStateEvent mirrors a counterpart's state report.
type PeerConnectionStateEvent struct {
	PeerId types.PeerIdType      `json:"peerId"`
	State  types.ConnectionState `json:"state"`
}

// FallbackSuggestedEvent proposes broker relay after a failed report.
type FallbackSuggestedEvent struct {
	From   types.PeerIdType `json:"from"`
	RoomId types.RoomIdType `json:"roomId"`
	Reason string           `json:"reason"`
}

// FallbackNeededEvent tells the counterpart to switch to broker relay.
type FallbackNeededEvent struct {
	From   types.PeerIdType `json:"from"`
	RoomId types.RoomIdType `json:"roomId"`
}

// FallbackActivatedEvent acknowledges a fallback activation to its sender.
type FallbackActivatedEvent struct {
	To      types.PeerIdType `json:"to"`
	Success bool             `json:"success"`
}

// ErrorEvent is the single error frame shape. Code is set only for stable,
// documented codes; Message is free-form otherwise.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// encodeEnvelope marshals an event frame. Marshal failures are programmer
// errors on our own payload structs, so they surface as nil frames callers
// drop and log.
func encodeEnvelope(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: body})
}
