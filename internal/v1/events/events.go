// Package events implements the domain-event publisher and the event
// taxonomy shared by the room and peer-connection aggregates. Handlers are
// registered per event name and invoked in publish order.
package events

import (
	"time"

	"github.com/jamlink/broker/internal/v1/types"
)

// Event names form the stable contract of the domain-event stream.
const (
	RoomCreatedName            = "room-created"
	PlayerJoinedName           = "player-joined"
	PlayerLeftName             = "player-left"
	RoomRuleChangedName        = "room-rule-changed"
	RoomClosedName             = "room-closed"
	ConnectionStateChangedName = "connection-state-changed"
	IceCandidateReceivedName   = "ice-candidate-received"
	OfferReceivedName          = "offer-received"
	AnswerReceivedName         = "answer-received"
	ConnectionTimeoutName      = "connection-timeout"
)

// BaseEvent carries the occurrence timestamp shared by all events.
type BaseEvent struct {
	At time.Time `json:"occurredOn"`
}

// OccurredOn satisfies types.DomainEvent.
func (e BaseEvent) OccurredOn() time.Time { return e.At }

// Now builds a BaseEvent stamped with the current time.
func Now() BaseEvent { return BaseEvent{At: time.Now()} }

// RoomCreated is emitted once when a room aggregate is created.
type RoomCreated struct {
	BaseEvent
	RoomId  types.RoomIdType `json:"roomId"`
	OwnerId types.PeerIdType `json:"ownerId"`
	Rules   types.RoomRules  `json:"rules"`
}

func (RoomCreated) EventName() string { return RoomCreatedName }

// PlayerJoined is emitted when a peer joins a room.
type PlayerJoined struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
	PeerId types.PeerIdType `json:"peerId"`
}

func (PlayerJoined) EventName() string { return PlayerJoinedName }

// PlayerLeft is emitted when a peer leaves a room.
type PlayerLeft struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
	PeerId types.PeerIdType `json:"peerId"`
}

func (PlayerLeft) EventName() string { return PlayerLeftName }

// RoomRuleChanged is emitted when the owner updates room rules.
type RoomRuleChanged struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
	Rules  types.RoomRules  `json:"rules"`
}

func (RoomRuleChanged) EventName() string { return RoomRuleChangedName }

// RoomClosed is emitted when a room becomes inactive.
type RoomClosed struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
}

func (RoomClosed) EventName() string { return RoomClosedName }

// ConnectionStateChanged is emitted on every pairwise state transition.
type ConnectionStateChanged struct {
	BaseEvent
	RoomId        types.RoomIdType      `json:"roomId"`
	PeerId        types.PeerIdType      `json:"peerId"`
	State         types.ConnectionState `json:"state"`
	PreviousState types.ConnectionState `json:"previousState"`
}

func (ConnectionStateChanged) EventName() string { return ConnectionStateChangedName }

// IceCandidateReceived is emitted when a candidate is observed for a pair.
type IceCandidateReceived struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
	From   types.PeerIdType `json:"from"`
	To     types.PeerIdType `json:"to"`
}

func (IceCandidateReceived) EventName() string { return IceCandidateReceivedName }

// OfferReceived is emitted when an offer is observed for a pair.
type OfferReceived struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
	From   types.PeerIdType `json:"from"`
	To     types.PeerIdType `json:"to"`
}

func (OfferReceived) EventName() string { return OfferReceivedName }

// AnswerReceived is emitted when an answer is observed for a pair.
type AnswerReceived struct {
	BaseEvent
	RoomId types.RoomIdType `json:"roomId"`
	From   types.PeerIdType `json:"from"`
	To     types.PeerIdType `json:"to"`
}

func (AnswerReceived) EventName() string { return AnswerReceivedName }

// ConnectionTimeout is emitted when a pair drops out of connected after the
// stale threshold.
type ConnectionTimeout struct {
	BaseEvent
	RoomId    types.RoomIdType `json:"roomId"`
	PeerId    types.PeerIdType `json:"peerId"`
	TimeoutMs int64            `json:"timeoutMs"`
}

func (ConnectionTimeout) EventName() string { return ConnectionTimeoutName }
