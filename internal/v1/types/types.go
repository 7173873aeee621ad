package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Core Domain Types ---

// RoomIdType represents a unique identifier for a signaling room.
type RoomIdType string

// PeerIdType represents a unique identifier for a peer endpoint.
type PeerIdType string

// ConnectionIdType identifies a directed pairwise connection. Direction is
// significant: the key for (A,B) differs from the key for (B,A).
type ConnectionIdType string

// ConnectionState is the lifecycle state of a pairwise connection.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// ValidConnectionState reports whether s is one of the five known states.
func ValidConnectionState(s ConnectionState) bool {
	switch s {
	case StateNew, StateConnecting, StateConnected, StateDisconnected, StateFailed:
		return true
	}
	return false
}

// FallbackMode is the relay mode of a pairwise connection.
type FallbackMode string

const (
	FallbackNone      FallbackMode = "none"
	FallbackWebsocket FallbackMode = "websocket"
)

// NewConnectionId builds the composite key for a directed pair.
func NewConnectionId(local, remote PeerIdType) ConnectionIdType {
	return ConnectionIdType(string(local) + ":" + string(remote))
}

// SplitConnectionId recovers the directed pair from a composite key.
func SplitConnectionId(id ConnectionIdType) (local, remote PeerIdType, err error) {
	parts := strings.SplitN(string(id), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed connection id %q", id)
	}
	return PeerIdType(parts[0]), PeerIdType(parts[1]), nil
}

// --- Room Rules ---

// RoomRules is the value object governing a room's admission and media hints.
type RoomRules struct {
	MaxPlayers      int  `json:"maxPlayers"`
	AllowRelay      bool `json:"allowRelay"`
	LatencyTargetMs int  `json:"latencyTargetMs"`
	OpusBitrate     int  `json:"opusBitrate"`
}

// ErrInvalidRoomRules is returned when rule validation fails.
var ErrInvalidRoomRules = errors.New("invalid room rules")

// Validate checks the rule bounds shared by room creation and rule updates.
func (r RoomRules) Validate() error {
	if r.MaxPlayers < 1 {
		return fmt.Errorf("%w: maxPlayers must be >= 1 (got %d)", ErrInvalidRoomRules, r.MaxPlayers)
	}
	if r.LatencyTargetMs < 0 {
		return fmt.Errorf("%w: latencyTargetMs must be >= 0 (got %d)", ErrInvalidRoomRules, r.LatencyTargetMs)
	}
	if r.OpusBitrate < 0 {
		return fmt.Errorf("%w: opusBitrate must be >= 0 (got %d)", ErrInvalidRoomRules, r.OpusBitrate)
	}
	return nil
}

// --- Signaling Messages ---

// SignalType is the kind of a queued signaling message.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalIceCandidate SignalType = "ice-candidate"
)

// Priority returns the fixed drain priority for a signal type. Lower drains
// earlier: offer=1, answer=2, ice-candidate=3.
func (t SignalType) Priority() int {
	switch t {
	case SignalOffer:
		return 1
	case SignalAnswer:
		return 2
	default:
		return 3
	}
}

// --- Domain Events ---

// DomainEvent is implemented by every event an aggregate emits.
type DomainEvent interface {
	EventName() string
	OccurredOn() time.Time
}

// EventPublisher fans out domain events to registered handlers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	PublishAll(ctx context.Context, events []DomainEvent) error
}
