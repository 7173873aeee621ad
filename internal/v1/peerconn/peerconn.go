// Package peerconn implements the directed pairwise connection aggregate.
// (A,B) and (B,A) are distinct aggregates: reconnect triggers originating
// from either side update their own directional record.
package peerconn

import (
	"errors"
	"fmt"
	"time"

	"github.com/jamlink/broker/internal/v1/events"
	"github.com/jamlink/broker/internal/v1/types"
)

// ErrUnknownConnection is returned by repositories for missing pairs.
var ErrUnknownConnection = errors.New("peer connection not found")

// staleThreshold is how long a pair may sit in connected without an update
// before a drop to disconnected/failed counts as a timeout.
const staleThreshold = 30 * time.Second

// PeerConnection is the aggregate for one directed signaling pair.
type PeerConnection struct {
	id     types.ConnectionIdType
	roomId types.RoomIdType
	local  types.PeerIdType
	remote types.PeerIdType

	state          types.ConnectionState
	stateChangedAt time.Time
	lastConnected  time.Time
	iceCandidates  int

	createdAt time.Time
	updatedAt time.Time

	pending []types.DomainEvent
}

// Create builds a new pair in state "new".
func Create(roomId types.RoomIdType, local, remote types.PeerIdType) (*PeerConnection, error) {
	if roomId == "" || local == "" || remote == "" {
		return nil, fmt.Errorf("peerconn: room, local and remote are all required")
	}
	now := time.Now()
	return &PeerConnection{
		id:             types.NewConnectionId(local, remote),
		roomId:         roomId,
		local:          local,
		remote:         remote,
		state:          types.StateNew,
		stateChangedAt: now,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Id returns the composite directional key.
func (c *PeerConnection) Id() types.ConnectionIdType { return c.id }

// RoomId returns the room the pair was created in.
func (c *PeerConnection) RoomId() types.RoomIdType { return c.roomId }

// LocalPeer returns the originating side of the pair.
func (c *PeerConnection) LocalPeer() types.PeerIdType { return c.local }

// RemotePeer returns the receiving side of the pair.
func (c *PeerConnection) RemotePeer() types.PeerIdType { return c.remote }

// State returns the current connection state.
func (c *PeerConnection) State() types.ConnectionState { return c.state }

// StateChangedAt returns the last transition timestamp.
func (c *PeerConnection) StateChangedAt() time.Time { return c.stateChangedAt }

// IceCandidateCount returns the number of candidates observed for the pair.
func (c *PeerConnection) IceCandidateCount() int { return c.iceCandidates }

// UpdatedAt returns the last mutation timestamp.
func (c *PeerConnection) UpdatedAt() time.Time { return c.updatedAt }

// UpdateConnectionState transitions the pair. Transitions are free; equal
// states are a no-op with no event and no timestamp change. Every real
// transition emits exactly one connection-state-changed, and a drop out of a
// stale connected state additionally emits connection-timeout.
func (c *PeerConnection) UpdateConnectionState(state types.ConnectionState) {
	if state == c.state {
		return
	}

	prev := c.state
	now := time.Now()
	c.state = state
	c.stateChangedAt = now
	c.updatedAt = now

	c.record(events.ConnectionStateChanged{
		BaseEvent:     events.Now(),
		RoomId:        c.roomId,
		PeerId:        c.local,
		State:         state,
		PreviousState: prev,
	})

	switch state {
	case types.StateConnected:
		c.lastConnected = now
	case types.StateDisconnected, types.StateFailed:
		if !c.lastConnected.IsZero() && now.Sub(c.lastConnected) > staleThreshold {
			c.record(events.ConnectionTimeout{
				BaseEvent: events.Now(),
				RoomId:    c.roomId,
				PeerId:    c.local,
				TimeoutMs: staleThreshold.Milliseconds(),
			})
		}
	}
}

// HandleIceCandidate accounts for an observed candidate. Connection state is
// untouched.
func (c *PeerConnection) HandleIceCandidate() {
	c.iceCandidates++
	c.updatedAt = time.Now()
	c.record(events.IceCandidateReceived{BaseEvent: events.Now(), RoomId: c.roomId, From: c.local, To: c.remote})
}

// HandleOffer forces the pair into connecting.
func (c *PeerConnection) HandleOffer() {
	c.UpdateConnectionState(types.StateConnecting)
	c.record(events.OfferReceived{BaseEvent: events.Now(), RoomId: c.roomId, From: c.local, To: c.remote})
}

// HandleAnswer forces the pair into connected.
func (c *PeerConnection) HandleAnswer() {
	c.UpdateConnectionState(types.StateConnected)
	c.record(events.AnswerReceived{BaseEvent: events.Now(), RoomId: c.roomId, From: c.local, To: c.remote})
}

// PullDomainEvents drains the pending event buffer in emission order.
func (c *PeerConnection) PullDomainEvents() []types.DomainEvent {
	out := c.pending
	c.pending = nil
	return out
}

func (c *PeerConnection) record(e types.DomainEvent) {
	c.pending = append(c.pending, e)
}

// --- Persistence snapshot ---

// Snapshot is the serialized form a repository stores.
type Snapshot struct {
	Id             types.ConnectionIdType `json:"id"`
	RoomId         types.RoomIdType       `json:"roomId"`
	LocalPeer      types.PeerIdType       `json:"localPeer"`
	RemotePeer     types.PeerIdType       `json:"remotePeer"`
	State          types.ConnectionState  `json:"state"`
	StateChangedAt time.Time              `json:"stateChangedAt"`
	LastConnected  time.Time              `json:"lastConnected"`
	IceCandidates  int                    `json:"iceCandidates"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// ToSnapshot captures the aggregate state without pending events.
func (c *PeerConnection) ToSnapshot() Snapshot {
	return Snapshot{
		Id:             c.id,
		RoomId:         c.roomId,
		LocalPeer:      c.local,
		RemotePeer:     c.remote,
		State:          c.state,
		StateChangedAt: c.stateChangedAt,
		LastConnected:  c.lastConnected,
		IceCandidates:  c.iceCandidates,
		CreatedAt:      c.createdAt,
		UpdatedAt:      c.updatedAt,
	}
}

// FromSnapshot rehydrates an aggregate from stored state.
func FromSnapshot(s Snapshot) *PeerConnection {
	return &PeerConnection{
		id:             s.Id,
		roomId:         s.RoomId,
		local:          s.LocalPeer,
		remote:         s.RemotePeer,
		state:          s.State,
		stateChangedAt: s.StateChangedAt,
		lastConnected:  s.LastConnected,
		iceCandidates:  s.IceCandidates,
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
	}
}
