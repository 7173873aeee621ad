// Package room implements the room aggregate: membership, rules, and
// lifecycle for a signaling room. Membership invariants live here so the
// gateway cannot create ambiguous states by racing two joins; callers
// serialize mutations through the service layer.
package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/jamlink/broker/internal/v1/events"
	"github.com/jamlink/broker/internal/v1/types"
)

// State errors raised by aggregate operations. The gateway maps these onto
// wire error frames; none of them is retryable.
var (
	ErrRoomInactive  = errors.New("room is not active")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("peer already joined")
	ErrNotAMember    = errors.New("peer is not a member")
	ErrAlreadyClosed = errors.New("room already closed")
	ErrNotRoomOwner  = errors.New("peer is not the room owner")
	ErrUnknownRoom   = errors.New("room not found")
)

// Room is the aggregate root for a signaling room.
type Room struct {
	id      types.RoomIdType
	ownerId types.PeerIdType
	rules   types.RoomRules
	members []types.PeerIdType // insertion order preserved for room-state snapshots
	active  bool

	createdAt time.Time
	updatedAt time.Time

	pending []types.DomainEvent
}

// Create builds a new active room with the owner as its sole member and
// records a room-created plus a player-joined event.
func Create(id types.RoomIdType, owner types.PeerIdType, rules types.RoomRules) (*Room, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty room id", types.ErrInvalidRoomRules)
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner id", types.ErrInvalidRoomRules)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	r := &Room{
		id:        id,
		ownerId:   owner,
		rules:     rules,
		members:   []types.PeerIdType{owner},
		active:    true,
		createdAt: now,
		updatedAt: now,
	}
	r.record(events.RoomCreated{BaseEvent: events.Now(), RoomId: id, OwnerId: owner, Rules: rules})
	r.record(events.PlayerJoined{BaseEvent: events.Now(), RoomId: id, PeerId: owner})
	return r, nil
}

// Id returns the room identifier.
func (r *Room) Id() types.RoomIdType { return r.id }

// OwnerId returns the owner's peer identifier. Ownership never changes, even
// after the owner leaves.
func (r *Room) OwnerId() types.PeerIdType { return r.ownerId }

// Rules returns the current room rules.
func (r *Room) Rules() types.RoomRules { return r.rules }

// Active reports whether the room still accepts mutations.
func (r *Room) Active() bool { return r.active }

// CreatedAt returns the creation timestamp.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last mutation timestamp.
func (r *Room) UpdatedAt() time.Time { return r.updatedAt }

// Members returns a copy of the membership set in join order.
func (r *Room) Members() []types.PeerIdType {
	out := make([]types.PeerIdType, len(r.members))
	copy(out, r.members)
	return out
}

// MemberCount returns the current membership size.
func (r *Room) MemberCount() int { return len(r.members) }

// IsOwner reports whether peer is the room owner.
func (r *Room) IsOwner(peer types.PeerIdType) bool { return r.ownerId == peer }

// HasPlayer reports whether peer is currently a member.
func (r *Room) HasPlayer(peer types.PeerIdType) bool {
	for _, m := range r.members {
		if m == peer {
			return true
		}
	}
	return false
}

// Join admits a peer. It fails if the room is closed, full, or the peer is
// already a member.
func (r *Room) Join(peer types.PeerIdType) error {
	if !r.active {
		return ErrRoomInactive
	}
	if r.HasPlayer(peer) {
		return ErrAlreadyJoined
	}
	if len(r.members) >= r.rules.MaxPlayers {
		return ErrRoomFull
	}

	r.members = append(r.members, peer)
	r.touch()
	r.record(events.PlayerJoined{BaseEvent: events.Now(), RoomId: r.id, PeerId: peer})
	return nil
}

// Leave removes a peer. If this empties the room the aggregate closes in the
// same operation, emitting player-left and then room-closed.
func (r *Room) Leave(peer types.PeerIdType) error {
	idx := -1
	for i, m := range r.members {
		if m == peer {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotAMember
	}

	r.members = append(r.members[:idx], r.members[idx+1:]...)
	r.touch()
	r.record(events.PlayerLeft{BaseEvent: events.Now(), RoomId: r.id, PeerId: peer})

	if len(r.members) == 0 && r.active {
		r.active = false
		r.record(events.RoomClosed{BaseEvent: events.Now(), RoomId: r.id})
	}
	return nil
}

// UpdateRules replaces the rule set on an active room. A member count above
// the new maxPlayers is not retroactively enforced; only future joins are
// restricted.
func (r *Room) UpdateRules(rules types.RoomRules) error {
	if !r.active {
		return ErrRoomInactive
	}
	if err := rules.Validate(); err != nil {
		return err
	}

	r.rules = rules
	r.touch()
	r.record(events.RoomRuleChanged{BaseEvent: events.Now(), RoomId: r.id, Rules: rules})
	return nil
}

// Close deactivates the room. Members are retained for inspection; no
// further mutation is allowed.
func (r *Room) Close() error {
	if !r.active {
		return ErrAlreadyClosed
	}
	r.active = false
	r.touch()
	r.record(events.RoomClosed{BaseEvent: events.Now(), RoomId: r.id})
	return nil
}

// PullDomainEvents drains the pending event buffer in emission order.
func (r *Room) PullDomainEvents() []types.DomainEvent {
	out := r.pending
	r.pending = nil
	return out
}

func (r *Room) record(e types.DomainEvent) {
	r.pending = append(r.pending, e)
}

func (r *Room) touch() {
	r.updatedAt = time.Now()
}

// --- Persistence snapshot ---

// Snapshot is the serialized form a repository stores.
type Snapshot struct {
	Id        types.RoomIdType   `json:"id"`
	OwnerId   types.PeerIdType   `json:"ownerId"`
	Rules     types.RoomRules    `json:"rules"`
	Members   []types.PeerIdType `json:"members"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// ToSnapshot captures the aggregate state without pending events.
func (r *Room) ToSnapshot() Snapshot {
	return Snapshot{
		Id:        r.id,
		OwnerId:   r.ownerId,
		Rules:     r.rules,
		Members:   r.Members(),
		Active:    r.active,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

// FromSnapshot rehydrates an aggregate from stored state.
func FromSnapshot(s Snapshot) *Room {
	members := make([]types.PeerIdType, len(s.Members))
	copy(members, s.Members)
	return &Room{
		id:        s.Id,
		ownerId:   s.OwnerId,
		rules:     s.Rules,
		members:   members,
		active:    s.Active,
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
	}
}
