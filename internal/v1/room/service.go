package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/types"
)

// Service is the use-case layer over the room repository. It serializes
// mutations per room, flushes pulled domain events to the publisher, and
// destroys rooms that close with no remaining members.
type Service struct {
	repo      Repository
	publisher types.EventPublisher

	mu    sync.Mutex
	locks map[types.RoomIdType]*sync.Mutex
}

// NewService wires a room service.
func NewService(repo Repository, publisher types.EventPublisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		locks:     make(map[types.RoomIdType]*sync.Mutex),
	}
}

func (s *Service) lockRoom(id types.RoomIdType) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateRoom mints a room id, persists the new aggregate, and publishes its
// creation events.
func (s *Service) CreateRoom(ctx context.Context, owner types.PeerIdType, rules types.RoomRules) (*Room, error) {
	id := types.RoomIdType(uuid.NewString())
	r, err := Create(id, owner, rules)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}
	s.flush(ctx, r)
	return r, nil
}

// GetRoom loads a room without taking the mutation lock.
func (s *Service) GetRoom(ctx context.Context, id types.RoomIdType) (*Room, error) {
	return s.repo.FindById(ctx, id)
}

// JoinRoom admits a peer under the room's own invariants.
func (s *Service) JoinRoom(ctx context.Context, id types.RoomIdType, peer types.PeerIdType) (*Room, error) {
	return s.mutate(ctx, id, func(r *Room) error {
		return r.Join(peer)
	})
}

// LeaveRoom removes a peer; the aggregate auto-closes on last leave and the
// service then deletes the empty room from the repository.
func (s *Service) LeaveRoom(ctx context.Context, id types.RoomIdType, peer types.PeerIdType) (*Room, error) {
	return s.mutate(ctx, id, func(r *Room) error {
		return r.Leave(peer)
	})
}

// UpdateRules replaces the rule set; only the owner may do so.
func (s *Service) UpdateRules(ctx context.Context, id types.RoomIdType, caller types.PeerIdType, rules types.RoomRules) (*Room, error) {
	return s.mutate(ctx, id, func(r *Room) error {
		if !r.IsOwner(caller) {
			return ErrNotRoomOwner
		}
		return r.UpdateRules(rules)
	})
}

// CloseRoom deactivates the room; only the owner may do so.
func (s *Service) CloseRoom(ctx context.Context, id types.RoomIdType, caller types.PeerIdType) (*Room, error) {
	return s.mutate(ctx, id, func(r *Room) error {
		if !r.IsOwner(caller) {
			return ErrNotRoomOwner
		}
		return r.Close()
	})
}

// mutate runs op under the per-room lock, persists the result, and flushes
// pulled events. Closed rooms with no members are deleted from the store.
func (s *Service) mutate(ctx context.Context, id types.RoomIdType, op func(*Room) error) (*Room, error) {
	l := s.lockRoom(id)
	l.Lock()
	defer l.Unlock()

	r, err := s.repo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := op(r); err != nil {
		return nil, err
	}

	if !r.Active() && r.MemberCount() == 0 {
		// The mutex entry outlives the room: a concurrent mutation may
		// already hold a reference, and a fresh mutex would let it race.
		if err := s.repo.Delete(ctx, id); err != nil {
			return nil, err
		}
	} else if err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}

	s.flush(ctx, r)
	return r, nil
}

func (s *Service) flush(ctx context.Context, r *Room) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAll(ctx, r.PullDomainEvents()); err != nil {
		logging.Warn(ctx, "room event publish failed", zap.String("roomId", string(r.Id())), zap.Error(err))
	}
}
