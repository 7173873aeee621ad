package room

import (
	"context"

	"github.com/jamlink/broker/internal/v1/types"
)

// Repository is the persistence contract for room aggregates. Save is
// transactional at the aggregate level: callers may assume read-modify-write
// of a single room is serialized by the service layer above the store.
type Repository interface {
	FindById(ctx context.Context, id types.RoomIdType) (*Room, error)
	FindByOwnerId(ctx context.Context, owner types.PeerIdType) ([]*Room, error)
	FindActive(ctx context.Context) ([]*Room, error)
	Save(ctx context.Context, r *Room) error
	Delete(ctx context.Context, id types.RoomIdType) error
}
