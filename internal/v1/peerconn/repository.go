package peerconn

import (
	"context"

	"github.com/jamlink/broker/internal/v1/types"
)

// Repository is the persistence contract for pairwise connections.
// FindByPeerId matches either direction of a pair.
type Repository interface {
	FindById(ctx context.Context, id types.ConnectionIdType) (*PeerConnection, error)
	FindByRoomId(ctx context.Context, roomId types.RoomIdType) ([]*PeerConnection, error)
	FindByPeerId(ctx context.Context, peer types.PeerIdType) ([]*PeerConnection, error)
	Save(ctx context.Context, c *PeerConnection) error
	Delete(ctx context.Context, id types.ConnectionIdType) error
}
