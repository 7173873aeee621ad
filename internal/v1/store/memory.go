// Package store provides the repository implementations behind the room and
// peer-connection contracts: an in-memory store for single-instance
// deployments and tests, and a Redis store for durable state.
package store

import (
	"context"
	"sync"

	"github.com/jamlink/broker/internal/v1/peerconn"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

// MemoryRoomRepository keeps room snapshots in process memory.
type MemoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[types.RoomIdType]room.Snapshot
}

// NewMemoryRoomRepository creates an empty in-memory room store.
func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{rooms: make(map[types.RoomIdType]room.Snapshot)}
}

func (m *MemoryRoomRepository) FindById(_ context.Context, id types.RoomIdType) (*room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rooms[id]
	if !ok {
		return nil, room.ErrUnknownRoom
	}
	return room.FromSnapshot(s), nil
}

func (m *MemoryRoomRepository) FindByOwnerId(_ context.Context, owner types.PeerIdType) ([]*room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*room.Room
	for _, s := range m.rooms {
		if s.OwnerId == owner {
			out = append(out, room.FromSnapshot(s))
		}
	}
	return out, nil
}

func (m *MemoryRoomRepository) FindActive(_ context.Context) ([]*room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*room.Room
	for _, s := range m.rooms {
		if s.Active {
			out = append(out, room.FromSnapshot(s))
		}
	}
	return out, nil
}

func (m *MemoryRoomRepository) Save(_ context.Context, r *room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.Id()] = r.ToSnapshot()
	return nil
}

func (m *MemoryRoomRepository) Delete(_ context.Context, id types.RoomIdType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	return nil
}

var _ room.Repository = (*MemoryRoomRepository)(nil)

// MemoryPeerConnRepository keeps pair snapshots in process memory.
type MemoryPeerConnRepository struct {
	mu    sync.RWMutex
	conns map[types.ConnectionIdType]peerconn.Snapshot
}

// NewMemoryPeerConnRepository creates an empty in-memory pair store.
func NewMemoryPeerConnRepository() *MemoryPeerConnRepository {
	return &MemoryPeerConnRepository{conns: make(map[types.ConnectionIdType]peerconn.Snapshot)}
}

func (m *MemoryPeerConnRepository) FindById(_ context.Context, id types.ConnectionIdType) (*peerconn.PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.conns[id]
	if !ok {
		return nil, peerconn.ErrUnknownConnection
	}
	return peerconn.FromSnapshot(s), nil
}

func (m *MemoryPeerConnRepository) FindByRoomId(_ context.Context, roomId types.RoomIdType) ([]*peerconn.PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*peerconn.PeerConnection
	for _, s := range m.conns {
		if s.RoomId == roomId {
			out = append(out, peerconn.FromSnapshot(s))
		}
	}
	return out, nil
}

func (m *MemoryPeerConnRepository) FindByPeerId(_ context.Context, peer types.PeerIdType) ([]*peerconn.PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*peerconn.PeerConnection
	for _, s := range m.conns {
		if s.LocalPeer == peer || s.RemotePeer == peer {
			out = append(out, peerconn.FromSnapshot(s))
		}
	}
	return out, nil
}

func (m *MemoryPeerConnRepository) Save(_ context.Context, c *peerconn.PeerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.Id()] = c.ToSnapshot()
	return nil
}

func (m *MemoryPeerConnRepository) Delete(_ context.Context, id types.ConnectionIdType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
	return nil
}

var _ peerconn.Repository = (*MemoryPeerConnRepository)(nil)
