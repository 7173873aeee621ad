package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

const (
	statsMaxIdle       = 10 * time.Minute
	statsInactiveAfter = 5 * time.Minute
)

// RoomStats is the transient, gateway-local view of one room used for
// admission guards. It carries no business rules of its own.
type RoomStats struct {
	MemberCount     int
	ConnectionCount int
	LastUpdated     time.Time
	Active          bool
}

type statsTable struct {
	mu    sync.RWMutex
	rooms map[types.RoomIdType]*RoomStats
}

func newStatsTable() *statsTable {
	return &statsTable{rooms: make(map[types.RoomIdType]*RoomStats)}
}

func (t *statsTable) refresh(roomId types.RoomIdType, members, connections int, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[roomId] = &RoomStats{
		MemberCount:     members,
		ConnectionCount: connections,
		LastUpdated:     time.Now(),
		Active:          active,
	}
	metrics.RoomMembers.WithLabelValues(string(roomId)).Set(float64(members))

	// Pair-count sanity check: n members should produce about n(n-1)/2
	// pairs. Ratios outside [0.8, 1.5] are suspicious but never reject.
	if members >= 2 && connections > 0 {
		expected := float64(members*(members-1)) / 2
		ratio := float64(connections) / expected
		if ratio < 0.8 || ratio > 1.5 {
			logging.Warn(context.Background(), "room pair count out of expected range",
				zap.String("roomId", string(roomId)),
				zap.Int("members", members),
				zap.Int("connections", connections),
				zap.Float64("ratio", ratio))
		}
	}
}

func (t *statsTable) get(roomId types.RoomIdType) (RoomStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.rooms[roomId]
	if !ok {
		return RoomStats{}, false
	}
	return *s, true
}

// monitorRoomStats reaps idle stats entries and marks stale entries inactive
// when their room is closed or empty.
func (h *Hub) monitorRoomStats(ctx context.Context) {
	now := time.Now()

	h.stats.mu.Lock()
	var stale []types.RoomIdType
	for roomId, s := range h.stats.rooms {
		if now.Sub(s.LastUpdated) > statsMaxIdle {
			delete(h.stats.rooms, roomId)
			continue
		}
		if s.Active && now.Sub(s.LastUpdated) > statsInactiveAfter {
			stale = append(stale, roomId)
		}
	}
	h.stats.mu.Unlock()

	for _, roomId := range stale {
		r, err := h.roomSvc.GetRoom(ctx, roomId)
		gone := err == room.ErrUnknownRoom
		if err != nil && !gone {
			logging.Error(ctx, "stats monitor room lookup failed",
				zap.String("roomId", string(roomId)), zap.Error(err))
			continue
		}
		if gone || !r.Active() || r.MemberCount() == 0 {
			h.stats.mu.Lock()
			if s, ok := h.stats.rooms[roomId]; ok {
				s.Active = false
			}
			h.stats.mu.Unlock()
			logging.Info(ctx, "marked stale room stats inactive", zap.String("roomId", string(roomId)))
		}
	}
}
