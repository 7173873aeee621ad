// Package conntrack implements the connection service: an in-memory health
// directory over the peer-connection aggregates, with a staleness monitor, a
// reaper for exhausted pairs, and websocket fallback accounting.
package conntrack

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/peerconn"
	"github.com/jamlink/broker/internal/v1/types"
)

const (
	monitorPeriod = 10 * time.Second
	reapPeriod    = 60 * time.Second
	entryMaxIdle  = 5 * time.Minute
)

// Entry is one health record, keyed by the directional connection id.
type Entry struct {
	ConnectionId      types.ConnectionIdType
	LocalPeer         types.PeerIdType
	RemotePeer        types.PeerIdType
	RoomId            types.RoomIdType
	State             types.ConnectionState
	LastUpdated       time.Time
	ReconnectAttempts int
	FallbackMode      types.FallbackMode
}

// ReconnectNotifier is the out-of-band gateway hook invoked when a pair
// needs the counterpart peer told to reconnect.
type ReconnectNotifier func(ctx context.Context, entry Entry)

// Stats partitions tracked pairs by state.
type Stats struct {
	Total   int                           `json:"total"`
	ByState map[types.ConnectionState]int `json:"byState"`
}

// Service tracks pairwise connection health. The entries map is mutated only
// by this service; readers get copies.
type Service struct {
	mu      sync.RWMutex
	entries map[types.ConnectionIdType]*Entry

	repo      peerconn.Repository
	publisher types.EventPublisher
	notifier  ReconnectNotifier

	staleAfter    time.Duration
	maxReconnects int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the tracker. notifier may be nil until the gateway
// registers itself.
func NewService(repo peerconn.Repository, publisher types.EventPublisher, staleAfter time.Duration, maxReconnects int) *Service {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if maxReconnects <= 0 {
		maxReconnects = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		entries:       make(map[types.ConnectionIdType]*Entry),
		repo:          repo,
		publisher:     publisher,
		staleAfter:    staleAfter,
		maxReconnects: maxReconnects,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetReconnectNotifier registers the gateway callback. Must be called before
// Start.
func (s *Service) SetReconnectNotifier(n ReconnectNotifier) {
	s.notifier = n
}

// Start launches the monitor and reaper loops.
func (s *Service) Start() {
	s.wg.Add(2)
	go s.loop(monitorPeriod, s.monitorTick)
	go s.loop(reapPeriod, s.reapTick)
}

// Stop halts the background loops.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) loop(period time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			tick(s.ctx)
		}
	}
}

// Track hydrates a health entry for an aggregate the signal service just
// created or loaded.
func (s *Service) Track(c *peerconn.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackLocked(c)
}

func (s *Service) trackLocked(c *peerconn.PeerConnection) *Entry {
	e, ok := s.entries[c.Id()]
	if !ok {
		e = &Entry{
			ConnectionId: c.Id(),
			LocalPeer:    c.LocalPeer(),
			RemotePeer:   c.RemotePeer(),
			RoomId:       c.RoomId(),
			FallbackMode: types.FallbackNone,
		}
		s.entries[c.Id()] = e
	}
	e.State = c.State()
	e.LastUpdated = time.Now()
	return e
}

// UpdateConnectionState applies a client state report to every pair the peer
// participates in, mirrors the transition into the health directory, then
// persists the aggregates and flushes their events.
func (s *Service) UpdateConnectionState(ctx context.Context, peerId types.PeerIdType, newState types.ConnectionState) error {
	conns, err := s.repo.FindByPeerId(ctx, peerId)
	if err != nil {
		return err
	}

	for _, c := range conns {
		prev := c.State()
		c.UpdateConnectionState(newState)

		s.mu.Lock()
		e := s.trackLocked(c)
		switch {
		case prev == types.StateConnected && (newState == types.StateDisconnected || newState == types.StateFailed):
			e.ReconnectAttempts++
		case (prev == types.StateDisconnected || prev == types.StateFailed) && newState == types.StateConnected:
			e.ReconnectAttempts = 0
		}
		s.mu.Unlock()

		if err := s.repo.Save(ctx, c); err != nil {
			logging.Error(ctx, "failed to persist connection state",
				zap.String("connectionId", string(c.Id())), zap.Error(err))
			continue
		}
		if s.publisher != nil {
			if err := s.publisher.PublishAll(ctx, c.PullDomainEvents()); err != nil {
				logging.Warn(ctx, "connection event publish failed",
					zap.String("connectionId", string(c.Id())), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Service) monitorTick(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	var due []Entry
	for _, e := range s.entries {
		stale := e.State == types.StateConnected && now.Sub(e.LastUpdated) > s.staleAfter
		retryable := e.State == types.StateFailed && e.ReconnectAttempts < s.maxReconnects
		if stale || retryable {
			due = append(due, *e)
		}
	}
	s.mu.RUnlock()

	for _, e := range due {
		s.TriggerReconnection(ctx, e.ConnectionId)
	}
}

// TriggerReconnection spends one reconnect attempt for the pair and asks the
// gateway to notify the counterpart peer. Pairs over budget are refused
// until a fresh connected report resets the counter.
func (s *Service) TriggerReconnection(ctx context.Context, id types.ConnectionIdType) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if e.ReconnectAttempts >= s.maxReconnects {
		s.mu.Unlock()
		metrics.ReconnectRequests.WithLabelValues("refused").Inc()
		return false
	}
	e.ReconnectAttempts++
	e.LastUpdated = time.Now()
	snapshot := *e
	s.mu.Unlock()

	metrics.ReconnectRequests.WithLabelValues("triggered").Inc()
	logging.Info(ctx, "triggering reconnection",
		zap.String("connectionId", string(id)),
		zap.Int("attempt", snapshot.ReconnectAttempts))

	if s.notifier != nil {
		s.notifier(ctx, snapshot)
	}
	return true
}

func (s *Service) reapTick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var doomed []types.ConnectionIdType
	for id, e := range s.entries {
		idle := now.Sub(e.LastUpdated) > entryMaxIdle && e.State != types.StateConnected
		exhausted := e.ReconnectAttempts >= s.maxReconnects &&
			(e.State == types.StateDisconnected || e.State == types.StateFailed)
		if idle || exhausted {
			doomed = append(doomed, id)
			if e.FallbackMode == types.FallbackWebsocket {
				metrics.FallbackPairs.Dec()
			}
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, id := range doomed {
		if err := s.repo.Delete(ctx, id); err != nil {
			logging.Error(ctx, "failed to delete reaped connection",
				zap.String("connectionId", string(id)), zap.Error(err))
			continue
		}
		logging.Info(ctx, "reaped stale connection", zap.String("connectionId", string(id)))
	}
}

// SetFallbackMode resolves the pair by either direction, hydrating from the
// repository if the entry is unknown, and applies the mode. Activation for a
// pair with no prior signaling creates the aggregate: the gateway verified
// room membership before calling. Entering websocket fallback refunds one
// reconnect attempt as a grace.
func (s *Service) SetFallbackMode(ctx context.Context, roomId types.RoomIdType, local, remote types.PeerIdType, mode types.FallbackMode) error {
	forward := types.NewConnectionId(local, remote)
	reverse := types.NewConnectionId(remote, local)

	s.mu.Lock()
	e, ok := s.entries[forward]
	if !ok {
		e, ok = s.entries[reverse]
	}
	s.mu.Unlock()

	if !ok {
		c, err := s.repo.FindById(ctx, forward)
		if err == peerconn.ErrUnknownConnection {
			c, err = s.repo.FindById(ctx, reverse)
		}
		if err == peerconn.ErrUnknownConnection && mode == types.FallbackWebsocket {
			c, err = peerconn.Create(roomId, local, remote)
			if err == nil {
				err = s.repo.Save(ctx, c)
			}
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		e = s.trackLocked(c)
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := e.FallbackMode
	e.FallbackMode = mode
	e.LastUpdated = time.Now()
	if mode == types.FallbackWebsocket && prev != types.FallbackWebsocket {
		if e.ReconnectAttempts > 0 {
			e.ReconnectAttempts--
		}
		metrics.FallbackPairs.Inc()
	} else if mode == types.FallbackNone && prev == types.FallbackWebsocket {
		metrics.FallbackPairs.Dec()
	}
	return nil
}

// IsUsingFallback reports whether the exact directional pair is relaying
// over the broker.
func (s *Service) IsUsingFallback(id types.ConnectionIdType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.FallbackMode == types.FallbackWebsocket
}

// PairUsesFallback reports fallback for either direction of a pair.
func (s *Service) PairUsesFallback(a, b types.PeerIdType) bool {
	return s.IsUsingFallback(types.NewConnectionId(a, b)) ||
		s.IsUsingFallback(types.NewConnectionId(b, a))
}

// GetFallbackConnectionCount counts pairs in websocket fallback.
func (s *Service) GetFallbackConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.FallbackMode == types.FallbackWebsocket {
			n++
		}
	}
	return n
}

// EntriesByPeer returns copies of every record the peer participates in,
// either direction.
func (s *Service) EntriesByPeer(peer types.PeerIdType) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.LocalPeer == peer || e.RemotePeer == peer {
			out = append(out, *e)
		}
	}
	return out
}

// CountByRoom counts tracked pairs for one room.
func (s *Service) CountByRoom(roomId types.RoomIdType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.RoomId == roomId {
			n++
		}
	}
	return n
}

// GetConnectionStats returns tracked pair counts partitioned by state.
func (s *Service) GetConnectionStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByState: make(map[types.ConnectionState]int)}
	for _, e := range s.entries {
		stats.Total++
		stats.ByState[e.State]++
	}
	return stats
}

// GetEntry returns a copy of the health record for a pair.
func (s *Service) GetEntry(id types.ConnectionIdType) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
