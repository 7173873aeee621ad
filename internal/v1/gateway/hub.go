// Package gateway is the external boundary of the broker: it owns the
// WebSocket ingress, the peer-to-sockets registry, room broadcast groups,
// the per-room stats table, and the relay dispatcher. It produces onto the
// signaling queue and consumes drained batches through the signal service.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/config"
	"github.com/jamlink/broker/internal/v1/conntrack"
	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/queue"
	"github.com/jamlink/broker/internal/v1/ratelimit"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

// Hub coordinates every socket in the process. One hub per broker instance.
type Hub struct {
	mu    sync.RWMutex
	peers map[types.PeerIdType]map[*Client]struct{}
	rooms map[types.RoomIdType]map[*Client]struct{}

	stats   *statsTable
	roomSvc *room.Service
	tracker *conntrack.Service
	queue   *queue.Queue
	signal  *SignalService

	maxConnectionsPerRoom int
	allowedOrigins        []string
	rateLimiter           *ratelimit.RateLimiter
	devMode               bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub wires the gateway. The signaling queue is created here so its drain
// callback can close over the hub's signal service without a mutable
// late-bound reference.
func NewHub(cfg *config.Config, roomSvc *room.Service, tracker *conntrack.Service, signal *SignalService, rateLimiter *ratelimit.RateLimiter) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		peers:                 make(map[types.PeerIdType]map[*Client]struct{}),
		rooms:                 make(map[types.RoomIdType]map[*Client]struct{}),
		stats:                 newStatsTable(),
		roomSvc:               roomSvc,
		tracker:               tracker,
		signal:                signal,
		maxConnectionsPerRoom: cfg.MaxConnectionsPerRoom,
		allowedOrigins:        ParseAllowedOrigins(cfg.AllowedOrigins),
		rateLimiter:           rateLimiter,
		devMode:               cfg.DevelopmentMode,
		ctx:                   ctx,
		cancel:                cancel,
	}
	h.queue = queue.New(signal.BatchProcessConnection, cfg.MessageQueueDrain, cfg.MessageQueueBatchSize)
	tracker.SetReconnectNotifier(h.notifyReconnectNeeded)
	return h
}

// Queue exposes the signaling queue for tests and shutdown wiring.
func (h *Hub) Queue() *queue.Queue { return h.queue }

// Start launches the queue drain loop and the room-stats monitor.
func (h *Hub) Start(statsPeriod time.Duration) {
	h.queue.Start()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(statsPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				h.monitorRoomStats(h.ctx)
			}
		}
	}()
}

// ServeWs admits a handshake and upgrades to a WebSocket connection. The
// handshake must carry roomId and peerId query parameters; the caller is
// assumed to have already authenticated upstream.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.devMode && !h.rateLimiter.CheckWebSocket(c) {
		return // response already written by CheckWebSocket
	}

	roomId := types.RoomIdType(c.Query("roomId"))
	peerId := types.PeerIdType(c.Query("peerId"))
	if roomId == "" || peerId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and peerId are required"})
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	h.HandleConnection(conn, roomId, peerId)
}

// HandleConnection registers an established socket and starts its pumps.
func (h *Hub) HandleConnection(conn wsConnection, roomId types.RoomIdType, peerId types.PeerIdType) *Client {
	client := newClient(h, conn, roomId, peerId)
	h.registerSocket(client)
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
	return client
}

// registerSocket attaches the socket to its peer set and room group.
// Joining room membership is a separate, explicit client action.
func (h *Hub) registerSocket(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.peers[c.PeerId] == nil {
		h.peers[c.PeerId] = make(map[*Client]struct{})
	}
	h.peers[c.PeerId][c] = struct{}{}

	if h.rooms[c.RoomId] == nil {
		h.rooms[c.RoomId] = make(map[*Client]struct{})
		metrics.ActiveRooms.Inc()
	}
	h.rooms[c.RoomId][c] = struct{}{}

	logging.Info(context.Background(), "socket registered",
		zap.String("peerId", string(c.PeerId)),
		zap.String("roomId", string(c.RoomId)),
		zap.Int("peerSockets", len(h.peers[c.PeerId])))
}

// handleSocketClosed drops the socket; if it was the peer's last socket the
// peer is treated as disconnected: state report, room leave, broadcast.
func (h *Hub) handleSocketClosed(c *Client) {
	h.mu.Lock()
	if set, ok := h.peers[c.PeerId]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.peers, c.PeerId)
		}
	}
	lastSocket := h.peers[c.PeerId] == nil
	if group, ok := h.rooms[c.RoomId]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.rooms, c.RoomId)
			metrics.ActiveRooms.Dec()
			metrics.RoomMembers.DeleteLabelValues(string(c.RoomId))
		}
	}
	h.mu.Unlock()

	c.Disconnect()

	if !lastSocket {
		return
	}

	ctx := context.Background()
	logging.Info(ctx, "peer disconnected",
		zap.String("peerId", string(c.PeerId)), zap.String("roomId", string(c.RoomId)))

	if err := h.tracker.UpdateConnectionState(ctx, c.PeerId, types.StateDisconnected); err != nil {
		logging.Error(ctx, "failed to report disconnect", zap.Error(err))
	}

	r, err := h.roomSvc.LeaveRoom(ctx, c.RoomId, c.PeerId)
	if err != nil {
		if err != room.ErrNotAMember && err != room.ErrUnknownRoom {
			logging.Error(ctx, "failed to leave room on disconnect", zap.Error(err))
		}
		return
	}
	h.stats.refresh(c.RoomId, r.MemberCount(), h.tracker.CountByRoom(c.RoomId), r.Active())
	h.broadcastToRoom(c.RoomId, EventPlayerLeft, PlayerLeftEvent{PeerId: c.PeerId, RoomId: c.RoomId})
}

// broadcastToRoom fans a frame out to every socket attached to the room
// group.
func (h *Hub) broadcastToRoom(roomId types.RoomIdType, event string, payload any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomId]))
	for c := range h.rooms[roomId] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SendEvent(event, payload)
	}
}

// unicastToPeer delivers a frame to every socket the peer currently holds.
// Returns false when the peer has no sockets in this process.
func (h *Hub) unicastToPeer(peerId types.PeerIdType, event string, payload any) bool {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.peers[peerId]))
	for c := range h.peers[peerId] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SendEvent(event, payload)
	}
	return len(clients) > 0
}

// notifyReconnectNeeded is the out-of-band hook the connection service calls
// when a pair spends a reconnect attempt.
func (h *Hub) notifyReconnectNeeded(_ context.Context, entry conntrack.Entry) {
	h.unicastToPeer(entry.RemotePeer, EventReconnectNeeded, ReconnectNeededEvent{From: entry.LocalPeer})
}

// Shutdown stops background loops and closes every socket with a close
// frame.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "shutting down gateway")

	h.cancel()
	h.queue.Stop()
	h.wg.Wait()

	h.mu.Lock()
	var clients []*Client
	for _, set := range h.peers {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}

	logging.Info(ctx, "all sockets closed", zap.Int("count", len(clients)))
	return nil
}
