package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/queue"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

// route dispatches one ingress frame to its handler and records metrics.
func (h *Hub) route(ctx context.Context, c *Client, env Envelope) {
	start := time.Now()
	status := "ok"

	switch env.Event {
	case EventJoin:
		status = h.handleJoin(ctx, c, env.Payload)
	case EventLeave:
		status = h.handleLeave(ctx, c, env.Payload)
	case EventOffer, EventAnswer, EventIceCandidate:
		status = h.handleSignal(ctx, c, env.Event, env.Payload)
	case EventConnectionState:
		status = h.handleConnectionState(ctx, c, env.Payload)
	case EventReconnectRequest:
		status = h.handleReconnectRequest(ctx, c, env.Payload)
	case EventFallbackActivate:
		status = h.handleFallbackActivate(ctx, c, env.Payload)
	case EventRelayData:
		status = h.handleRelayData(ctx, c, env.Payload)
	default:
		logging.Warn(ctx, "unknown ingress event", zap.String("event", env.Event))
		c.SendError("", "unknown event: "+env.Event)
		status = "error"
	}

	metrics.WebsocketEvents.WithLabelValues(env.Event, status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())
}

func decodePayload[T any](raw json.RawMessage, c *Client) (T, bool) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.SendError("", "malformed payload")
		return out, false
	}
	return out, true
}

// handleJoin runs admission: the stats guard first, then the room
// aggregate's own invariants. On success the join is broadcast and the new
// socket gets a room-state snapshot.
func (h *Hub) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) string {
	p, ok := decodePayload[MembershipPayload](raw, c)
	if !ok {
		return "error"
	}

	connCount := h.tracker.CountByRoom(p.RoomId)
	if connCount >= h.maxConnectionsPerRoom {
		c.SendError(CodeMaxConnections, "room connection limit reached")
		return "rejected"
	}

	r, err := h.roomSvc.JoinRoom(ctx, p.RoomId, p.PeerId)
	if err == room.ErrAlreadyJoined {
		// The admin API admits the creator at POST /rooms; their first
		// socket join still gets the snapshot and broadcast.
		r, err = h.roomSvc.GetRoom(ctx, p.RoomId)
	}
	if err != nil {
		c.SendError("", err.Error())
		return "error"
	}

	h.stats.refresh(p.RoomId, r.MemberCount(), connCount, r.Active())

	h.broadcastToRoom(p.RoomId, EventPlayerJoined, PlayerJoinedEvent{
		PeerId:       p.PeerId,
		RoomId:       p.RoomId,
		TotalPlayers: r.MemberCount(),
		IsRoomOwner:  r.IsOwner(p.PeerId),
	})
	c.SendEvent(EventRoomState, RoomStateEvent{
		RoomId:  r.Id(),
		OwnerId: r.OwnerId(),
		Players: r.Members(),
		Rules:   r.Rules(),
	})
	return "ok"
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, raw json.RawMessage) string {
	p, ok := decodePayload[MembershipPayload](raw, c)
	if !ok {
		return "error"
	}

	r, err := h.roomSvc.LeaveRoom(ctx, p.RoomId, p.PeerId)
	if err != nil {
		c.SendError("", err.Error())
		return "error"
	}

	h.stats.refresh(p.RoomId, r.MemberCount(), h.tracker.CountByRoom(p.RoomId), r.Active())
	h.broadcastToRoom(p.RoomId, EventPlayerLeft, PlayerLeftEvent{PeerId: p.PeerId, RoomId: p.RoomId})
	return "ok"
}

// handleSignal forwards the message to the recipient's sockets immediately
// (the low-latency path) and enqueues it for the drain loop, which updates
// the pair aggregate and emits domain events.
func (h *Hub) handleSignal(ctx context.Context, c *Client, event string, raw json.RawMessage) string {
	p, ok := decodePayload[SignalPayload](raw, c)
	if !ok {
		return "error"
	}

	forwarded := ForwardedSignal{From: p.From, Offer: p.Offer, Answer: p.Answer, Candidate: p.Candidate}
	h.unicastToPeer(p.To, event, forwarded)

	var sigType types.SignalType
	var payload json.RawMessage
	switch event {
	case EventOffer:
		sigType, payload = types.SignalOffer, p.Offer
	case EventAnswer:
		sigType, payload = types.SignalAnswer, p.Answer
	default:
		sigType, payload = types.SignalIceCandidate, p.Candidate
	}
	h.queue.Enqueue(queue.Message{
		Type:    sigType,
		From:    p.From,
		To:      p.To,
		RoomId:  p.RoomId,
		Payload: payload,
	})
	return "ok"
}

// handleConnectionState feeds the health tracker, mirrors the report to
// every counterpart peer, and proposes broker relay after a failure.
func (h *Hub) handleConnectionState(ctx context.Context, c *Client, raw json.RawMessage) string {
	p, ok := decodePayload[ConnectionStatePayload](raw, c)
	if !ok {
		return "error"
	}
	if !types.ValidConnectionState(p.State) {
		c.SendError("", "unknown connection state: "+string(p.State))
		return "error"
	}

	if err := h.tracker.UpdateConnectionState(ctx, p.PeerId, p.State); err != nil {
		logging.Error(ctx, "connection state update failed", zap.Error(err))
		c.SendError("", "failed to record connection state")
		return "error"
	}

	// A pair can be tracked in both directions; collapse to one counterpart
	// notification each.
	notified := make(map[types.PeerIdType]bool)
	for _, entry := range h.tracker.EntriesByPeer(p.PeerId) {
		counterpart := entry.RemotePeer
		if counterpart == p.PeerId {
			counterpart = entry.LocalPeer
		}
		if notified[counterpart] {
			continue
		}
		notified[counterpart] = true

		h.unicastToPeer(counterpart, EventPeerConnState, PeerConnectionStateEvent{
			PeerId: p.PeerId,
			State:  p.State,
		})

		if p.State == types.StateFailed && !h.tracker.PairUsesFallback(p.PeerId, counterpart) {
			suggestion := FallbackSuggestedEvent{RoomId: entry.RoomId, Reason: "connection-failed"}
			suggestion.From = counterpart
			h.unicastToPeer(p.PeerId, EventFallbackSuggested, suggestion)
			suggestion.From = p.PeerId
			h.unicastToPeer(counterpart, EventFallbackSuggested, suggestion)
		}
	}
	return "ok"
}

func (h *Hub) handleReconnectRequest(ctx context.Context, c *Client, raw json.RawMessage) string {
	p, ok := decodePayload[PairPayload](raw, c)
	if !ok {
		return "error"
	}

	if !h.isRoomMember(ctx, p.RoomId, p.To) {
		c.SendError(CodePeerNotFound, "peer is no longer in the room")
		return "rejected"
	}

	h.unicastToPeer(p.To, EventReconnectNeeded, ReconnectNeededEvent{From: p.From})
	return "ok"
}

// handleFallbackActivate performs the explicit activation exchange: the pair
// enters websocket mode, the counterpart is told to switch, and the sender
// gets an ack.
func (h *Hub) handleFallbackActivate(ctx context.Context, c *Client, raw json.RawMessage) string {
	p, ok := decodePayload[PairPayload](raw, c)
	if !ok {
		return "error"
	}

	if !h.isRoomMember(ctx, p.RoomId, p.To) {
		c.SendError(CodePeerNotFound, "peer is no longer in the room")
		return "rejected"
	}

	if err := h.tracker.SetFallbackMode(ctx, p.RoomId, p.From, p.To, types.FallbackWebsocket); err != nil {
		logging.Error(ctx, "fallback activation failed", zap.Error(err))
		c.SendEvent(EventFallbackActivated, FallbackActivatedEvent{To: p.To, Success: false})
		return "error"
	}

	h.unicastToPeer(p.To, EventFallbackNeeded, FallbackNeededEvent{From: p.From, RoomId: p.RoomId})
	c.SendEvent(EventFallbackActivated, FallbackActivatedEvent{To: p.To, Success: true})
	return "ok"
}

// handleRelayData forwards opaque frames for pairs in websocket fallback.
// The broker never inspects the payload.
func (h *Hub) handleRelayData(ctx context.Context, c *Client, raw json.RawMessage) string {
	p, ok := decodePayload[RelayDataPayload](raw, c)
	if !ok {
		return "error"
	}

	if !h.tracker.PairUsesFallback(p.From, p.To) {
		c.SendError(CodeFallbackNotEnabled, "fallback relay not enabled for this pair")
		return "rejected"
	}

	h.unicastToPeer(p.To, EventRelayData, RelayDataPayload{From: p.From, Payload: p.Payload})
	metrics.RelayFrames.Inc()
	return "ok"
}

func (h *Hub) isRoomMember(ctx context.Context, roomId types.RoomIdType, peer types.PeerIdType) bool {
	r, err := h.roomSvc.GetRoom(ctx, roomId)
	if err != nil {
		return false
	}
	return r.HasPlayer(peer)
}
