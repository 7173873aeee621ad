package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single socket held by a peer. A peer may hold several
// concurrent clients; the peer only counts as disconnected once its last
// client is gone.
type Client struct {
	conn wsConnection
	hub  *Hub

	PeerId types.PeerIdType
	RoomId types.RoomIdType

	mu     sync.RWMutex
	closed bool

	send chan []byte
}

func newClient(hub *Hub, conn wsConnection, roomId types.RoomIdType, peerId types.PeerIdType) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		PeerId: peerId,
		RoomId: roomId,
		send:   make(chan []byte, 256),
	}
}

// Disconnect closes the send channel, which lets writePump flush buffered
// frames, emit the close frame, and release the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
}

// readPump processes incoming frames until the socket errors or closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleSocketClosed(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn(context.Background(), "failed to unmarshal frame",
				zap.String("peerId", string(c.PeerId)), zap.Error(err))
			c.SendError("", "malformed frame")
			continue
		}

		ctx := context.WithValue(context.Background(), logging.PeerIDKey, string(c.PeerId))
		ctx = context.WithValue(ctx, logging.RoomIDKey, string(c.RoomId))
		c.hub.route(ctx, c, env)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
}

// SendEvent marshals and queues one frame. Sends to a closed or saturated
// client are dropped with a log line rather than blocking the caller.
func (c *Client) SendEvent(event string, payload any) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("skipping send to closed client", zap.String("peerId", string(c.PeerId)))
		return
	}
	c.mu.RUnlock()

	data, err := encodeEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal frame",
			zap.String("event", event), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "recovered from send to closing client",
				zap.String("peerId", string(c.PeerId)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send channel full or closed",
			zap.String("peerId", string(c.PeerId)), zap.String("event", event))
	}
}

// SendError emits a single error frame with an optional stable code.
func (c *Client) SendError(code, message string) {
	c.SendEvent(EventError, ErrorEvent{Code: code, Message: message})
}
