package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamlink/broker/internal/v1/config"
	"github.com/jamlink/broker/internal/v1/conntrack"
	"github.com/jamlink/broker/internal/v1/events"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/store"
	"github.com/jamlink/broker/internal/v1/types"
)

// mockConn is a scriptable wsConnection. Inbound frames are fed through the
// inbox channel; outbound frames accumulate in written.
type mockConn struct {
	inbox chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newMockConn() *mockConn {
	return &mockConn{inbox: make(chan []byte, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.inbox
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, data, nil // websocket.TextMessage
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write on closed connection")
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) SetWriteDeadline(_ time.Time) error { return nil }

// testEnv bundles the fully wired gateway over in-memory stores.
type testEnv struct {
	hub      *Hub
	roomSvc  *room.Service
	tracker  *conntrack.Service
	connRepo *store.MemoryPeerConnRepository
}

func testConfig() *config.Config {
	return &config.Config{
		WsPort:                "8080",
		WsPath:                "/ws",
		MaxConnectionsPerRoom: 20,
		MessageQueueDrain:     time.Hour, // drained manually in tests
		MessageQueueBatchSize: 10,
		StaleConnection:       30 * time.Second,
		MaxReconnectAttempts:  3,
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	publisher := events.NewPublisher()
	roomRepo := store.NewMemoryRoomRepository()
	connRepo := store.NewMemoryPeerConnRepository()
	roomSvc := room.NewService(roomRepo, publisher)
	tracker := conntrack.NewService(connRepo, publisher, cfg.StaleConnection, cfg.MaxReconnectAttempts)
	signal := NewSignalService(connRepo, publisher, tracker)
	hub := NewHub(cfg, roomSvc, tracker, signal, nil)

	t.Cleanup(func() {
		_ = hub.Shutdown(context.Background())
		tracker.Stop()
	})

	return &testEnv{hub: hub, roomSvc: roomSvc, tracker: tracker, connRepo: connRepo}
}

// addSocket registers a client without starting its pumps; tests route frames
// directly and read responses off the send channel.
func (e *testEnv) addSocket(roomId types.RoomIdType, peerId types.PeerIdType) *Client {
	c := newClient(e.hub, newMockConn(), roomId, peerId)
	e.hub.registerSocket(c)
	return c
}

// createRoom provisions a room whose owner is already a member.
func (e *testEnv) createRoom(t *testing.T, owner types.PeerIdType, maxPlayers int) types.RoomIdType {
	t.Helper()
	r, err := e.roomSvc.CreateRoom(context.Background(), owner, types.RoomRules{
		MaxPlayers: maxPlayers, AllowRelay: true, LatencyTargetMs: 50, OpusBitrate: 48000,
	})
	require.NoError(t, err)
	return r.Id()
}

// route feeds one frame through the hub's dispatcher as if read off the wire.
func (e *testEnv) route(t *testing.T, c *Client, event string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	e.hub.route(context.Background(), c, Envelope{Event: event, Payload: body})
}

// takeFrames drains the client's buffered outbound frames.
func takeFrames(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

// frameByEvent returns the first frame with the given event name.
func frameByEvent(frames []Envelope, event string) (Envelope, bool) {
	for _, f := range frames {
		if f.Event == event {
			return f, true
		}
	}
	return Envelope{}, false
}

func decodeInto[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}
