package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamlink/broker/internal/v1/conntrack"
	"github.com/jamlink/broker/internal/v1/events"
	"github.com/jamlink/broker/internal/v1/queue"
	"github.com/jamlink/broker/internal/v1/store"
	"github.com/jamlink/broker/internal/v1/types"
)

func newSignalService(t *testing.T) (*SignalService, *store.MemoryPeerConnRepository, *conntrack.Service) {
	t.Helper()
	repo := store.NewMemoryPeerConnRepository()
	publisher := events.NewPublisher()
	tracker := conntrack.NewService(repo, publisher, 30*time.Second, 3)
	t.Cleanup(tracker.Stop)
	return NewSignalService(repo, publisher, tracker), repo, tracker
}

func TestBatchProcessConnection_CreatesAggregateLazily(t *testing.T) {
	svc, repo, tracker := newSignalService(t)
	ctx := context.Background()

	batch := queue.Batch{
		ConnectionId: types.NewConnectionId("alice", "bob"),
		RoomId:       "room-1",
		From:         "alice",
		To:           "bob",
		Offer:        json.RawMessage(`{"sdp":"offer"}`),
	}
	require.NoError(t, svc.BatchProcessConnection(ctx, batch))

	c, err := repo.FindById(ctx, batch.ConnectionId)
	require.NoError(t, err)
	assert.Equal(t, types.StateConnecting, c.State())

	_, tracked := tracker.GetEntry(batch.ConnectionId)
	assert.True(t, tracked)
}

func TestBatchProcessConnection_AppliesInPriorityOrder(t *testing.T) {
	svc, repo, _ := newSignalService(t)
	ctx := context.Background()

	var names []string
	publisher := events.NewPublisher()
	for _, name := range []string{events.OfferReceivedName, events.AnswerReceivedName, events.IceCandidateReceivedName} {
		publisher.Register(name, func(_ context.Context, e types.DomainEvent) error {
			names = append(names, e.EventName())
			return nil
		})
	}
	svc.publisher = publisher

	batch := queue.Batch{
		ConnectionId: types.NewConnectionId("alice", "bob"),
		RoomId:       "room-1",
		From:         "alice",
		To:           "bob",
		Offer:        json.RawMessage(`{"sdp":"offer"}`),
		Answer:       json.RawMessage(`{"sdp":"answer"}`),
		Candidates:   []json.RawMessage{json.RawMessage(`{"c":1}`), json.RawMessage(`{"c":2}`)},
	}
	require.NoError(t, svc.BatchProcessConnection(ctx, batch))

	assert.Equal(t, []string{
		events.OfferReceivedName,
		events.AnswerReceivedName,
		events.IceCandidateReceivedName,
		events.IceCandidateReceivedName,
	}, names)

	c, err := repo.FindById(ctx, batch.ConnectionId)
	require.NoError(t, err)
	assert.Equal(t, types.StateConnected, c.State(), "answer lands last in the state machine")
	assert.Equal(t, 2, c.IceCandidateCount())
}

func TestBatchProcessConnection_ReusesExistingAggregate(t *testing.T) {
	svc, repo, _ := newSignalService(t)
	ctx := context.Background()

	first := queue.Batch{
		ConnectionId: types.NewConnectionId("alice", "bob"),
		RoomId:       "room-1", From: "alice", To: "bob",
		Candidates: []json.RawMessage{json.RawMessage(`{"c":1}`)},
	}
	require.NoError(t, svc.BatchProcessConnection(ctx, first))

	second := first
	second.Candidates = []json.RawMessage{json.RawMessage(`{"c":2}`), json.RawMessage(`{"c":3}`)}
	require.NoError(t, svc.BatchProcessConnection(ctx, second))

	c, err := repo.FindById(ctx, first.ConnectionId)
	require.NoError(t, err)
	assert.Equal(t, 3, c.IceCandidateCount(), "counts accumulate across batches")
}
