package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(ActiveWebSocketConnections)

	IncConnection()
	IncConnection()
	DecConnection()

	assert.Equal(t, before+1, testutil.ToFloat64(ActiveWebSocketConnections))
}

func TestRoomMembersGauge(t *testing.T) {
	RoomMembers.WithLabelValues("room-metrics-test").Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(RoomMembers.WithLabelValues("room-metrics-test")))

	RoomMembers.DeleteLabelValues("room-metrics-test")
}

func TestWebsocketEventsCounter(t *testing.T) {
	counter := WebsocketEvents.WithLabelValues("join", "ok")
	before := testutil.ToFloat64(counter)

	counter.Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestQueueDepthGauge(t *testing.T) {
	QueueDepth.WithLabelValues("room-metrics-test").Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(QueueDepth.WithLabelValues("room-metrics-test")))

	QueueDepth.DeleteLabelValues("room-metrics-test")
}

func TestReconnectRequestsCounter(t *testing.T) {
	counter := ReconnectRequests.WithLabelValues("triggered")
	before := testutil.ToFloat64(counter)

	counter.Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
