package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	require.NoError(t, Initialize(true))
	assert.NotNil(t, GetLogger())

	// Repeated initialization is a no-op, never an error.
	require.NoError(t, Initialize(false))
}

func TestGetLogger_BeforeInitialize(t *testing.T) {
	assert.NotNil(t, GetLogger(), "fallback logger before Initialize")
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "cid-1")
	ctx = context.WithValue(ctx, PeerIDKey, "alice")
	ctx = context.WithValue(ctx, RoomIDKey, "room-1")

	fields := appendContextFields(ctx, nil)

	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	assert.Contains(t, keys, "correlation_id")
	assert.Contains(t, keys, "peer_id")
	assert.Contains(t, keys, "room_id")
	assert.Contains(t, keys, "service")
}

func TestAppendContextFields_NilContext(t *testing.T) {
	assert.Nil(t, appendContextFields(nil, nil))
}

func TestLoggingDoesNotPanic(t *testing.T) {
	ctx := context.WithValue(context.Background(), PeerIDKey, "alice")
	Info(ctx, "info message")
	Warn(ctx, "warn message")
	Error(ctx, "error message")
}
