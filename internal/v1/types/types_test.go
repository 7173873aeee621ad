package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConnectionId_Directional(t *testing.T) {
	ab := NewConnectionId("alice", "bob")
	ba := NewConnectionId("bob", "alice")

	assert.Equal(t, ConnectionIdType("alice:bob"), ab)
	assert.Equal(t, ConnectionIdType("bob:alice"), ba)
	assert.NotEqual(t, ab, ba)
}

func TestSplitConnectionId(t *testing.T) {
	local, remote, err := SplitConnectionId("alice:bob")
	assert.NoError(t, err)
	assert.Equal(t, PeerIdType("alice"), local)
	assert.Equal(t, PeerIdType("bob"), remote)
}

func TestSplitConnectionId_Malformed(t *testing.T) {
	for _, id := range []ConnectionIdType{"", "alice", "alice:", ":bob"} {
		_, _, err := SplitConnectionId(id)
		assert.Error(t, err, "id %q should be rejected", id)
	}
}

func TestValidConnectionState(t *testing.T) {
	for _, s := range []ConnectionState{StateNew, StateConnecting, StateConnected, StateDisconnected, StateFailed} {
		assert.True(t, ValidConnectionState(s))
	}
	assert.False(t, ValidConnectionState("open"))
	assert.False(t, ValidConnectionState(""))
}

func TestRoomRules_Validate(t *testing.T) {
	valid := RoomRules{MaxPlayers: 4, AllowRelay: true, LatencyTargetMs: 50, OpusBitrate: 48000}
	assert.NoError(t, valid.Validate())

	assert.ErrorIs(t, RoomRules{MaxPlayers: 0}.Validate(), ErrInvalidRoomRules)
	assert.ErrorIs(t, RoomRules{MaxPlayers: 2, LatencyTargetMs: -1}.Validate(), ErrInvalidRoomRules)
	assert.ErrorIs(t, RoomRules{MaxPlayers: 2, OpusBitrate: -1}.Validate(), ErrInvalidRoomRules)
}

func TestSignalType_Priority(t *testing.T) {
	assert.Equal(t, 1, SignalOffer.Priority())
	assert.Equal(t, 2, SignalAnswer.Priority())
	assert.Equal(t, 3, SignalIceCandidate.Priority())
	// Unknown types sort behind everything else.
	assert.Equal(t, 3, SignalType("renegotiate").Priority())
}
