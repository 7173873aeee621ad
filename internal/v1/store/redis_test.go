package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamlink/broker/internal/v1/peerconn"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStoreWithClient(client)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisStore_Ping(t *testing.T) {
	st, mr := newTestRedisStore(t)
	assert.NoError(t, st.Ping(context.Background()))

	mr.Close()
	assert.Error(t, st.Ping(context.Background()))
}

func TestRedisRoomRepo_SaveAndFind(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.Rooms()
	ctx := context.Background()

	r, err := room.Create("room-1", "alice", testRules())
	require.NoError(t, err)
	require.NoError(t, r.Join("bob"))
	require.NoError(t, repo.Save(ctx, r))

	found, err := repo.FindById(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, r.OwnerId(), found.OwnerId())
	assert.Equal(t, r.Rules(), found.Rules())
	assert.Equal(t, []types.PeerIdType{"alice", "bob"}, found.Members())
	assert.True(t, found.Active())
}

func TestRedisRoomRepo_FindById_Unknown(t *testing.T) {
	st, _ := newTestRedisStore(t)
	_, err := st.Rooms().FindById(context.Background(), "nope")
	assert.ErrorIs(t, err, room.ErrUnknownRoom)
}

func TestRedisRoomRepo_ActiveIndex(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.Rooms()
	ctx := context.Background()

	r, _ := room.Create("room-1", "alice", testRules())
	require.NoError(t, repo.Save(ctx, r))

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Closing the room removes it from the active index on the next save.
	require.NoError(t, r.Close())
	require.NoError(t, repo.Save(ctx, r))

	active, err = repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedisRoomRepo_OwnerIndex(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.Rooms()
	ctx := context.Background()

	r1, _ := room.Create("room-1", "alice", testRules())
	r2, _ := room.Create("room-2", "alice", testRules())
	require.NoError(t, repo.Save(ctx, r1))
	require.NoError(t, repo.Save(ctx, r2))

	owned, err := repo.FindByOwnerId(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	none, err := repo.FindByOwnerId(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRedisRoomRepo_Delete(t *testing.T) {
	st, mr := newTestRedisStore(t)
	repo := st.Rooms()
	ctx := context.Background()

	r, _ := room.Create("room-1", "alice", testRules())
	require.NoError(t, repo.Save(ctx, r))
	require.NoError(t, repo.Delete(ctx, "room-1"))

	_, err := repo.FindById(ctx, "room-1")
	assert.ErrorIs(t, err, room.ErrUnknownRoom)

	// Indexes are cleaned up with the snapshot.
	assert.False(t, mr.Exists("signal:room:room-1"))
	active, _ := repo.FindActive(ctx)
	assert.Empty(t, active)

	// Deleting a missing room is a no-op.
	assert.NoError(t, repo.Delete(ctx, "room-1"))
}

func TestRedisRoomRepo_StaleIndexEntrySkipped(t *testing.T) {
	st, mr := newTestRedisStore(t)
	repo := st.Rooms()
	ctx := context.Background()

	r, _ := room.Create("room-1", "alice", testRules())
	require.NoError(t, repo.Save(ctx, r))

	// Simulate an index pointing at a snapshot that no longer exists.
	mr.Del("signal:room:room-1")

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedisPeerConnRepo_SaveAndFind(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.PeerConns()
	ctx := context.Background()

	c, err := peerconn.Create("room-1", "alice", "bob")
	require.NoError(t, err)
	c.HandleOffer()
	c.PullDomainEvents()
	require.NoError(t, repo.Save(ctx, c))

	found, err := repo.FindById(ctx, c.Id())
	require.NoError(t, err)
	assert.Equal(t, c.Id(), found.Id())
	assert.Equal(t, types.StateConnecting, found.State())
}

func TestRedisPeerConnRepo_FindByRoomId(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.PeerConns()
	ctx := context.Background()

	c1, _ := peerconn.Create("room-1", "alice", "bob")
	c2, _ := peerconn.Create("room-2", "carol", "dave")
	require.NoError(t, repo.Save(ctx, c1))
	require.NoError(t, repo.Save(ctx, c2))

	conns, err := repo.FindByRoomId(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, c1.Id(), conns[0].Id())
}

func TestRedisPeerConnRepo_FindByPeerId_EitherDirection(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.PeerConns()
	ctx := context.Background()

	c1, _ := peerconn.Create("room-1", "alice", "bob")
	c2, _ := peerconn.Create("room-1", "carol", "alice")
	require.NoError(t, repo.Save(ctx, c1))
	require.NoError(t, repo.Save(ctx, c2))

	conns, err := repo.FindByPeerId(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func TestRedisPeerConnRepo_Delete(t *testing.T) {
	st, _ := newTestRedisStore(t)
	repo := st.PeerConns()
	ctx := context.Background()

	c, _ := peerconn.Create("room-1", "alice", "bob")
	require.NoError(t, repo.Save(ctx, c))
	require.NoError(t, repo.Delete(ctx, c.Id()))

	_, err := repo.FindById(ctx, c.Id())
	assert.ErrorIs(t, err, peerconn.ErrUnknownConnection)

	conns, err := repo.FindByPeerId(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, conns)
}
