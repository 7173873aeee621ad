package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/peerconn"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

// Key schema:
//   signal:room:{id}         JSON room snapshot
//   signal:rooms:active      set of active room ids
//   signal:rooms:owner:{id}  set of room ids per owner
//   signal:conn:{id}         JSON pair snapshot
//   signal:conn:room:{id}    set of pair ids per room
//   signal:conn:peer:{id}    set of pair ids per peer (both directions)

const (
	roomKeyPrefix     = "signal:room:"
	roomsActiveKey    = "signal:rooms:active"
	roomsOwnerPrefix  = "signal:rooms:owner:"
	connKeyPrefix     = "signal:conn:"
	connRoomIdxPrefix = "signal:conn:room:"
	connPeerIdxPrefix = "signal:conn:peer:"
)

// RedisStore backs both repository contracts with a shared client and a
// circuit breaker, mirroring how the broker treats every Redis dependency.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisStore connects and verifies the Redis backend.
func NewRedisStore(addr, password string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	return &RedisStore{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "redis-store"}),
	}
}

// Client returns the underlying Redis client (shared with the rate limiter).
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Ping reports backend reachability for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) execute(op func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, op()
	})
	return err
}

// Rooms returns the room repository view of the store.
func (s *RedisStore) Rooms() room.Repository { return &redisRoomRepo{s} }

// PeerConns returns the pair repository view of the store.
func (s *RedisStore) PeerConns() peerconn.Repository { return &redisPeerConnRepo{s} }

// --- Room repository ---

type redisRoomRepo struct {
	store *RedisStore
}

func (r *redisRoomRepo) FindById(ctx context.Context, id types.RoomIdType) (*room.Room, error) {
	var snap room.Snapshot
	err := r.store.execute(func() error {
		data, err := r.store.client.Get(ctx, roomKeyPrefix+string(id)).Bytes()
		if err == redis.Nil {
			return room.ErrUnknownRoom
		}
		if err != nil {
			return fmt.Errorf("room lookup: %w", err)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return room.FromSnapshot(snap), nil
}

func (r *redisRoomRepo) FindByOwnerId(ctx context.Context, owner types.PeerIdType) ([]*room.Room, error) {
	ids, err := r.members(ctx, roomsOwnerPrefix+string(owner))
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids, false)
}

func (r *redisRoomRepo) FindActive(ctx context.Context) ([]*room.Room, error) {
	ids, err := r.members(ctx, roomsActiveKey)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids, true)
}

func (r *redisRoomRepo) members(ctx context.Context, key string) ([]string, error) {
	var ids []string
	err := r.store.execute(func() error {
		var err error
		ids, err = r.store.client.SMembers(ctx, key).Result()
		return err
	})
	return ids, err
}

func (r *redisRoomRepo) load(ctx context.Context, ids []string, activeOnly bool) ([]*room.Room, error) {
	var out []*room.Room
	for _, id := range ids {
		rm, err := r.FindById(ctx, types.RoomIdType(id))
		if err == room.ErrUnknownRoom {
			continue // stale index entry
		}
		if err != nil {
			return nil, err
		}
		if activeOnly && !rm.Active() {
			continue
		}
		out = append(out, rm)
	}
	return out, nil
}

func (r *redisRoomRepo) Save(ctx context.Context, rm *room.Room) error {
	snap := rm.ToSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("room marshal: %w", err)
	}

	return r.store.execute(func() error {
		pipe := r.store.client.TxPipeline()
		pipe.Set(ctx, roomKeyPrefix+string(snap.Id), data, 0)
		pipe.SAdd(ctx, roomsOwnerPrefix+string(snap.OwnerId), string(snap.Id))
		if snap.Active {
			pipe.SAdd(ctx, roomsActiveKey, string(snap.Id))
		} else {
			pipe.SRem(ctx, roomsActiveKey, string(snap.Id))
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (r *redisRoomRepo) Delete(ctx context.Context, id types.RoomIdType) error {
	rm, err := r.FindById(ctx, id)
	if err == room.ErrUnknownRoom {
		return nil
	}
	if err != nil {
		return err
	}

	return r.store.execute(func() error {
		pipe := r.store.client.TxPipeline()
		pipe.Del(ctx, roomKeyPrefix+string(id))
		pipe.SRem(ctx, roomsActiveKey, string(id))
		pipe.SRem(ctx, roomsOwnerPrefix+string(rm.OwnerId()), string(id))
		_, err := pipe.Exec(ctx)
		return err
	})
}

// --- Peer-connection repository ---

type redisPeerConnRepo struct {
	store *RedisStore
}

func (r *redisPeerConnRepo) FindById(ctx context.Context, id types.ConnectionIdType) (*peerconn.PeerConnection, error) {
	var snap peerconn.Snapshot
	err := r.store.execute(func() error {
		data, err := r.store.client.Get(ctx, connKeyPrefix+string(id)).Bytes()
		if err == redis.Nil {
			return peerconn.ErrUnknownConnection
		}
		if err != nil {
			return fmt.Errorf("connection lookup: %w", err)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return peerconn.FromSnapshot(snap), nil
}

func (r *redisPeerConnRepo) FindByRoomId(ctx context.Context, roomId types.RoomIdType) ([]*peerconn.PeerConnection, error) {
	return r.loadSet(ctx, connRoomIdxPrefix+string(roomId))
}

func (r *redisPeerConnRepo) FindByPeerId(ctx context.Context, peer types.PeerIdType) ([]*peerconn.PeerConnection, error) {
	return r.loadSet(ctx, connPeerIdxPrefix+string(peer))
}

func (r *redisPeerConnRepo) loadSet(ctx context.Context, key string) ([]*peerconn.PeerConnection, error) {
	var ids []string
	if err := r.store.execute(func() error {
		var err error
		ids, err = r.store.client.SMembers(ctx, key).Result()
		return err
	}); err != nil {
		return nil, err
	}

	var out []*peerconn.PeerConnection
	for _, id := range ids {
		c, err := r.FindById(ctx, types.ConnectionIdType(id))
		if err == peerconn.ErrUnknownConnection {
			continue // stale index entry
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *redisPeerConnRepo) Save(ctx context.Context, c *peerconn.PeerConnection) error {
	snap := c.ToSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("connection marshal: %w", err)
	}

	return r.store.execute(func() error {
		pipe := r.store.client.TxPipeline()
		pipe.Set(ctx, connKeyPrefix+string(snap.Id), data, 0)
		pipe.SAdd(ctx, connRoomIdxPrefix+string(snap.RoomId), string(snap.Id))
		pipe.SAdd(ctx, connPeerIdxPrefix+string(snap.LocalPeer), string(snap.Id))
		pipe.SAdd(ctx, connPeerIdxPrefix+string(snap.RemotePeer), string(snap.Id))
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (r *redisPeerConnRepo) Delete(ctx context.Context, id types.ConnectionIdType) error {
	c, err := r.FindById(ctx, id)
	if err == peerconn.ErrUnknownConnection {
		return nil
	}
	if err != nil {
		return err
	}

	return r.store.execute(func() error {
		pipe := r.store.client.TxPipeline()
		pipe.Del(ctx, connKeyPrefix+string(id))
		pipe.SRem(ctx, connRoomIdxPrefix+string(c.RoomId()), string(id))
		pipe.SRem(ctx, connPeerIdxPrefix+string(c.LocalPeer()), string(id))
		pipe.SRem(ctx, connPeerIdxPrefix+string(c.RemotePeer()), string(id))
		_, err := pipe.Exec(ctx)
		return err
	})
}
