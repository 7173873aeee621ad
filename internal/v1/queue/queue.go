// Package queue implements the per-room prioritized signaling queue and its
// batching drain loop. Offers drain before answers, answers before
// candidates; ties within a priority class keep arrival order. Under
// backpressure candidates are the loss class: offers and answers are never
// dropped.
package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/metrics"
	"github.com/jamlink/broker/internal/v1/types"
)

const (
	// maxQueueLength is the per-room backlog above which stale candidates
	// are trimmed synchronously at enqueue time.
	maxQueueLength = 1000
	// candidateMaxAge is the wall-clock age past which a queued candidate
	// becomes droppable during a trim.
	candidateMaxAge = 5 * time.Second
)

// Message is one queued signaling message.
type Message struct {
	Type    types.SignalType
	From    types.PeerIdType
	To      types.PeerIdType
	RoomId  types.RoomIdType
	Payload json.RawMessage

	priority   int
	enqueuedAt time.Time
	seq        uint64
}

// EnqueuedAt returns the timestamp assigned at enqueue.
func (m *Message) EnqueuedAt() time.Time { return m.enqueuedAt }

// Batch is a coalesced group of messages for one directed pair, produced by
// a single drain tick. Offer and Answer hold the last-wins payload for their
// type; Candidates accumulates every drained candidate in arrival order.
type Batch struct {
	ConnectionId types.ConnectionIdType
	RoomId       types.RoomIdType
	From         types.PeerIdType
	To           types.PeerIdType
	Offer        json.RawMessage
	Answer       json.RawMessage
	Candidates   []json.RawMessage
}

// DrainFunc consumes one coalesced batch. An error skips the batch; other
// batches in the same tick still run.
type DrainFunc func(ctx context.Context, batch Batch) error

// Queue holds per-room backlogs and runs the background drain loop.
type Queue struct {
	mu    sync.Mutex
	rooms map[types.RoomIdType][]*Message
	seq   uint64

	drain     DrainFunc
	interval  time.Duration
	batchSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue. The drain callback is injected at construction to
// break the queue/signal-service reference cycle.
func New(drain DrainFunc, interval time.Duration, batchSize int) *Queue {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		rooms:     make(map[types.RoomIdType][]*Message),
		drain:     drain,
		interval:  interval,
		batchSize: batchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background drain loop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.ctx.Done():
				return
			case <-ticker.C:
				q.DrainTick(q.ctx)
			}
		}
	}()
}

// Stop halts the drain loop and waits for the in-flight tick.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue tags the message with its priority and the current timestamp and
// inserts it in (priority asc, enqueuedAt asc) order. The producer is never
// blocked; an over-length backlog sheds stale candidates instead.
func (q *Queue) Enqueue(msg Message) {
	now := time.Now()
	msg.priority = msg.Type.Priority()
	msg.enqueuedAt = now

	q.mu.Lock()
	defer q.mu.Unlock()

	msg.seq = q.seq
	q.seq++

	backlog := q.rooms[msg.RoomId]
	idx := sort.Search(len(backlog), func(i int) bool {
		if backlog[i].priority != msg.priority {
			return backlog[i].priority > msg.priority
		}
		return backlog[i].seq > msg.seq
	})
	backlog = append(backlog, nil)
	copy(backlog[idx+1:], backlog[idx:])
	backlog[idx] = &msg
	q.rooms[msg.RoomId] = backlog

	if len(backlog) > maxQueueLength {
		q.trimLocked(msg.RoomId, now)
	}
	metrics.QueueDepth.WithLabelValues(string(msg.RoomId)).Set(float64(len(q.rooms[msg.RoomId])))
}

// trimLocked drops candidates older than candidateMaxAge from the room's
// backlog. Offers and answers are untouchable.
func (q *Queue) trimLocked(roomId types.RoomIdType, now time.Time) {
	backlog := q.rooms[roomId]
	kept := backlog[:0]
	dropped := 0
	for _, m := range backlog {
		if m.Type == types.SignalIceCandidate && now.Sub(m.enqueuedAt) > candidateMaxAge {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	q.rooms[roomId] = kept
	if dropped > 0 {
		metrics.DroppedCandidates.Add(float64(dropped))
		logging.Warn(q.ctx, "queue backpressure: dropped stale candidates",
			zap.String("roomId", string(roomId)), zap.Int("dropped", dropped))
	}
}

// Len reports the backlog length for a room.
func (q *Queue) Len(roomId types.RoomIdType) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rooms[roomId])
}

// DrainTick runs one drain iteration: it takes up to batchSize messages from
// the head of every non-empty room backlog, coalesces them per directed
// pair, and dispatches each group. A failing group is logged and skipped.
func (q *Queue) DrainTick(ctx context.Context) {
	q.mu.Lock()
	taken := make(map[types.RoomIdType][]*Message)
	for roomId, backlog := range q.rooms {
		if len(backlog) == 0 {
			continue
		}
		n := q.batchSize
		if n > len(backlog) {
			n = len(backlog)
		}
		taken[roomId] = backlog[:n]
		remaining := backlog[n:]
		if len(remaining) == 0 {
			delete(q.rooms, roomId)
		} else {
			q.rooms[roomId] = remaining
		}
		metrics.QueueDepth.WithLabelValues(string(roomId)).Set(float64(len(remaining)))
	}
	q.mu.Unlock()

	for _, batch := range taken {
		for _, group := range coalesce(batch) {
			if err := q.drain(ctx, group); err != nil {
				logging.Error(ctx, "drain group failed",
					zap.String("connectionId", string(group.ConnectionId)), zap.Error(err))
			}
		}
	}
}

// coalesce groups drained messages by directed pair, keeping first-seen
// group order so an offer taken ahead of a candidate dispatches first.
func coalesce(msgs []*Message) []Batch {
	var order []types.ConnectionIdType
	groups := make(map[types.ConnectionIdType]*Batch)

	for _, m := range msgs {
		id := types.NewConnectionId(m.From, m.To)
		g, ok := groups[id]
		if !ok {
			g = &Batch{ConnectionId: id, RoomId: m.RoomId, From: m.From, To: m.To}
			groups[id] = g
			order = append(order, id)
		}
		switch m.Type {
		case types.SignalOffer:
			g.Offer = m.Payload
		case types.SignalAnswer:
			g.Answer = m.Payload
		case types.SignalIceCandidate:
			g.Candidates = append(g.Candidates, m.Payload)
		}
	}

	out := make([]Batch, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out
}
