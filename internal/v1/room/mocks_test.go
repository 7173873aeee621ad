package room

import (
	"context"
	"sync"

	"github.com/jamlink/broker/internal/v1/types"
)

// fakeRepo is an in-memory Repository used by service tests.
type fakeRepo struct {
	mu       sync.Mutex
	rooms    map[types.RoomIdType]Snapshot
	saveErr  error
	saves    int
	deletes  []types.RoomIdType
	notFound bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rooms: make(map[types.RoomIdType]Snapshot)}
}

func (f *fakeRepo) FindById(_ context.Context, id types.RoomIdType) (*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rooms[id]
	if !ok || f.notFound {
		return nil, ErrUnknownRoom
	}
	return FromSnapshot(s), nil
}

func (f *fakeRepo) FindByOwnerId(_ context.Context, owner types.PeerIdType) ([]*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Room
	for _, s := range f.rooms {
		if s.OwnerId == owner {
			out = append(out, FromSnapshot(s))
		}
	}
	return out, nil
}

func (f *fakeRepo) FindActive(_ context.Context) ([]*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Room
	for _, s := range f.rooms {
		if s.Active {
			out = append(out, FromSnapshot(s))
		}
	}
	return out, nil
}

func (f *fakeRepo) Save(_ context.Context, r *Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.rooms[r.Id()] = r.ToSnapshot()
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id types.RoomIdType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	delete(f.rooms, id)
	return nil
}

func (f *fakeRepo) has(id types.RoomIdType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[id]
	return ok
}

var _ Repository = (*fakeRepo)(nil)

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []types.DomainEvent
}

func (p *capturingPublisher) Publish(_ context.Context, e types.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) PublishAll(ctx context.Context, batch []types.DomainEvent) error {
	for _, e := range batch {
		_ = p.Publish(ctx, e)
	}
	return nil
}

func (p *capturingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventName()
	}
	return out
}
