package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/types"
)

// Handler consumes a single domain event. A non-nil error surfaces to the
// publisher's caller but never stops delivery to other handlers.
type Handler func(ctx context.Context, event types.DomainEvent) error

// Publisher multicasts domain events to handlers registered by event name.
// Delivery within one Publish call is sequential in registration order;
// PublishAll preserves the order events were handed in.
type Publisher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{handlers: make(map[string][]Handler)}
}

// Register appends a handler for the given event name. Registering the same
// handler twice is permitted; it will fire once per registration.
func (p *Publisher) Register(eventName string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventName] = append(p.handlers[eventName], handler)
}

// Unregister removes the first handler registered for eventName whose
// function pointer matches handler. Unknown handlers are ignored.
func (p *Publisher) Unregister(eventName string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := reflect.ValueOf(handler).Pointer()
	list := p.handlers[eventName]
	for i, h := range list {
		if reflect.ValueOf(h).Pointer() == target {
			p.handlers[eventName] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish fans the event out to every handler registered for its name and
// waits for each. The first handler error is returned after all handlers ran.
func (p *Publisher) Publish(ctx context.Context, event types.DomainEvent) error {
	p.mu.RLock()
	list := p.handlers[event.EventName()]
	handlers := make([]Handler, len(list))
	copy(handlers, list)
	p.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			logging.Error(ctx, "event handler failed",
				zap.String("event", event.EventName()), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s: %w", event.EventName(), err)
			}
		}
	}
	return firstErr
}

// PublishAll publishes each event in order. A failure for one event is
// remembered but subsequent events are still attempted, so downstream
// consumers see at-least-once delivery within the batch.
func (p *Publisher) PublishAll(ctx context.Context, batch []types.DomainEvent) error {
	var firstErr error
	for _, event := range batch {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ types.EventPublisher = (*Publisher)(nil)
