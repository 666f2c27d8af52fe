// Package events is the in-process notification channel between the map
// reconciler, the sidebar engines and the playback machine.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Event is the base interface all domain events implement.
type Event interface {
	// EventName returns a unique identifier for the event type.
	EventName() string
	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent creates a base event stamped now with a fresh id.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: time.Now()}
}

// Handler processes events of a specific type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow ordinary functions to be used as handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls the underlying function.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to subscribers.
type Bus interface {
	// Publish delivers event to every handler subscribed to its name, in
	// subscription order, on the caller's goroutine. Handler errors and panics
	// are logged and do not stop delivery.
	Publish(ctx context.Context, event Event)

	// PublishSync is Publish that also returns the handlers' joined errors.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler for an event name and returns a function
	// that removes it.
	Subscribe(eventName string, handler Handler) (unsubscribe func())
}

type subscription struct {
	id      uint64
	handler Handler
}

// InMemoryBus is a synchronous, goroutine-safe Bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
}

var _ Bus = (*InMemoryBus)(nil)

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]subscription)}
}

// Subscribe implements Bus.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[eventName] = append(b.handlers[eventName], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[eventName]
			for i, s := range subs {
				if s.id == id {
					b.handlers[eventName] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.handlers[eventName]) == 0 {
				delete(b.handlers, eventName)
			}
		})
	}
}

// Subscribers returns the number of handlers registered for eventName.
func (b *InMemoryBus) Subscribers(eventName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventName])
}

// Publish implements Bus.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	_ = b.PublishSync(ctx, event)
}

// PublishSync implements Bus.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := deliver(ctx, s.handler, event); err != nil {
			zap.L().Warn("events: handler failed",
				zap.String("event", event.EventName()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("events: handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}

// On subscribes a handler typed to one event type.
func On[E Event](bus Bus, fn func(ctx context.Context, event E) error) func() {
	var zero E
	return bus.Subscribe(zero.EventName(), HandlerFunc(func(ctx context.Context, event Event) error {
		typed, ok := event.(E)
		if !ok {
			return eris.Errorf("events: %s delivered as %T", zero.EventName(), event)
		}
		return fn(ctx, typed)
	}))
}
