package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is the minimal contract for anything published on the bus. Concrete
// payment events embed BaseEvent and add their typed payload.
type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) EventID() string {
	return e.ID
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) Payload() interface{} {
	return e.Data
}

type Handler func(ctx context.Context, event Event) error

// EventBus is an in-process publish/subscribe fan-out. Reconciliation
// publishes settlement outcomes on it and the receipt emitter listens; the
// two sides never import each other.
type EventBus struct {
	subscribers map[string][]Handler
	logger      *slog.Logger
	mu          sync.RWMutex
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]Handler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type. Registration is expected
// at startup; there is no unsubscribe.
func (b *EventBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	b.logger.Info("event handler registered",
		"event_type", eventType,
		"subscribers", len(b.subscribers[eventType]))
}

// Publish fans the event out to each subscriber in its own goroutine.
// Subscriber errors are logged and swallowed: a receipt that fails to send
// must not unwind an already committed settlement.
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.subscribers[event.EventType()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("event has no subscribers", "event_type", event.EventType())
		return nil
	}

	b.logger.Info("publishing event",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"subscribers", len(handlers))

	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				b.logger.Error("event handler failed",
					"event_type", event.EventType(),
					"event_id", event.EventID(),
					"error", err)
			}
		}(handler)
	}

	return nil
}
