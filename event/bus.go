// Package event provides the consumer-facing event bus. The outbox
// dispatcher feeds it through BusPublisher, so subscribers see an event
// only after the state change that produced it durably committed.
package event

import (
	"context"
	"time"

	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/outbox"
)

// Bus provides high-level publish/subscribe operations over an event
// Store. Shipping flows publish through the outbox; consumers wait on
// the Bus for the dispatched events.
type Bus struct {
	store Store
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish creates and persists a new event, making it available for subscribers.
func (b *Bus) Publish(ctx context.Context, name string, payload []byte, correlationID string) (*Event, error) {
	evt := &Event{
		ID:            id.NewEventID(),
		Name:          name,
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Subscribe waits for an unacked event matching the given name.
// Blocks until available or timeout. Returns nil on timeout.
func (b *Bus) Subscribe(ctx context.Context, name string, timeout time.Duration) (*Event, error) {
	return b.store.SubscribeEvent(ctx, name, timeout)
}

// Ack acknowledges an event, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }

// BusPublisher adapts the bus into the outbox dispatcher's publisher.
// The outbox event keeps its ID across the hop so consumers can
// deduplicate redelivered events.
func BusPublisher(b *Bus) outbox.PublisherFunc {
	return func(ctx context.Context, evt *outbox.Event) error {
		return b.store.PublishEvent(ctx, &Event{
			ID:            evt.ID,
			Name:          evt.Name,
			Payload:       evt.Payload,
			CorrelationID: evt.CorrelationID,
			CreatedAt:     evt.CreatedAt,
		})
	}
}
