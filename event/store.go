package event

import (
	"context"
	"time"

	"github.com/commercekit/conduct/id"
)

// Store persists bus events downstream of the outbox. Events keep their
// outbox identity, so a redelivered event hits a duplicate key and the
// store treats the publish as a no-op.
type Store interface {
	// PublishEvent persists evt and makes it visible to subscribers.
	PublishEvent(ctx context.Context, evt *Event) error

	// SubscribeEvent blocks until an unacked event with the given name
	// exists or the timeout lapses. A lapsed timeout returns (nil, nil),
	// not an error.
	SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*Event, error)

	// AckEvent marks the event consumed so no later subscriber sees it.
	AckEvent(ctx context.Context, eventID id.EventID) error
}
