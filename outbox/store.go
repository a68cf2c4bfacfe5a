package outbox

import (
	"context"
	"time"

	"github.com/commercekit/conduct/id"
)

// Store is the dispatcher-facing side of the outbox. Enqueueing is NOT
// part of this interface: events enter the outbox through the order
// store's write transaction, which is what makes "state changed" and
// "event recorded" commit atomically together.
type Store interface {
	// ListPending returns up to limit undispatched events in creation
	// order.
	ListPending(ctx context.Context, limit int) ([]*Event, error)

	// MarkDispatched records that the event was published downstream.
	MarkDispatched(ctx context.Context, eventID id.EventID, at time.Time) error
}
