package order

import (
	"context"

	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/outbox"
)

// ReadTx is the read side of the store, available in both transaction
// modes. Loads return deep copies; mutating a loaded aggregate never
// changes stored state until it is saved.
type ReadTx interface {
	// Order loads an order with its line items.
	Order(ctx context.Context, orderID id.OrderID) (*Order, error)

	// Fulfillment loads a fulfillment.
	Fulfillment(ctx context.Context, fulfillmentID id.FulfillmentID) (*Fulfillment, error)
}

// Tx is a write transaction. Saves use optimistic locking: the aggregate
// must carry the version it was loaded with, and a mismatch fails with
// ErrVersionConflict so a losing writer restarts instead of silently
// overwriting. EnqueueEvent commits atomically with the saves.
type Tx interface {
	ReadTx

	// CreateOrder inserts a new order aggregate.
	CreateOrder(ctx context.Context, o *Order) error

	// CreateFulfillment inserts a new fulfillment.
	CreateFulfillment(ctx context.Context, f *Fulfillment) error

	// SaveOrder persists the order, bumping its version.
	SaveOrder(ctx context.Context, o *Order) error

	// SaveFulfillment persists the fulfillment, bumping its version.
	SaveFulfillment(ctx context.Context, f *Fulfillment) error

	// EnqueueEvent appends an event to the outbox within this
	// transaction.
	EnqueueEvent(ctx context.Context, evt *outbox.Event) error
}

// Store is the transactional boundary around orders, fulfillments, and
// the outbox. The two-phase shipping service uses View for its prepare
// phase and Update for the short mark-pending and apply phases —
// external provider calls happen strictly between transactions, never
// inside one.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx ReadTx) error) error

	// Update runs fn in a write transaction, committing if fn returns
	// nil and rolling back otherwise.
	Update(ctx context.Context, fn func(tx Tx) error) error
}
