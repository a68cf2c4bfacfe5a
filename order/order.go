// Package order defines the order and fulfillment aggregates the
// workflow core operates on, the shipping-label state machine, and the
// transactional store boundary with optimistic locking.
package order

import (
	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
)

// Status is the overall order lifecycle state.
type Status string

const (
	// StatusPending means the order is placed but not yet confirmed for
	// processing. Pending orders cannot ship.
	StatusPending Status = "pending"
	// StatusProcessing means the order is confirmed and may ship.
	StatusProcessing Status = "processing"
	// StatusCompleted means every obligation on the order is met.
	StatusCompleted Status = "completed"
	// StatusCanceled means the order was canceled. Canceled orders
	// cannot ship.
	StatusCanceled Status = "canceled"
)

// FulfillmentStatus is the order-level aggregate over line item shipment.
type FulfillmentStatus string

const (
	// FulfillmentUnshipped means no line item has shipped anything.
	FulfillmentUnshipped FulfillmentStatus = "unshipped"
	// FulfillmentPartiallyShipped means some, not all, quantities shipped.
	FulfillmentPartiallyShipped FulfillmentStatus = "partially_shipped"
	// FulfillmentShipped means every line item shipped in full.
	FulfillmentShipped FulfillmentStatus = "shipped"
)

// LineItemStatus tracks shipment per line item.
type LineItemStatus string

const (
	LineItemUnshipped        LineItemStatus = "unshipped"
	LineItemPartiallyShipped LineItemStatus = "partially_shipped"
	LineItemShipped          LineItemStatus = "shipped"
)

// Order is the root aggregate. Version is the optimistic-locking marker:
// saves carry the version they loaded, and a mismatch on save fails with
// ErrVersionConflict instead of overwriting.
type Order struct {
	conduct.Entity

	ID                id.OrderID        `json:"id"`
	Status            Status            `json:"status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	LineItems         []*LineItem       `json:"line_items"`
	Version           int64             `json:"version"`
}

// LineItem is one ordered product with its running shipped quantity.
type LineItem struct {
	ID              id.LineItemID  `json:"id"`
	Quantity        int            `json:"quantity"`
	ShippedQuantity int            `json:"shipped_quantity"`
	Status          LineItemStatus `json:"status"`
}

// LineItem returns the line item with the given ID.
func (o *Order) LineItem(lineItemID id.LineItemID) (*LineItem, bool) {
	for _, li := range o.LineItems {
		if li.ID == lineItemID {
			return li, true
		}
	}
	return nil, false
}

// CanShip reports why the order cannot ship, or nil if it can.
// Canceled and still-pending orders never ship.
func (o *Order) CanShip() error {
	switch o.Status {
	case StatusCanceled:
		return conduct.Errorf(conduct.KindValidation, "order %s is canceled", o.ID)
	case StatusPending:
		return conduct.Errorf(conduct.KindValidation, "order %s is pending and cannot ship", o.ID)
	}
	return nil
}

// RecomputeFulfillmentStatus derives the order-level aggregate from the
// line items: shipped if all lines shipped in full, partially shipped if
// anything shipped, unshipped otherwise.
func (o *Order) RecomputeFulfillmentStatus() {
	allShipped := len(o.LineItems) > 0
	anyShipped := false

	for _, li := range o.LineItems {
		if li.ShippedQuantity > 0 {
			anyShipped = true
		}
		if li.ShippedQuantity < li.Quantity {
			allShipped = false
		}
	}

	switch {
	case allShipped:
		o.FulfillmentStatus = FulfillmentShipped
	case anyShipped:
		o.FulfillmentStatus = FulfillmentPartiallyShipped
	default:
		o.FulfillmentStatus = FulfillmentUnshipped
	}
}

// RemainingShippable is how many units of the line item may still ship.
func (li *LineItem) RemainingShippable() int {
	return li.Quantity - li.ShippedQuantity
}

// RecordShipped adds qty to the shipped quantity and updates the per-line
// status (shipped vs partially shipped).
func (li *LineItem) RecordShipped(qty int) {
	li.ShippedQuantity += qty
	if li.ShippedQuantity >= li.Quantity {
		li.Status = LineItemShipped
	} else if li.ShippedQuantity > 0 {
		li.Status = LineItemPartiallyShipped
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can
// mutate without racing the store's canonical state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.LineItems = make([]*LineItem, len(o.LineItems))
	for i, li := range o.LineItems {
		lic := *li
		cp.LineItems[i] = &lic
	}
	return &cp
}
