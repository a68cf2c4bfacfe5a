package order

import (
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
)

// LabelState is the shipping-label lifecycle of a fulfillment:
//
//	none → pending_purchase → purchased → shipped
//
// with the void side branch
//
//	purchased|shipped → void_requested → voided | void_failed
//
// A failed void requires manual intervention; the only way out of
// void_failed is a human re-requesting the void.
type LabelState string

const (
	LabelNone            LabelState = "none"
	LabelPendingPurchase LabelState = "pending_purchase"
	LabelPurchased       LabelState = "purchased"
	LabelShipped         LabelState = "shipped"
	LabelVoidRequested   LabelState = "void_requested"
	LabelVoided          LabelState = "voided"
	LabelVoidFailed      LabelState = "void_failed"
)

var labelTransitions = map[LabelState][]LabelState{
	LabelNone:            {LabelPendingPurchase},
	LabelPendingPurchase: {LabelPurchased},
	LabelPurchased:       {LabelShipped, LabelVoidRequested},
	LabelShipped:         {LabelVoidRequested},
	LabelVoidRequested:   {LabelVoided, LabelVoidFailed},
	LabelVoidFailed:      {LabelVoidRequested},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s LabelState) CanTransitionTo(next LabelState) bool {
	for _, allowed := range labelTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Label holds the identifiers returned by the carrier for a purchased
// shipping label. Cost is in minor currency units (cents).
type Label struct {
	LabelID        string `json:"label_id"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	LabelURL       string `json:"label_url,omitempty"`
	Carrier        string `json:"carrier"`
	Service        string `json:"service,omitempty"`
	Cost           int64  `json:"cost"`
}

// FulfillmentItem is a quantity of one order line item covered by a
// fulfillment.
type FulfillmentItem struct {
	LineItemID id.LineItemID `json:"line_item_id"`
	Quantity   int           `json:"quantity"`
}

// Fulfillment is a shippable grouping of order line item quantities,
// the unit of label purchase. Version is the optimistic-locking marker.
type Fulfillment struct {
	conduct.Entity

	ID             id.FulfillmentID  `json:"id"`
	OrderID        id.OrderID        `json:"order_id"`
	Items          []FulfillmentItem `json:"items"`
	LabelState     LabelState        `json:"label_state"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Label          *Label            `json:"label,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	ShippedAt      *time.Time        `json:"shipped_at,omitempty"`
	CanceledAt     *time.Time        `json:"canceled_at,omitempty"`
	Version        int64             `json:"version"`
}

// Canceled reports whether the fulfillment was canceled.
func (f *Fulfillment) Canceled() bool { return f.CanceledAt != nil }

// Shipped reports whether the fulfillment shipped with a recorded label.
func (f *Fulfillment) Shipped() bool {
	return f.LabelState == LabelShipped && f.Label != nil
}

// TransitionLabel moves the label state machine to next, failing with
// ErrInvalidTransition (KindConflict) on an illegal move.
func (f *Fulfillment) TransitionLabel(next LabelState) error {
	if !f.LabelState.CanTransitionTo(next) {
		return conduct.E(conduct.KindConflict,
			"fulfillment "+f.ID.String()+": label "+string(f.LabelState)+" -> "+string(next),
			conduct.ErrInvalidTransition)
	}
	f.LabelState = next
	f.Touch()
	return nil
}

// Clone returns a deep copy.
func (f *Fulfillment) Clone() *Fulfillment {
	cp := *f
	cp.Items = append([]FulfillmentItem(nil), f.Items...)
	if f.Label != nil {
		l := *f.Label
		cp.Label = &l
	}
	if f.ShippedAt != nil {
		t := *f.ShippedAt
		cp.ShippedAt = &t
	}
	if f.CanceledAt != nil {
		t := *f.CanceledAt
		cp.CanceledAt = &t
	}
	return &cp
}

// ShipmentIdempotencyKey derives the label-purchase idempotency key for
// a fulfillment. The key is a pure function of the fulfillment's
// identity: once persisted on first use it never changes, which is what
// lets the carrier deduplicate a retried purchase call.
func ShipmentIdempotencyKey(fulfillmentID id.FulfillmentID) string {
	return "shiplabel-" + fulfillmentID.String()
}
