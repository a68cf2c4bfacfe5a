package shipping

import (
	"time"

	"github.com/commercekit/conduct/carrier"
	"github.com/commercekit/conduct/id"
)

// ShipRequest asks for a fulfillment to be shipped: purchase a label
// from the given provider and mark the covered quantities shipped.
type ShipRequest struct {
	OrderID       id.OrderID       `json:"order_id"`
	FulfillmentID id.FulfillmentID `json:"fulfillment_id"`
	// Provider names the carrier integration; unknown or legacy names
	// resolve to the registry default.
	Provider string          `json:"provider,omitempty"`
	Service  string          `json:"service,omitempty"`
	From     carrier.Address `json:"from"`
	To       carrier.Address `json:"to"`
	Parcel   carrier.Parcel  `json:"parcel"`
}

// PreparedItem is one validated line item quantity with its before and
// after shipped quantities.
type PreparedItem struct {
	LineItemID         id.LineItemID `json:"line_item_id"`
	Quantity           int           `json:"quantity"`
	ShippedBefore      int           `json:"shipped_before"`
	NewShippedQuantity int           `json:"new_shipped_quantity"`
}

// PreparedShipment is the output of the read-only prepare phase. It is
// computed fresh on every prepare call and never persisted itself — it
// is the DTO handed from prepare to mark-pending and apply.
type PreparedShipment struct {
	OrderID       id.OrderID       `json:"order_id"`
	FulfillmentID id.FulfillmentID `json:"fulfillment_id"`

	// IdempotencyKey deduplicates the label purchase carrier-side.
	// KeyExists reports whether it was already persisted on the
	// fulfillment by an earlier attempt.
	IdempotencyKey string `json:"idempotency_key"`
	KeyExists      bool   `json:"key_exists"`

	// AlreadyShipped short-circuits the whole flow: Existing holds the
	// result of the completed shipment.
	AlreadyShipped bool                 `json:"already_shipped"`
	Existing       *ApplyShipmentResult `json:"existing,omitempty"`

	// AlreadyPurchased means a label was bought by an earlier attempt
	// that crashed before apply; the purchase call must be skipped.
	AlreadyPurchased bool                 `json:"already_purchased"`
	PurchasedLabel   *carrier.LabelResult `json:"purchased_label,omitempty"`

	Provider string         `json:"provider,omitempty"`
	Items    []PreparedItem `json:"items"`
	Request  ShipRequest    `json:"request"`
}

// ApplyShipmentResult is the committed outcome of the apply phase: the
// label identifiers and timestamp actually persisted.
type ApplyShipmentResult struct {
	FulfillmentID  id.FulfillmentID `json:"fulfillment_id"`
	LabelID        string           `json:"label_id"`
	TrackingNumber string           `json:"tracking_number"`
	TrackingURL    string           `json:"tracking_url,omitempty"`
	LabelURL       string           `json:"label_url,omitempty"`
	Carrier        string           `json:"carrier"`
	Service        string           `json:"service,omitempty"`
	Cost           int64            `json:"cost"`
	ShippedAt      time.Time        `json:"shipped_at"`
	// LabelPurchased reports whether this apply followed an actual
	// provider purchase call (as opposed to an idempotent replay).
	LabelPurchased bool `json:"label_purchased"`
}

// VoidRequest asks for a purchased label to be voided and refunded.
type VoidRequest struct {
	OrderID       id.OrderID       `json:"order_id"`
	FulfillmentID id.FulfillmentID `json:"fulfillment_id"`
}

// VoidOutcome is the committed outcome of a void flow.
type VoidOutcome struct {
	FulfillmentID id.FulfillmentID `json:"fulfillment_id"`
	LabelID       string           `json:"label_id"`
	Voided        bool             `json:"voided"`
	RefundAmount  int64            `json:"refund_amount,omitempty"`
	Error         string           `json:"error,omitempty"`
	// RequiresManualIntervention is set when the carrier rejected the
	// void; automatic retry is not attempted.
	RequiresManualIntervention bool `json:"requires_manual_intervention,omitempty"`
}

// Outbox event names emitted by the shipping service.
const (
	EventShipmentCreated = "shipment.created"
	EventLabelPurchased  = "shipment.label_purchased"
	EventLabelVoided     = "shipment.label_voided"
	EventLabelVoidFailed = "shipment.label_void_failed"
)

// ShipmentCreatedPayload is the EventShipmentCreated body.
type ShipmentCreatedPayload struct {
	OrderID        id.OrderID       `json:"order_id"`
	FulfillmentID  id.FulfillmentID `json:"fulfillment_id"`
	TrackingNumber string           `json:"tracking_number"`
	Carrier        string           `json:"carrier"`
	Items          []PreparedItem   `json:"items"`
	ShippedAt      time.Time        `json:"shipped_at"`
}

// LabelPurchasedPayload is the EventLabelPurchased body.
type LabelPurchasedPayload struct {
	OrderID       id.OrderID       `json:"order_id"`
	FulfillmentID id.FulfillmentID `json:"fulfillment_id"`
	LabelID       string           `json:"label_id"`
	Carrier       string           `json:"carrier"`
	Cost          int64            `json:"cost"`
}

// LabelVoidedPayload is the EventLabelVoided body.
type LabelVoidedPayload struct {
	OrderID       id.OrderID       `json:"order_id"`
	FulfillmentID id.FulfillmentID `json:"fulfillment_id"`
	LabelID       string           `json:"label_id"`
	RefundAmount  int64            `json:"refund_amount"`
}

// LabelVoidFailedPayload is the EventLabelVoidFailed body. It is always
// flagged for manual intervention.
type LabelVoidFailedPayload struct {
	OrderID                    id.OrderID       `json:"order_id"`
	FulfillmentID              id.FulfillmentID `json:"fulfillment_id"`
	LabelID                    string           `json:"label_id"`
	Error                      string           `json:"error"`
	RequiresManualIntervention bool             `json:"requires_manual_intervention"`
}
