package order_test

import (
	"errors"
	"testing"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/order"
)

func TestCanShip(t *testing.T) {
	tests := []struct {
		status  order.Status
		wantErr bool
	}{
		{order.StatusPending, true},
		{order.StatusProcessing, false},
		{order.StatusCompleted, false},
		{order.StatusCanceled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			o := &order.Order{ID: id.NewOrderID(), Status: tt.status}
			err := o.CanShip()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if conduct.KindOf(err) != conduct.KindValidation {
					t.Errorf("KindOf = %v, want KindValidation", conduct.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("CanShip: %v", err)
			}
		})
	}
}

func TestRecomputeFulfillmentStatus(t *testing.T) {
	o := &order.Order{
		LineItems: []*order.LineItem{
			{ID: id.NewLineItemID(), Quantity: 2},
			{ID: id.NewLineItemID(), Quantity: 1},
		},
	}

	o.RecomputeFulfillmentStatus()
	if o.FulfillmentStatus != order.FulfillmentUnshipped {
		t.Errorf("FulfillmentStatus = %q, want unshipped", o.FulfillmentStatus)
	}

	o.LineItems[0].RecordShipped(1)
	o.RecomputeFulfillmentStatus()
	if o.FulfillmentStatus != order.FulfillmentPartiallyShipped {
		t.Errorf("FulfillmentStatus = %q, want partially_shipped", o.FulfillmentStatus)
	}

	o.LineItems[0].RecordShipped(1)
	o.LineItems[1].RecordShipped(1)
	o.RecomputeFulfillmentStatus()
	if o.FulfillmentStatus != order.FulfillmentShipped {
		t.Errorf("FulfillmentStatus = %q, want shipped", o.FulfillmentStatus)
	}
}

func TestLineItem_RecordShipped(t *testing.T) {
	li := &order.LineItem{ID: id.NewLineItemID(), Quantity: 3}

	li.RecordShipped(2)
	if li.Status != order.LineItemPartiallyShipped {
		t.Errorf("Status = %q, want partially_shipped", li.Status)
	}
	if li.RemainingShippable() != 1 {
		t.Errorf("RemainingShippable() = %d, want 1", li.RemainingShippable())
	}

	li.RecordShipped(1)
	if li.Status != order.LineItemShipped {
		t.Errorf("Status = %q, want shipped", li.Status)
	}
	if li.RemainingShippable() != 0 {
		t.Errorf("RemainingShippable() = %d, want 0", li.RemainingShippable())
	}
}

func TestLabelStateTransitions(t *testing.T) {
	allowed := []struct{ from, to order.LabelState }{
		{order.LabelNone, order.LabelPendingPurchase},
		{order.LabelPendingPurchase, order.LabelPurchased},
		{order.LabelPurchased, order.LabelShipped},
		{order.LabelPurchased, order.LabelVoidRequested},
		{order.LabelShipped, order.LabelVoidRequested},
		{order.LabelVoidRequested, order.LabelVoided},
		{order.LabelVoidRequested, order.LabelVoidFailed},
		{order.LabelVoidFailed, order.LabelVoidRequested},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransitionTo(tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to order.LabelState }{
		{order.LabelNone, order.LabelPurchased},
		{order.LabelNone, order.LabelShipped},
		{order.LabelPendingPurchase, order.LabelShipped},
		{order.LabelShipped, order.LabelNone},
		{order.LabelVoided, order.LabelVoidRequested},
		{order.LabelVoided, order.LabelShipped},
	}
	for _, tt := range denied {
		if tt.from.CanTransitionTo(tt.to) {
			t.Errorf("%s -> %s should be denied", tt.from, tt.to)
		}
	}
}

func TestFulfillment_TransitionLabel(t *testing.T) {
	f := &order.Fulfillment{ID: id.NewFulfillmentID(), LabelState: order.LabelNone}

	if err := f.TransitionLabel(order.LabelPendingPurchase); err != nil {
		t.Fatalf("TransitionLabel: %v", err)
	}
	if f.LabelState != order.LabelPendingPurchase {
		t.Errorf("LabelState = %q", f.LabelState)
	}

	err := f.TransitionLabel(order.LabelShipped)
	if err == nil {
		t.Fatal("expected error for illegal transition")
	}
	if !errors.Is(err, conduct.ErrInvalidTransition) {
		t.Errorf("error does not wrap ErrInvalidTransition: %v", err)
	}
	if conduct.KindOf(err) != conduct.KindConflict {
		t.Errorf("KindOf = %v, want KindConflict", conduct.KindOf(err))
	}
	if f.LabelState != order.LabelPendingPurchase {
		t.Errorf("failed transition mutated state to %q", f.LabelState)
	}
}

func TestOrder_Clone(t *testing.T) {
	o := &order.Order{
		ID:     id.NewOrderID(),
		Status: order.StatusProcessing,
		LineItems: []*order.LineItem{
			{ID: id.NewLineItemID(), Quantity: 2},
		},
	}

	cp := o.Clone()
	cp.LineItems[0].RecordShipped(2)

	if o.LineItems[0].ShippedQuantity != 0 {
		t.Error("mutating the clone leaked into the original")
	}
}

func TestFulfillment_Clone(t *testing.T) {
	f := &order.Fulfillment{
		ID:    id.NewFulfillmentID(),
		Items: []order.FulfillmentItem{{LineItemID: id.NewLineItemID(), Quantity: 1}},
		Label: &order.Label{LabelID: "lbl-1"},
	}

	cp := f.Clone()
	cp.Label.LabelID = "lbl-2"
	cp.Items[0].Quantity = 9

	if f.Label.LabelID != "lbl-1" {
		t.Error("mutating the clone's label leaked into the original")
	}
	if f.Items[0].Quantity != 1 {
		t.Error("mutating the clone's items leaked into the original")
	}
}

func TestShipmentIdempotencyKey_Deterministic(t *testing.T) {
	fid := id.NewFulfillmentID()
	if order.ShipmentIdempotencyKey(fid) != order.ShipmentIdempotencyKey(fid) {
		t.Error("key must be stable for a fulfillment")
	}
	if order.ShipmentIdempotencyKey(fid) == order.ShipmentIdempotencyKey(id.NewFulfillmentID()) {
		t.Error("key must differ across fulfillments")
	}
}
