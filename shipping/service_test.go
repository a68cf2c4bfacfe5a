package shipping_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/carrier"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/shipping"
	"github.com/commercekit/conduct/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type shipFixture struct {
	svc    *shipping.Service
	store  *memory.Store
	static *carrier.Static

	orderID       id.OrderID
	fulfillmentID id.FulfillmentID
	lineA         id.LineItemID // ordered 3, fulfillment covers 2
	lineB         id.LineItemID // ordered 1, fulfillment covers 1
}

func newShipFixture(t *testing.T) *shipFixture {
	t.Helper()

	fx := &shipFixture{
		store:         memory.New(),
		static:        &carrier.Static{},
		orderID:       id.NewOrderID(),
		fulfillmentID: id.NewFulfillmentID(),
		lineA:         id.NewLineItemID(),
		lineB:         id.NewLineItemID(),
	}

	registry := carrier.NewRegistry("static", discardLogger())
	registry.Register(fx.static)
	fx.svc = shipping.NewService(fx.store, registry, discardLogger())

	ctx := context.Background()
	err := fx.store.Update(ctx, func(tx order.Tx) error {
		if err := tx.CreateOrder(ctx, &order.Order{
			ID:     fx.orderID,
			Status: order.StatusProcessing,
			LineItems: []*order.LineItem{
				{ID: fx.lineA, Quantity: 3, Status: order.LineItemUnshipped},
				{ID: fx.lineB, Quantity: 1, Status: order.LineItemUnshipped},
			},
		}); err != nil {
			return err
		}
		return tx.CreateFulfillment(ctx, &order.Fulfillment{
			ID:      fx.fulfillmentID,
			OrderID: fx.orderID,
			Items: []order.FulfillmentItem{
				{LineItemID: fx.lineA, Quantity: 2},
				{LineItemID: fx.lineB, Quantity: 1},
			},
			LabelState: order.LabelNone,
		})
	})
	require.NoError(t, err)
	return fx
}

func (fx *shipFixture) request() shipping.ShipRequest {
	return shipping.ShipRequest{
		OrderID:       fx.orderID,
		FulfillmentID: fx.fulfillmentID,
		Service:       "ground",
		From:          carrier.Address{Line1: "1 Depot Way", City: "Portland", PostalCode: "97201", Country: "US"},
		To:            carrier.Address{Name: "Ada Vance", Line1: "9 Elm St", City: "Austin", PostalCode: "73301", Country: "US"},
		Parcel:        carrier.Parcel{WeightGrams: 1200},
	}
}

func (fx *shipFixture) loadOrder(t *testing.T) *order.Order {
	t.Helper()
	var o *order.Order
	err := fx.store.View(context.Background(), func(tx order.ReadTx) error {
		var err error
		o, err = tx.Order(context.Background(), fx.orderID)
		return err
	})
	require.NoError(t, err)
	return o
}

func (fx *shipFixture) loadFulfillment(t *testing.T) *order.Fulfillment {
	t.Helper()
	var f *order.Fulfillment
	err := fx.store.View(context.Background(), func(tx order.ReadTx) error {
		var err error
		f, err = tx.Fulfillment(context.Background(), fx.fulfillmentID)
		return err
	})
	require.NoError(t, err)
	return f
}

func (fx *shipFixture) mutateFulfillment(t *testing.T, mutate func(f *order.Fulfillment)) {
	t.Helper()
	ctx := context.Background()
	err := fx.store.Update(ctx, func(tx order.Tx) error {
		f, err := tx.Fulfillment(ctx, fx.fulfillmentID)
		if err != nil {
			return err
		}
		mutate(f)
		return tx.SaveFulfillment(ctx, f)
	})
	require.NoError(t, err)
}

func (fx *shipFixture) pendingEventNames(t *testing.T) []string {
	t.Helper()
	events, err := fx.store.ListPending(context.Background(), 100)
	require.NoError(t, err)
	names := make([]string, 0, len(events))
	for _, evt := range events {
		names = append(names, evt.Name)
	}
	return names
}

func TestShip_HappyPath(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	res, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, fx.fulfillmentID, res.FulfillmentID)
	assert.NotEmpty(t, res.LabelID)
	assert.NotEmpty(t, res.TrackingNumber)
	assert.Equal(t, "static", res.Carrier)
	assert.Equal(t, "ground", res.Service)
	assert.True(t, res.LabelPurchased)
	assert.False(t, res.ShippedAt.IsZero())

	f := fx.loadFulfillment(t)
	assert.Equal(t, order.LabelShipped, f.LabelState)
	require.NotNil(t, f.Label)
	assert.Equal(t, res.LabelID, f.Label.LabelID)
	assert.NotEmpty(t, f.IdempotencyKey)
	require.NotNil(t, f.ShippedAt)

	o := fx.loadOrder(t)
	liA, ok := o.LineItem(fx.lineA)
	require.True(t, ok)
	assert.Equal(t, 2, liA.ShippedQuantity)
	assert.Equal(t, order.LineItemPartiallyShipped, liA.Status)
	liB, ok := o.LineItem(fx.lineB)
	require.True(t, ok)
	assert.Equal(t, 1, liB.ShippedQuantity)
	assert.Equal(t, order.LineItemShipped, liB.Status)
	assert.Equal(t, order.FulfillmentPartiallyShipped, o.FulfillmentStatus)

	assert.ElementsMatch(t,
		[]string{shipping.EventShipmentCreated, shipping.EventLabelPurchased},
		fx.pendingEventNames(t))
}

func TestShip_SecondCallIsIdempotent(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	second, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	assert.Equal(t, int64(1), fx.static.CreateCalls())
	assert.Equal(t, first.LabelID, second.LabelID)
	assert.Equal(t, first.TrackingNumber, second.TrackingNumber)
	assert.False(t, second.LabelPurchased)

	// The replay must not duplicate outbox events.
	assert.Len(t, fx.pendingEventNames(t), 2)
}

func TestShip_QuantityGuards(t *testing.T) {
	tests := []struct {
		name     string
		quantity int
	}{
		{"zero quantity", 0},
		{"negative quantity", -1},
		{"exceeds ordered quantity", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newShipFixture(t)
			fx.mutateFulfillment(t, func(f *order.Fulfillment) {
				f.Items = []order.FulfillmentItem{{LineItemID: fx.lineA, Quantity: tt.quantity}}
			})

			_, err := fx.svc.Ship(context.Background(), fx.request())
			require.Error(t, err)
			assert.Equal(t, conduct.KindValidation, conduct.KindOf(err))
		})
	}
}

func TestShip_ExceedsRemainingShippable(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	// First shipment consumes 2 of line A's 3.
	_, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	secondID := id.NewFulfillmentID()
	err = fx.store.Update(ctx, func(tx order.Tx) error {
		return tx.CreateFulfillment(ctx, &order.Fulfillment{
			ID:         secondID,
			OrderID:    fx.orderID,
			Items:      []order.FulfillmentItem{{LineItemID: fx.lineA, Quantity: 2}},
			LabelState: order.LabelNone,
		})
	})
	require.NoError(t, err)

	req := fx.request()
	req.FulfillmentID = secondID
	_, err = fx.svc.Ship(ctx, req)
	require.Error(t, err)
	assert.Equal(t, conduct.KindValidation, conduct.KindOf(err))
}

func TestShip_OrderStatusGuards(t *testing.T) {
	tests := []struct {
		name   string
		status order.Status
	}{
		{"canceled order", order.StatusCanceled},
		{"pending order", order.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newShipFixture(t)
			ctx := context.Background()
			err := fx.store.Update(ctx, func(tx order.Tx) error {
				o, err := tx.Order(ctx, fx.orderID)
				if err != nil {
					return err
				}
				o.Status = tt.status
				return tx.SaveOrder(ctx, o)
			})
			require.NoError(t, err)

			_, err = fx.svc.Ship(ctx, fx.request())
			require.Error(t, err)
			assert.Equal(t, conduct.KindValidation, conduct.KindOf(err))
		})
	}
}

func TestShip_CanceledFulfillment(t *testing.T) {
	fx := newShipFixture(t)
	now := time.Now().UTC()
	fx.mutateFulfillment(t, func(f *order.Fulfillment) {
		f.CanceledAt = &now
	})

	_, err := fx.svc.Ship(context.Background(), fx.request())
	require.Error(t, err)
	assert.Equal(t, conduct.KindValidation, conduct.KindOf(err))
}

func TestShip_FulfillmentOwnership(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	otherOrder := id.NewOrderID()
	err := fx.store.Update(ctx, func(tx order.Tx) error {
		return tx.CreateOrder(ctx, &order.Order{
			ID:        otherOrder,
			Status:    order.StatusProcessing,
			LineItems: []*order.LineItem{{ID: id.NewLineItemID(), Quantity: 1}},
		})
	})
	require.NoError(t, err)

	req := fx.request()
	req.OrderID = otherOrder
	_, err = fx.svc.Ship(ctx, req)
	require.Error(t, err)
	assert.Equal(t, conduct.KindValidation, conduct.KindOf(err))
}

func TestShip_ProviderFailureLeavesResumableState(t *testing.T) {
	fx := newShipFixture(t)
	fx.static.CreateErr = context.DeadlineExceeded
	ctx := context.Background()

	_, err := fx.svc.Ship(ctx, fx.request())
	require.Error(t, err)
	assert.Equal(t, conduct.KindExternalProvider, conduct.KindOf(err))

	// The pending mark committed before the provider call; the key is
	// durable so a retry reuses it.
	f := fx.loadFulfillment(t)
	assert.Equal(t, order.LabelPendingPurchase, f.LabelState)
	assert.NotEmpty(t, f.IdempotencyKey)
	assert.Nil(t, f.Label)

	o := fx.loadOrder(t)
	liA, _ := o.LineItem(fx.lineA)
	assert.Equal(t, 0, liA.ShippedQuantity)
	assert.Empty(t, fx.pendingEventNames(t))

	// Retry after the provider recovers completes the shipment.
	fx.static.CreateErr = nil
	res, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)
	assert.Equal(t, order.LabelShipped, fx.loadFulfillment(t).LabelState)
	assert.NotEmpty(t, res.TrackingNumber)
}

func TestShip_ResumeAfterCrashDedupesPurchase(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	// Simulate a crash after mark-pending and after the provider call
	// but before apply: the label exists carrier-side under the
	// persisted key, and the fulfillment is still pending.
	key := order.ShipmentIdempotencyKey(fx.fulfillmentID)
	fx.mutateFulfillment(t, func(f *order.Fulfillment) {
		f.IdempotencyKey = key
		f.Provider = "static"
		f.LabelState = order.LabelPendingPurchase
	})
	orphan, err := fx.static.CreateLabel(ctx, key, carrier.LabelRequest{Service: "ground"})
	require.NoError(t, err)

	res, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	assert.Equal(t, int64(1), fx.static.CreateCalls())
	assert.Equal(t, orphan.LabelID, res.LabelID)
	assert.Equal(t, orphan.TrackingNumber, res.TrackingNumber)
	assert.Equal(t, order.LabelShipped, fx.loadFulfillment(t).LabelState)
}

func TestMarkPending_KeyMismatchConflicts(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	prepared, err := fx.svc.Prepare(ctx, fx.request())
	require.NoError(t, err)

	// A competing attempt persisted a different key between prepare and
	// mark-pending.
	fx.mutateFulfillment(t, func(f *order.Fulfillment) {
		f.IdempotencyKey = "ship-somebody-else"
		f.LabelState = order.LabelPendingPurchase
	})

	err = fx.svc.MarkPending(ctx, prepared)
	require.Error(t, err)
	assert.Equal(t, conduct.KindConflict, conduct.KindOf(err))
}

func TestVoidLabel_HappyPath(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	shipped, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	outcome, err := fx.svc.VoidLabel(ctx, shipping.VoidRequest{
		OrderID:       fx.orderID,
		FulfillmentID: fx.fulfillmentID,
	})
	require.NoError(t, err)

	assert.True(t, outcome.Voided)
	assert.Equal(t, shipped.LabelID, outcome.LabelID)
	assert.Equal(t, int64(795), outcome.RefundAmount)
	assert.False(t, outcome.RequiresManualIntervention)

	f := fx.loadFulfillment(t)
	assert.Equal(t, order.LabelVoided, f.LabelState)
	require.NotNil(t, f.CanceledAt)

	assert.Contains(t, fx.pendingEventNames(t), shipping.EventLabelVoided)
}

func TestVoidLabel_CarrierRejectionFlagsManualIntervention(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	fx.static.VoidOutcome = &carrier.VoidResult{Success: false, Error: "label already in transit"}
	outcome, err := fx.svc.VoidLabel(ctx, shipping.VoidRequest{
		OrderID:       fx.orderID,
		FulfillmentID: fx.fulfillmentID,
	})
	require.NoError(t, err)

	assert.False(t, outcome.Voided)
	assert.True(t, outcome.RequiresManualIntervention)
	assert.Equal(t, "label already in transit", outcome.Error)

	f := fx.loadFulfillment(t)
	assert.Equal(t, order.LabelVoidFailed, f.LabelState)
	assert.Nil(t, f.CanceledAt)

	assert.Contains(t, fx.pendingEventNames(t), shipping.EventLabelVoidFailed)
}

type flakyVoidProvider struct {
	*carrier.Static
	voidErr error
}

func (p *flakyVoidProvider) VoidLabel(ctx context.Context, labelID string) (*carrier.VoidResult, error) {
	if p.voidErr != nil {
		return nil, p.voidErr
	}
	return p.Static.VoidLabel(ctx, labelID)
}

func TestVoidLabel_TransportErrorStaysRetryable(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()

	flaky := &flakyVoidProvider{Static: fx.static}
	registry := carrier.NewRegistry("static", discardLogger())
	registry.Register(flaky)
	fx.svc = shipping.NewService(fx.store, registry, discardLogger())

	_, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)

	flaky.voidErr = context.DeadlineExceeded
	_, err = fx.svc.VoidLabel(ctx, shipping.VoidRequest{
		OrderID:       fx.orderID,
		FulfillmentID: fx.fulfillmentID,
	})
	require.Error(t, err)

	// Transport failures leave the request pending so a retry can
	// settle it either way.
	assert.Equal(t, order.LabelVoidRequested, fx.loadFulfillment(t).LabelState)

	flaky.voidErr = nil
	outcome, err := fx.svc.VoidLabel(ctx, shipping.VoidRequest{
		OrderID:       fx.orderID,
		FulfillmentID: fx.fulfillmentID,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Voided)
	assert.Equal(t, order.LabelVoided, fx.loadFulfillment(t).LabelState)
}

func TestVoidLabel_AlreadyVoidedIsIdempotent(t *testing.T) {
	fx := newShipFixture(t)
	ctx := context.Background()
	req := shipping.VoidRequest{OrderID: fx.orderID, FulfillmentID: fx.fulfillmentID}

	_, err := fx.svc.Ship(ctx, fx.request())
	require.NoError(t, err)
	first, err := fx.svc.VoidLabel(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Voided)

	second, err := fx.svc.VoidLabel(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Voided)
	assert.Equal(t, first.LabelID, second.LabelID)

	names := fx.pendingEventNames(t)
	voided := 0
	for _, name := range names {
		if name == shipping.EventLabelVoided {
			voided++
		}
	}
	assert.Equal(t, 1, voided)
}

func TestVoidLabel_NoLabelIsValidation(t *testing.T) {
	fx := newShipFixture(t)

	_, err := fx.svc.VoidLabel(context.Background(), shipping.VoidRequest{
		OrderID:       fx.orderID,
		FulfillmentID: fx.fulfillmentID,
	})
	require.Error(t, err)
	assert.Equal(t, conduct.KindValidation, conduct.KindOf(err))
}
