// Package shipping implements the two-phase transactional pattern for
// label purchase: a read-only prepare phase that validates and computes
// what must happen, a short write transaction that marks the fulfillment
// pending before the provider call, the external purchase outside any
// transaction, and a final apply transaction that commits state and
// enqueues outbox events atomically.
//
// The separation exists because (a) a database transaction must never
// stay open across a third-party HTTP call, and (b) a label purchase
// costs money and must happen at most effectively once per logical
// request — which the persisted idempotency key plus the mark-pending
// ordering achieve even across crashes and retries.
package shipping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/carrier"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
)

// Service runs the two-phase shipment and void flows.
type Service struct {
	store     order.Store
	providers *carrier.Registry
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a shipping service.
func NewService(store order.Store, providers *carrier.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		providers: providers,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Prepare validates the request in a read-only transaction and computes
// the shipment to apply. No writes happen here. If the fulfillment is
// already shipped with a label, the existing result is returned
// unchanged (idempotent short-circuit).
func (s *Service) Prepare(ctx context.Context, req ShipRequest) (*PreparedShipment, error) {
	var prepared *PreparedShipment

	err := s.store.View(ctx, func(tx order.ReadTx) error {
		o, err := tx.Order(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := o.CanShip(); err != nil {
			return err
		}

		f, err := tx.Fulfillment(ctx, req.FulfillmentID)
		if err != nil {
			return err
		}
		if f.OrderID != o.ID {
			return conduct.Errorf(conduct.KindValidation,
				"fulfillment %s does not belong to order %s", f.ID, o.ID)
		}
		if f.Canceled() {
			return conduct.Errorf(conduct.KindValidation, "fulfillment %s is canceled", f.ID)
		}

		if f.Shipped() {
			prepared = &PreparedShipment{
				OrderID:        o.ID,
				FulfillmentID:  f.ID,
				IdempotencyKey: f.IdempotencyKey,
				KeyExists:      true,
				AlreadyShipped: true,
				Existing:       resultFromFulfillment(f),
				Request:        req,
			}
			return nil
		}

		switch f.LabelState {
		case order.LabelNone, order.LabelPendingPurchase, order.LabelPurchased:
			// Shippable or resumable.
		default:
			return conduct.Errorf(conduct.KindConflict,
				"fulfillment %s label is %s and cannot ship", f.ID, f.LabelState)
		}

		items := make([]PreparedItem, 0, len(f.Items))
		for _, fi := range f.Items {
			li, ok := o.LineItem(fi.LineItemID)
			if !ok {
				return conduct.E(conduct.KindNotFound,
					fmt.Sprintf("line item %s on order %s", fi.LineItemID, o.ID),
					conduct.ErrLineItemNotFound)
			}
			if fi.Quantity <= 0 {
				return conduct.Errorf(conduct.KindValidation,
					"line item %s: quantity must be positive", li.ID)
			}
			if fi.Quantity > li.Quantity {
				return conduct.Errorf(conduct.KindValidation,
					"line item %s: requested %d exceeds ordered quantity %d",
					li.ID, fi.Quantity, li.Quantity)
			}
			if fi.Quantity > li.RemainingShippable() {
				return conduct.Errorf(conduct.KindValidation,
					"line item %s: requested %d exceeds remaining shippable quantity %d",
					li.ID, fi.Quantity, li.RemainingShippable())
			}
			items = append(items, PreparedItem{
				LineItemID:         li.ID,
				Quantity:           fi.Quantity,
				ShippedBefore:      li.ShippedQuantity,
				NewShippedQuantity: li.ShippedQuantity + fi.Quantity,
			})
		}

		key := f.IdempotencyKey
		keyExists := key != ""
		if !keyExists {
			key = order.ShipmentIdempotencyKey(f.ID)
		}

		provider := req.Provider
		if provider == "" {
			provider = f.Provider
		}

		prepared = &PreparedShipment{
			OrderID:          o.ID,
			FulfillmentID:    f.ID,
			IdempotencyKey:   key,
			KeyExists:        keyExists,
			AlreadyPurchased: f.LabelState == order.LabelPurchased && f.Label != nil,
			PurchasedLabel:   labelResultFrom(f.Label),
			Provider:         provider,
			Items:            items,
			Request:          req,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// MarkPending persists the idempotency key and transitions the
// fulfillment to pending-purchase in one short write transaction,
// before any provider call. A crash between this commit and the
// provider call leaves a detectable, resumable state instead of an open
// transaction spanning an HTTP call. MarkPending is a no-op when the
// fulfillment already moved past pending.
func (s *Service) MarkPending(ctx context.Context, p *PreparedShipment) error {
	if p.AlreadyShipped || p.AlreadyPurchased {
		return nil
	}

	return s.store.Update(ctx, func(tx order.Tx) error {
		f, err := tx.Fulfillment(ctx, p.FulfillmentID)
		if err != nil {
			return err
		}
		if f.Canceled() {
			return conduct.Errorf(conduct.KindValidation, "fulfillment %s is canceled", f.ID)
		}

		// The key, once set, never changes for a fulfillment.
		if f.IdempotencyKey != "" && f.IdempotencyKey != p.IdempotencyKey {
			return conduct.Errorf(conduct.KindConflict,
				"fulfillment %s idempotency key mismatch", f.ID)
		}

		switch f.LabelState {
		case order.LabelNone:
			f.IdempotencyKey = p.IdempotencyKey
			f.Provider = p.Provider
			if err := f.TransitionLabel(order.LabelPendingPurchase); err != nil {
				return err
			}
			return tx.SaveFulfillment(ctx, f)
		case order.LabelPendingPurchase, order.LabelPurchased, order.LabelShipped:
			// Already marked by this or a racing attempt; the apply phase
			// resolves who wins.
			return nil
		default:
			return conduct.Errorf(conduct.KindConflict,
				"fulfillment %s label is %s and cannot be marked pending", f.ID, f.LabelState)
		}
	})
}

// PurchaseLabel calls the provider's label purchase API with the
// idempotency key attached. This runs strictly outside any database
// transaction: a slow or failed carrier call must never hold a lock.
func (s *Service) PurchaseLabel(ctx context.Context, p *PreparedShipment) (*carrier.LabelResult, error) {
	provider, err := s.providers.Resolve(p.Provider)
	if err != nil {
		return nil, err
	}

	label, err := provider.CreateLabel(ctx, p.IdempotencyKey, carrier.LabelRequest{
		Reference: p.FulfillmentID.String(),
		Service:   p.Request.Service,
		From:      p.Request.From,
		To:        p.Request.To,
		Parcel:    p.Request.Parcel,
	})
	if err != nil {
		// A failed purchase aborts before any state mutation; nothing to
		// compensate.
		if conduct.KindOf(err) == conduct.KindExternalProvider {
			return nil, err
		}
		return nil, conduct.E(conduct.KindExternalProvider,
			fmt.Sprintf("purchase label for fulfillment %s", p.FulfillmentID), err)
	}

	s.logger.Info("label purchased",
		slog.String("fulfillment_id", p.FulfillmentID.String()),
		slog.String("label_id", label.LabelID),
		slog.String("tracking_number", label.TrackingNumber),
	)
	return label, nil
}

// Apply commits the shipment in one write transaction: it re-loads the
// aggregates fresh, re-checks the guards, records the label, marks the
// fulfillment shipped, updates line item shipped quantities and
// statuses, recomputes the order's aggregate fulfillment status, and
// enqueues outbox events — all atomically. If a racing retry already
// shipped the fulfillment, its existing result is returned with no
// further mutation. Optimistic-lock conflicts on save propagate so the
// caller re-runs prepare→apply from scratch.
func (s *Service) Apply(ctx context.Context, p *PreparedShipment, label *carrier.LabelResult) (*ApplyShipmentResult, error) {
	if p.AlreadyShipped {
		return p.Existing, nil
	}
	if label == nil {
		return nil, conduct.Errorf(conduct.KindValidation,
			"apply for fulfillment %s: no label result", p.FulfillmentID)
	}

	labelPurchased := !p.AlreadyPurchased

	var result *ApplyShipmentResult
	err := s.store.Update(ctx, func(tx order.Tx) error {
		o, err := tx.Order(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if err := o.CanShip(); err != nil {
			return err
		}

		f, err := tx.Fulfillment(ctx, p.FulfillmentID)
		if err != nil {
			return err
		}
		if f.Canceled() {
			return conduct.Errorf(conduct.KindValidation, "fulfillment %s is canceled", f.ID)
		}

		if f.Shipped() {
			// A racing retry completed first; return its result untouched.
			result = resultFromFulfillment(f)
			return nil
		}

		if f.IdempotencyKey != "" && f.IdempotencyKey != p.IdempotencyKey {
			return conduct.Errorf(conduct.KindConflict,
				"fulfillment %s idempotency key mismatch", f.ID)
		}
		if f.IdempotencyKey == "" {
			f.IdempotencyKey = p.IdempotencyKey
		}

		// Walk the label state machine forward to shipped.
		if f.LabelState == order.LabelNone {
			if err := f.TransitionLabel(order.LabelPendingPurchase); err != nil {
				return err
			}
		}
		if f.LabelState == order.LabelPendingPurchase {
			if err := f.TransitionLabel(order.LabelPurchased); err != nil {
				return err
			}
		}

		f.Label = &order.Label{
			LabelID:        label.LabelID,
			TrackingNumber: label.TrackingNumber,
			TrackingURL:    label.TrackingURL,
			LabelURL:       label.LabelURL,
			Carrier:        label.Carrier,
			Service:        label.Service,
			Cost:           label.Cost,
		}
		if err := f.TransitionLabel(order.LabelShipped); err != nil {
			return err
		}
		now := s.now()
		f.ShippedAt = &now

		for _, item := range p.Items {
			li, ok := o.LineItem(item.LineItemID)
			if !ok {
				return conduct.E(conduct.KindNotFound,
					fmt.Sprintf("line item %s on order %s", item.LineItemID, o.ID),
					conduct.ErrLineItemNotFound)
			}
			// The prepare snapshot is not trusted: a concurrent shipment
			// may have consumed quantity since.
			if item.Quantity > li.RemainingShippable() {
				return conduct.Errorf(conduct.KindConflict,
					"line item %s: quantity %d no longer shippable (remaining %d)",
					li.ID, item.Quantity, li.RemainingShippable())
			}
			li.RecordShipped(item.Quantity)
		}

		o.RecomputeFulfillmentStatus()
		o.Touch()

		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.SaveFulfillment(ctx, f); err != nil {
			return err
		}

		correlationID := conduct.CorrelationIDFromContext(ctx)

		created, err := outbox.New(EventShipmentCreated, ShipmentCreatedPayload{
			OrderID:        o.ID,
			FulfillmentID:  f.ID,
			TrackingNumber: label.TrackingNumber,
			Carrier:        label.Carrier,
			Items:          p.Items,
			ShippedAt:      now,
		}, correlationID)
		if err != nil {
			return err
		}
		if err := tx.EnqueueEvent(ctx, created); err != nil {
			return err
		}

		if labelPurchased {
			purchased, err := outbox.New(EventLabelPurchased, LabelPurchasedPayload{
				OrderID:       o.ID,
				FulfillmentID: f.ID,
				LabelID:       label.LabelID,
				Carrier:       label.Carrier,
				Cost:          label.Cost,
			}, correlationID)
			if err != nil {
				return err
			}
			if err := tx.EnqueueEvent(ctx, purchased); err != nil {
				return err
			}
		}

		result = &ApplyShipmentResult{
			FulfillmentID:  f.ID,
			LabelID:        label.LabelID,
			TrackingNumber: label.TrackingNumber,
			TrackingURL:    label.TrackingURL,
			LabelURL:       label.LabelURL,
			Carrier:        label.Carrier,
			Service:        label.Service,
			Cost:           label.Cost,
			ShippedAt:      now,
			LabelPurchased: labelPurchased,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ship runs the full flow: prepare → mark pending → purchase → apply.
// Safe to retry end to end: an already-shipped fulfillment returns its
// existing result, and a re-run after a crash resumes with the same
// idempotency key so the carrier deduplicates the purchase.
func (s *Service) Ship(ctx context.Context, req ShipRequest) (*ApplyShipmentResult, error) {
	prepared, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if prepared.AlreadyShipped {
		return prepared.Existing, nil
	}

	if err := s.MarkPending(ctx, prepared); err != nil {
		return nil, err
	}

	label := prepared.PurchasedLabel
	if !prepared.AlreadyPurchased {
		label, err = s.PurchaseLabel(ctx, prepared)
		if err != nil {
			return nil, err
		}
	}

	return s.Apply(ctx, prepared, label)
}

// resultFromFulfillment rebuilds the apply result recorded on a shipped
// fulfillment. LabelPurchased is false: no provider call happened in
// this invocation.
func resultFromFulfillment(f *order.Fulfillment) *ApplyShipmentResult {
	res := &ApplyShipmentResult{FulfillmentID: f.ID}
	if f.Label != nil {
		res.LabelID = f.Label.LabelID
		res.TrackingNumber = f.Label.TrackingNumber
		res.TrackingURL = f.Label.TrackingURL
		res.LabelURL = f.Label.LabelURL
		res.Carrier = f.Label.Carrier
		res.Service = f.Label.Service
		res.Cost = f.Label.Cost
	}
	if f.ShippedAt != nil {
		res.ShippedAt = *f.ShippedAt
	}
	return res
}

// labelResultFrom converts a persisted label back into the carrier
// result shape, or nil.
func labelResultFrom(l *order.Label) *carrier.LabelResult {
	if l == nil {
		return nil
	}
	return &carrier.LabelResult{
		LabelID:        l.LabelID,
		TrackingNumber: l.TrackingNumber,
		TrackingURL:    l.TrackingURL,
		LabelURL:       l.LabelURL,
		Carrier:        l.Carrier,
		Service:        l.Service,
		Cost:           l.Cost,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
