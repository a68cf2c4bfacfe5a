package shipping

import (
	"context"
	"log/slog"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/order"
	"github.com/commercekit/conduct/outbox"
)

// RequestVoid records the intent to void a fulfillment's label in a
// short write transaction, before the provider call. The transition to
// void-requested makes a crash between commit and provider call
// detectable. Returns the label and provider to void against.
func (s *Service) RequestVoid(ctx context.Context, req VoidRequest) (labelID, provider string, err error) {
	err = s.store.Update(ctx, func(tx order.Tx) error {
		f, txErr := tx.Fulfillment(ctx, req.FulfillmentID)
		if txErr != nil {
			return txErr
		}
		if f.Label == nil || f.Label.LabelID == "" {
			return conduct.Errorf(conduct.KindValidation,
				"fulfillment %s has no label to void", f.ID)
		}
		if f.LabelState == order.LabelVoided {
			// Already voided; nothing left to do.
			labelID = ""
			provider = ""
			return nil
		}
		if f.LabelState != order.LabelVoidRequested {
			if txErr := f.TransitionLabel(order.LabelVoidRequested); txErr != nil {
				return txErr
			}
			if txErr := tx.SaveFulfillment(ctx, f); txErr != nil {
				return txErr
			}
		}
		labelID = f.Label.LabelID
		provider = f.Provider
		return nil
	})
	return labelID, provider, err
}

// ApplyVoid commits the outcome of a provider void call. A successful
// void transitions to voided and enqueues a voided event; a provider
// rejection transitions to void-failed and enqueues a void-failed event
// flagged for manual intervention. Both outcomes commit: the rejection
// is a terminal business result, not a transient error.
func (s *Service) ApplyVoid(ctx context.Context, req VoidRequest, voided bool, refundAmount int64, reason string) (*VoidOutcome, error) {
	var outcome *VoidOutcome

	err := s.store.Update(ctx, func(tx order.Tx) error {
		f, err := tx.Fulfillment(ctx, req.FulfillmentID)
		if err != nil {
			return err
		}

		if f.LabelState == order.LabelVoided {
			outcome = &VoidOutcome{
				FulfillmentID: f.ID,
				Voided:        true,
			}
			if f.Label != nil {
				outcome.LabelID = f.Label.LabelID
			}
			return nil
		}
		if f.LabelState != order.LabelVoidRequested {
			return conduct.Errorf(conduct.KindConflict,
				"fulfillment %s label is %s, expected %s",
				f.ID, f.LabelState, order.LabelVoidRequested)
		}

		correlationID := conduct.CorrelationIDFromContext(ctx)
		var labelID string
		if f.Label != nil {
			labelID = f.Label.LabelID
		}

		if voided {
			if err := f.TransitionLabel(order.LabelVoided); err != nil {
				return err
			}
			now := s.now()
			f.CanceledAt = &now
			if err := tx.SaveFulfillment(ctx, f); err != nil {
				return err
			}

			evt, err := outbox.New(EventLabelVoided, LabelVoidedPayload{
				OrderID:       f.OrderID,
				FulfillmentID: f.ID,
				LabelID:       labelID,
				RefundAmount:  refundAmount,
			}, correlationID)
			if err != nil {
				return err
			}
			if err := tx.EnqueueEvent(ctx, evt); err != nil {
				return err
			}

			outcome = &VoidOutcome{
				FulfillmentID: f.ID,
				LabelID:       labelID,
				Voided:        true,
				RefundAmount:  refundAmount,
			}
			return nil
		}

		if err := f.TransitionLabel(order.LabelVoidFailed); err != nil {
			return err
		}
		if err := tx.SaveFulfillment(ctx, f); err != nil {
			return err
		}

		evt, err := outbox.New(EventLabelVoidFailed, LabelVoidFailedPayload{
			OrderID:                    f.OrderID,
			FulfillmentID:              f.ID,
			LabelID:                    labelID,
			Error:                      reason,
			RequiresManualIntervention: true,
		}, correlationID)
		if err != nil {
			return err
		}
		if err := tx.EnqueueEvent(ctx, evt); err != nil {
			return err
		}

		outcome = &VoidOutcome{
			FulfillmentID:              f.ID,
			LabelID:                    labelID,
			Voided:                     false,
			Error:                      reason,
			RequiresManualIntervention: true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// VoidLabel runs the full void flow: request → provider call → apply.
// A provider-side rejection is recorded as a failed void, not returned
// as an error. A transport failure before any answer leaves the
// fulfillment in void-requested so the flow can be retried.
func (s *Service) VoidLabel(ctx context.Context, req VoidRequest) (*VoidOutcome, error) {
	labelID, providerName, err := s.RequestVoid(ctx, req)
	if err != nil {
		return nil, err
	}
	if labelID == "" {
		// Already voided.
		return s.ApplyVoid(ctx, req, true, 0, "")
	}

	provider, err := s.providers.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := provider.VoidLabel(ctx, labelID)
	if err != nil {
		s.logger.Error("void label call failed",
			slog.String("fulfillment_id", req.FulfillmentID.String()),
			slog.String("label_id", labelID),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return nil, err
	}

	if res.Success {
		return s.ApplyVoid(ctx, req, true, res.RefundAmount, "")
	}
	return s.ApplyVoid(ctx, req, false, 0, res.Error)
}
