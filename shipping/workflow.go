package shipping

import (
	"context"
	"log/slog"

	"github.com/commercekit/conduct/carrier"
	"github.com/commercekit/conduct/engine"
	"github.com/commercekit/conduct/workflow"
)

// Workflow names registered by this package.
const (
	WorkflowShip = "fulfillment.ship"
	WorkflowVoid = "fulfillment.void_label"
)

// RegisterWorkflows wires the ship and void flows into the engine as
// saga workflows. The ship workflow registers a compensation on the
// purchase step: if the apply transaction fails after money was spent
// on a label, the unwind voids it best-effort.
func RegisterWorkflows(e *engine.Engine, svc *Service) {
	engine.Register(e, shipWorkflow(svc))
	engine.Register(e, voidWorkflow(svc))
}

func shipWorkflow(svc *Service) *workflow.Definition[ShipRequest, ApplyShipmentResult] {
	return workflow.NewWorkflow(WorkflowShip,
		func(wf *workflow.Context, req ShipRequest) (ApplyShipmentResult, error) {
			var zero ApplyShipmentResult

			prepared, err := workflow.StepWithResult(wf, "prepare",
				func(ctx context.Context) (*PreparedShipment, error) {
					return svc.Prepare(ctx, req)
				})
			if err != nil {
				return zero, err
			}
			if prepared.AlreadyShipped {
				return *prepared.Existing, nil
			}

			if err := wf.Step("mark_pending", func(ctx context.Context) error {
				return svc.MarkPending(ctx, prepared)
			}); err != nil {
				return zero, err
			}

			label := prepared.PurchasedLabel
			if !prepared.AlreadyPurchased {
				label, err = workflow.StepWithResultAndCompensation(wf, "purchase_label",
					func(ctx context.Context) (*carrier.LabelResult, error) {
						res, err := svc.PurchaseLabel(ctx, prepared)
						if err != nil {
							return nil, err
						}
						// Stash for the compensation closure.
						prepared.PurchasedLabel = res
						return res, nil
					},
					func(ctx context.Context) error {
						return svc.voidPurchasedLabel(ctx, prepared)
					})
				if err != nil {
					return zero, err
				}
			}

			result, err := workflow.StepWithResult(wf, "apply",
				func(ctx context.Context) (*ApplyShipmentResult, error) {
					return svc.Apply(ctx, prepared, label)
				})
			if err != nil {
				return zero, err
			}
			return *result, nil
		})
}

func voidWorkflow(svc *Service) *workflow.Definition[VoidRequest, VoidOutcome] {
	return workflow.NewWorkflow(WorkflowVoid,
		func(wf *workflow.Context, req VoidRequest) (VoidOutcome, error) {
			outcome, err := workflow.StepWithResult(wf, "void_label",
				func(ctx context.Context) (*VoidOutcome, error) {
					return svc.VoidLabel(ctx, req)
				})
			if err != nil {
				return VoidOutcome{}, err
			}
			return *outcome, nil
		})
}

// voidPurchasedLabel is the compensation for a purchase whose apply
// phase never committed. It voids directly against the provider rather
// than through the state machine, because the fulfillment never reached
// a purchased state in the database.
func (s *Service) voidPurchasedLabel(ctx context.Context, p *PreparedShipment) error {
	if p.PurchasedLabel == nil {
		return nil
	}

	provider, err := s.providers.Resolve(p.Provider)
	if err != nil {
		return err
	}

	labelID := p.PurchasedLabel.LabelID
	res, err := provider.VoidLabel(ctx, labelID)
	if err != nil {
		return err
	}
	if !res.Success {
		s.logger.Warn("compensating void rejected by provider",
			slog.String("fulfillment_id", p.FulfillmentID.String()),
			slog.String("label_id", labelID),
			slog.String("reason", res.Error),
		)
	}
	return nil
}
