package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/workflow"
)

// Timeout returns an interceptor that enforces an execution deadline on
// every run that does not already carry one. The deadline is a hard
// bound: when it expires the run's context is cancelled and the failure
// is classified as conduct.KindTimeout. Steps that ignore their context
// can still overrun, but the run outcome is sealed at the deadline.
func Timeout(d time.Duration) workflow.Interceptor {
	return func(ctx context.Context, run *workflow.Run, next workflow.Handler) error {
		if d > 0 {
			if _, has := ctx.Deadline(); !has {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
		}

		err := next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return conduct.E(conduct.KindTimeout, "workflow "+run.Name+" timed out", err)
		}
		return err
	}
}
