// Package middleware provides composable interceptors for workflow
// execution. An interceptor wraps a run synchronously and can modify
// execution (log, bound with a deadline, add tracing or metrics).
//
// Interceptors compose with [Chain] and are applied right-to-left: the
// first in the list is the outermost wrapper.
package middleware

import (
	"context"

	"github.com/commercekit/conduct/workflow"
)

// Chain composes multiple interceptors into a single workflow.Interceptor.
//
// Example: Chain(logging, tracing, metrics) executes as:
//
//	logging → tracing → metrics → handler
func Chain(mws ...workflow.Interceptor) workflow.Interceptor {
	return func(ctx context.Context, run *workflow.Run, next workflow.Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, run, prev)
			}
		}
		return h(ctx)
	}
}
