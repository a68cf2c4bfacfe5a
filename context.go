package conduct

import "context"

type correlationKey struct{}

// ContextWithCorrelationID returns a context carrying the correlation
// identifier of a workflow run. The runner installs it before invoking
// handlers so services can stamp outbox events without widening their
// signatures.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationIDFromContext extracts the correlation identifier, or ""
// when the context carries none.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
