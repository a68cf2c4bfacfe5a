// Package workflow defines the saga-style execution core: typed workflow
// definitions, named steps with optional compensation, run records, and
// the registry/runner pair that dispatches workflows by name.
//
// Steps execute strictly in the order the handler calls them. When a
// later step fails, compensations registered by earlier steps run in
// reverse completion order (stack unwind). Compensation failures are
// logged, never propagated; the original failure is what the caller sees.
//
// Handlers pass intermediate results between steps as typed locals
// captured by closures, so inter-step data never goes through an untyped
// bag and cannot fail a runtime cast.
package workflow
