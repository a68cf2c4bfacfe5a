// Package conduct is an in-process workflow orchestration core for
// commerce backends. It provides a saga-style step engine with
// compensation, a two-phase transactional pattern for operations that
// mix an external provider call with local state mutation (shipping
// label purchase), and a transactional outbox for emitting events
// atomically with state changes.
//
// The root package holds shared primitives: entity timestamps, the
// error-kind taxonomy, and process configuration. Subsystems live in
// their own packages:
//
//   - workflow  — steps, compensation, run records, registry
//   - engine    — name dispatch, timeout, middleware, idempotent execution
//   - order     — order/fulfillment aggregates and the store boundary
//   - shipping  — the two-phase label purchase and void service
//   - carrier   — shipping provider interface, registry, REST client
//   - outbox    — transactional event enqueue and the dispatcher
//   - event     — in-process bus fed by the outbox dispatcher
//   - store/*   — memory, postgres (pgx), sqlite store implementations
package conduct
