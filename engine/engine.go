// Package engine is the entry point for workflow execution. It resolves
// workflows by name, applies correlation and timeout policy through a
// middleware chain, and returns a Result without ever throwing past its
// boundary. An optional idempotency store layers exactly-once semantics
// around invocation for workflows that need it.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/idempotency"
	"github.com/commercekit/conduct/middleware"
	"github.com/commercekit/conduct/workflow"
)

// Engine dispatches workflows by name and owns the middleware chain
// applied around every run.
type Engine struct {
	registry       *workflow.Registry
	runner         *workflow.Runner
	idem           idempotency.Store
	logger         *slog.Logger
	defaultTimeout time.Duration
	idemTTL        time.Duration
	extraMws       []workflow.Interceptor
	instrument     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMiddleware appends interceptors inside the built-in chain
// (after logging/tracing/metrics, before the handler).
func WithMiddleware(mws ...workflow.Interceptor) Option {
	return func(e *Engine) { e.extraMws = append(e.extraMws, mws...) }
}

// WithIdempotencyStore enables ExecuteIdempotent.
func WithIdempotencyStore(s idempotency.Store) Option {
	return func(e *Engine) { e.idem = s }
}

// WithDefaultTimeout bounds runs whose caller supplies no timeout.
// Zero disables the default bound.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithIdempotencyTTL sets how long an in-progress idempotency claim
// blocks duplicate execution.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.idemTTL = ttl }
}

// WithoutInstrumentation disables the OTel tracing and metrics
// interceptors. Logging and timeout enforcement remain.
func WithoutInstrumentation() Option {
	return func(e *Engine) { e.instrument = false }
}

// New creates an Engine persisting run records to the given store.
func New(runs workflow.RunStore, opts ...Option) *Engine {
	e := &Engine{
		registry:       workflow.NewRegistry(),
		logger:         slog.Default(),
		defaultTimeout: 30 * time.Second,
		idemTTL:        5 * time.Minute,
		instrument:     true,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.runner = workflow.NewRunner(e.registry, runs, e.logger)

	chain := []workflow.Interceptor{middleware.Logging(e.logger)}
	if e.instrument {
		chain = append(chain, middleware.Tracing(), middleware.Metrics())
	}
	chain = append(chain, e.extraMws...)
	chain = append(chain, middleware.Timeout(e.defaultTimeout))
	e.runner.SetInterceptor(middleware.Chain(chain...))

	return e
}

// Registry returns the workflow registry for registration.
func (e *Engine) Registry() *workflow.Registry { return e.registry }

// Register registers a typed workflow definition on the engine.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[In, Out any](e *Engine, def *workflow.Definition[In, Out]) {
	workflow.RegisterDefinition(e.registry, def)
}

// ExecOptions carries per-invocation configuration.
type ExecOptions struct {
	// CorrelationID identifies the run in events and logs. A fresh UUID
	// is generated when empty.
	CorrelationID string
	// Timeout bounds this run, overriding the engine default. The
	// deadline is enforced: expiry cancels the run context and the
	// result is a KindTimeout failure.
	Timeout time.Duration
}

// ExecOption configures one execution.
type ExecOption func(*ExecOptions)

// WithCorrelationID sets the caller-supplied correlation identifier.
func WithCorrelationID(correlationID string) ExecOption {
	return func(o *ExecOptions) { o.CorrelationID = correlationID }
}

// WithTimeout bounds this run with a hard deadline.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *ExecOptions) { o.Timeout = d }
}

// Execute runs the named workflow synchronously with raw JSON input and
// returns its sealed Result. An unregistered name yields a KindNotFound
// failure; no path panics or returns a raw error.
func (e *Engine) Execute(ctx context.Context, name string, input []byte, opts ...ExecOption) workflow.Result[[]byte] {
	var o ExecOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.CorrelationID == "" {
		o.CorrelationID = uuid.NewString()
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	run, err := e.runner.ExecuteRaw(ctx, name, input, o.CorrelationID)
	if err != nil {
		return workflow.Failure[[]byte](err)
	}
	return workflow.Success(run.Output)
}

// ExecuteIdempotent is Execute guarded by an idempotency key: a key seen
// before in a terminal success short-circuits to the cached result, and
// a key currently in flight fails with ErrKeyInProgress (KindConflict)
// so duplicates never double-execute. Failed runs release the key,
// allowing a clean retry.
func (e *Engine) ExecuteIdempotent(ctx context.Context, key, name string, input []byte, opts ...ExecOption) workflow.Result[[]byte] {
	if e.idem == nil {
		return workflow.Failure[[]byte](conduct.Errorf(conduct.KindInternal, "engine: no idempotency store configured"))
	}

	claim, err := e.idem.Begin(ctx, key, e.idemTTL)
	if err != nil {
		return workflow.Failure[[]byte](fmt.Errorf("engine: claim idempotency key %q: %w", key, err))
	}

	switch claim.State {
	case idempotency.StateCompleted:
		e.logger.Debug("idempotent short-circuit",
			slog.String("workflow", name),
			slog.String("key", key),
		)
		return workflow.Success(claim.Result)
	case idempotency.StateInProgress:
		return workflow.Failure[[]byte](conduct.E(conduct.KindConflict,
			fmt.Sprintf("workflow %q key %q", name, key), conduct.ErrKeyInProgress))
	}

	res := e.Execute(ctx, name, input, opts...)

	if res.Failed() {
		if failErr := e.idem.Fail(ctx, key); failErr != nil {
			e.logger.Error("failed to release idempotency key",
				slog.String("key", key),
				slog.String("error", failErr.Error()),
			)
		}
		return res
	}

	if compErr := e.idem.Complete(ctx, key, res.Data); compErr != nil {
		e.logger.Error("failed to record idempotency result",
			slog.String("key", key),
			slog.String("error", compErr.Error()),
		)
	}
	return res
}

// Run executes a workflow with typed input and output. The input is
// JSON-marshaled for the run record; the output is decoded from the raw
// result.
func Run[In, Out any](ctx context.Context, e *Engine, name string, input In, opts ...ExecOption) workflow.Result[Out] {
	data, err := json.Marshal(input)
	if err != nil {
		return workflow.Failure[Out](fmt.Errorf("marshal input for workflow %q: %w", name, err))
	}

	raw := e.Execute(ctx, name, data, opts...)
	if raw.Failed() {
		return workflow.Failure[Out](raw.Err)
	}

	var out Out
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &out); err != nil {
			return workflow.Failure[Out](fmt.Errorf("decode output for workflow %q: %w", name, err))
		}
	}
	return workflow.Success(out)
}
