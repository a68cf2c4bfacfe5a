package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
)

// Handler is the innermost unit an Interceptor wraps: one workflow
// execution bound to its run.
type Handler func(ctx context.Context) error

// Interceptor wraps workflow execution, middleware-style. Interceptors
// MUST call next to continue the chain unless intentionally
// short-circuiting.
type Interceptor func(ctx context.Context, run *Run, next Handler) error

// Runner orchestrates workflow execution: creating run records, building
// the execution Context, invoking handlers, unwinding compensations on
// failure, and sealing run state.
type Runner struct {
	registry    *Registry
	store       RunStore
	logger      *slog.Logger
	interceptor Interceptor
}

// NewRunner creates a workflow runner.
func NewRunner(registry *Registry, store RunStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// SetInterceptor installs the middleware chain applied around every
// execution. The engine calls this once during construction.
func (r *Runner) SetInterceptor(i Interceptor) { r.interceptor = i }

// ExecuteRaw runs the named workflow synchronously with pre-serialized
// JSON input. The returned Run is always non-nil when the workflow name
// resolved; its State, Output, and Error reflect the sealed outcome.
//
// The returned error is the handler's failure (or lookup failure) — the
// engine converts it into a Result. Panics inside the handler are
// recovered and returned as errors so nothing escapes this boundary,
// and compensations unwind for panics exactly as for errors.
func (r *Runner) ExecuteRaw(ctx context.Context, name string, input []byte, correlationID string) (*Run, error) {
	fn, ok := r.registry.Get(name)
	if !ok {
		return nil, conduct.E(conduct.KindNotFound, fmt.Sprintf("workflow %q", name), conduct.ErrWorkflowNotFound)
	}

	run := &Run{
		Entity:        conduct.NewEntity(),
		ID:            id.NewRunID(),
		Name:          name,
		State:         RunStateRunning,
		CorrelationID: correlationID,
		Input:         input,
		StartedAt:     time.Now().UTC(),
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	var output []byte
	invoke := func(ctx context.Context) error {
		ctx = conduct.ContextWithCorrelationID(ctx, run.CorrelationID)
		wf := NewContext(ctx, run, r.logger)

		out, err := safeRun(wf, fn, input)
		if err != nil {
			if len(wf.Compensations()) > 0 {
				r.logger.Info("unwinding saga compensations",
					slog.String("run_id", run.ID.String()),
					slog.Int("count", len(wf.Compensations())),
				)
				if compErr := wf.RunCompensations(); compErr != nil {
					r.logger.Error("compensation errors during workflow failure",
						slog.String("run_id", run.ID.String()),
						slog.String("error", compErr.Error()),
					)
				}
			}
			return err
		}

		output = out
		return nil
	}

	var err error
	if r.interceptor != nil {
		err = r.interceptor(ctx, run, invoke)
	} else {
		err = invoke(ctx)
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Touch()

	if err != nil {
		run.State = RunStateFailed
		run.Error = err.Error()
	} else {
		run.State = RunStateCompleted
		run.Output = output
	}

	if updateErr := r.store.UpdateRun(ctx, run); updateErr != nil {
		r.logger.Error("failed to seal run state",
			slog.String("run_id", run.ID.String()),
			slog.String("state", string(run.State)),
			slog.String("error", updateErr.Error()),
		)
	}

	return run, err
}

// safeRun invokes the runner function, converting a panic into an error
// so the compensation unwind and run sealing still happen.
func safeRun(wf *Context, fn RunnerFunc, input []byte) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = conduct.Errorf(conduct.KindInternal, "workflow %s panicked: %v", wf.run.Name, rec)
		}
	}()
	return fn(wf, input)
}
