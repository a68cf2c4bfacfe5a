package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Compensation is an undo action registered by a completed step. When a
// later step fails, registered compensations run in reverse order.
type Compensation struct {
	StepName   string
	Compensate func(ctx context.Context) error
}

// Step executes a named step function. On failure the error is wrapped
// with the workflow and step names and returned; the handler should
// propagate it so the runner can unwind compensations.
func (w *Context) Step(name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if err := fn(w.ctx); err != nil {
		w.logger.Warn("step failed",
			slog.String("workflow", w.run.Name),
			slog.String("step", name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, err)
	}

	w.logger.Debug("step completed",
		slog.String("workflow", w.run.Name),
		slog.String("step", name),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// StepWithResult executes a named step that returns a typed value.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](w *Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	start := time.Now()
	result, err := fn(w.ctx)
	if err != nil {
		w.logger.Warn("step failed",
			slog.String("workflow", w.run.Name),
			slog.String("step", name),
			slog.String("error", err.Error()),
		)
		return zero, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, err)
	}

	w.logger.Debug("step completed",
		slog.String("workflow", w.run.Name),
		slog.String("step", name),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// StepWithCompensation executes a named step with an associated
// compensation function. If the step succeeds, the compensation is pushed
// onto a LIFO stack. When the workflow fails later, registered
// compensations run in reverse order to undo completed work.
func (w *Context) StepWithCompensation(
	name string,
	execute func(ctx context.Context) error,
	compensate func(ctx context.Context) error,
) error {
	if err := w.Step(name, execute); err != nil {
		return err
	}
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return nil
}

// StepWithResultAndCompensation executes a named step that returns a
// typed value, with an associated compensation function.
func StepWithResultAndCompensation[T any](
	w *Context,
	name string,
	execute func(ctx context.Context) (T, error),
	compensate func(ctx context.Context) error,
) (T, error) {
	result, err := StepWithResult(w, name, execute)
	if err != nil {
		return result, err
	}
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return result, nil
}

// Compensations returns the compensation stack in registration order.
func (w *Context) Compensations() []Compensation {
	return w.compensations
}

// RunCompensations executes all registered compensations in reverse
// order. Each compensation runs exactly once; a panicking or failing
// compensation is recorded and the unwind continues with the next one.
// The joined errors are returned for logging only — the runner never
// propagates them to the caller, whose failure is the original step error.
func (w *Context) RunCompensations() error {
	var errs []error

	for i := len(w.compensations) - 1; i >= 0; i-- {
		comp := w.compensations[i]
		if comp.Compensate == nil {
			continue
		}

		w.logger.Info("compensating step",
			slog.String("workflow", w.run.Name),
			slog.String("step", comp.StepName),
		)

		if err := w.runCompensation(comp); err != nil {
			w.logger.Error("compensation failed",
				slog.String("workflow", w.run.Name),
				slog.String("step", comp.StepName),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("compensate %q: %w", comp.StepName, err))
		}
	}

	w.compensations = nil
	return errors.Join(errs...)
}

// runCompensation invokes one compensation, converting a panic into an
// error so a bad undo action cannot abort the unwind.
func (w *Context) runCompensation(comp Compensation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return comp.Compensate(w.ctx)
}
