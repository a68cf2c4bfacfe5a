package workflow

import (
	"context"
	"log/slog"
)

// Context is the execution context passed to workflow handler functions.
// It carries the correlation ID for the run, a logger, and the
// compensation stack accumulated by completed steps.
type Context struct {
	ctx           context.Context
	run           *Run
	logger        *slog.Logger
	compensations []Compensation
}

// NewContext creates a workflow execution context. This is called by the
// Runner, not by users.
func NewContext(ctx context.Context, run *Run, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		ctx:    ctx,
		run:    run,
		logger: logger.With(slog.String("correlation_id", run.CorrelationID)),
	}
}

// Context returns the underlying context.Context. It carries the run's
// deadline when the engine enforces a timeout.
func (w *Context) Context() context.Context { return w.ctx }

// Run returns the workflow run record.
func (w *Context) Run() *Run { return w.run }

// CorrelationID returns the identifier propagated into every event and
// log line emitted during this run.
func (w *Context) CorrelationID() string { return w.run.CorrelationID }

// Logger returns a logger scoped to this run.
func (w *Context) Logger() *slog.Logger { return w.logger }
