package workflow

// Definition is a typed workflow definition with a handler function.
// In is the input type, Out the output type; both must be
// JSON-serializable for Run.Input/Run.Output storage.
type Definition[In, Out any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Handler executes the workflow logic. It receives a *Context which
	// provides Step, StepWithCompensation, and the result helpers.
	Handler func(wf *Context, input In) (Out, error)
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[In, Out any](name string, handler func(wf *Context, input In) (Out, error)) *Definition[In, Out] {
	return &Definition[In, Out]{
		Name:    name,
		Handler: handler,
	}
}
