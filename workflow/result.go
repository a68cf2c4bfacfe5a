package workflow

import "github.com/commercekit/conduct"

// Result is the terminal outcome of a workflow execution: either a
// success carrying typed data, or a failure carrying the error. The
// engine guarantees every execution path produces a Result — errors and
// panics never escape the engine boundary.
type Result[T any] struct {
	Data T
	Err  error
}

// Success wraps data in a successful Result.
func Success[T any](data T) Result[T] {
	return Result[T]{Data: data}
}

// Failure wraps an error in a failed Result.
func Failure[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Failed reports whether the execution failed.
func (r Result[T]) Failed() bool { return r.Err != nil }

// Kind classifies the failure. Returns conduct.KindInternal for a
// successful result; check Failed first.
func (r Result[T]) Kind() conduct.Kind { return conduct.KindOf(r.Err) }

// Unwrap returns the data and error as a conventional Go pair.
func (r Result[T]) Unwrap() (T, error) { return r.Data, r.Err }
