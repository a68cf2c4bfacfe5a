package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
)

// RunnerFunc is a type-erased workflow runner that accepts raw JSON
// input and returns raw JSON output. Typed Definitions are converted to
// RunnerFuncs at registration time by closing over JSON codec + handler.
type RunnerFunc func(wf *Context, input []byte) ([]byte, error)

// Registry maps workflow names to runner functions. Registering the
// same name again replaces the previous runner. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]RunnerFunc
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]RunnerFunc),
	}
}

// RegisterDefinition registers a typed workflow definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into In
// before calling the typed handler and marshals the Out result back.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[In, Out any](r *Registry, def *Definition[In, Out]) {
	runner := func(wf *Context, input []byte) ([]byte, error) {
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err)
			}
		}

		out, err := def.Handler(wf, in)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal output for workflow %q: %w", def.Name, err)
		}
		return data, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[def.Name] = runner
}

// Get returns the runner for the given workflow name.
// Returns false if no runner is registered.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.runners[name]
	return fn, ok
}

// Names returns all registered workflow names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	return names
}
