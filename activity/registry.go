package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler is a type-erased activity handler operating on raw JSON.
// Typed Definition[I, O] values are converted to Handlers at
// registration time by closing over JSON marshal/unmarshal.
type Handler func(ctx context.Context, input []byte) ([]byte, error)

// registration pairs a handler with its options.
type registration struct {
	handler Handler
	opts    Options
}

// Registry maps activity names to handlers and their options.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry creates an empty activity registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]registration),
	}
}

// RegisterDefinition registers a typed activity definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into I
// and marshals the output. Registering the same name twice replaces the
// earlier registration.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[I, O any](r *Registry, def *Definition[I, O]) {
	handler := func(ctx context.Context, input []byte) ([]byte, error) {
		var in I
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, Terminal(fmt.Errorf("unmarshal input for activity %q: %w", def.Name, err))
			}
		}
		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, Terminal(fmt.Errorf("marshal output for activity %q: %w", def.Name, err))
		}
		return data, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = registration{handler: handler, opts: def.Opts}
}

// Get returns the handler and options for the given activity name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (Handler, Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name]
	return reg.handler, reg.opts, ok
}

// Names returns all registered activity names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
