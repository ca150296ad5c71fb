package saga

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Definition is a typed saga definition with a handler function.
// T is the input type (must be JSON-serializable for Run.Input storage).
type Definition[T any] struct {
	// Name is the unique identifier for this saga type.
	Name string

	// Handler is the function that executes the saga logic. It
	// receives an *Execution which provides Step, ExecuteActivity,
	// WaitForSignal, and Sleep.
	Handler func(ex *Execution, input T) error
}

// NewSaga creates a typed saga definition.
func NewSaga[T any](name string, handler func(ex *Execution, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}

// HandlerFunc is a type-erased saga handler that accepts raw JSON input.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ex *Execution, input []byte) error

// Registry maps saga names to handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty saga registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed saga definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into T
// before calling the typed handler. Registering the same name twice
// replaces the earlier registration.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ex *Execution, input []byte) error {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return fmt.Errorf("unmarshal input for saga %q: %w", def.Name, err)
			}
		}
		return def.Handler(ex, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
}

// Get returns the handler for the given saga name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered saga names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
