// This file contains the handler registry mapping message names to handlers.
package duplex

import (
	"fmt"
	"sync"
)

// Registry maps a message name to exactly one handler. Registration normally
// happens before the channel starts its receive loop; the map is guarded so
// late registration stays safe against concurrent lookups.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds name to handler. A second registration under the same name
// fails with ErrDuplicateHandler and the first handler is retained.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%q: %w", name, ErrDuplicateHandler)
	}
	r.handlers[name] = handler
	return nil
}

// Unregister removes the handler for name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[name]
	return handler, exists
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
