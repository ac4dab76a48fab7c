package node

import (
	"fmt"
	"sync"

	"github.com/c360/csp/errors"
	"github.com/c360/csp/value"
)

// Factory constructs a Behavior instance from its graph-build-time config
// blob. Factories perform no I/O; connecting to external systems is the
// adapter layer's job, not a node kind's.
type Factory func(config value.Value) (Behavior, error)

// Registration holds a node kind's factory and descriptive metadata.
type Registration struct {
	Kind        string
	Factory     Factory
	Description string
}

// Registry maps node kind names to factories. The topology builder looks
// up a kind by name for every node spec in the submitted graph document.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Registration)}
}

// Register adds a node kind factory. It fails if the kind name is already
// registered or the factory is nil.
func (r *Registry) Register(reg Registration) error {
	if reg.Kind == "" {
		return errors.WrapInvalid(fmt.Errorf("node kind name is required"), "Registry", "Register", "kind validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(fmt.Errorf("node kind %q: factory is required", reg.Kind), "Registry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Kind]; exists {
		return errors.WrapInvalid(fmt.Errorf("node kind %q already registered", reg.Kind), "Registry", "Register", "duplicate kind check")
	}
	r.factories[reg.Kind] = reg
	return nil
}

// Lookup returns the factory registered for kind.
func (r *Registry) Lookup(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.factories[kind]
	if !ok {
		return nil, false
	}
	return reg.Factory, true
}

// Kinds returns the names of all registered node kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	return kinds
}

// Create builds a Behavior instance of the named kind from config.
func (r *Registry) Create(kind string, config value.Value) (Behavior, error) {
	factory, ok := r.Lookup(kind)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown node kind %q", kind), "Registry", "Create", "factory lookup")
	}
	behavior, err := factory(config)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "factory execution")
	}
	return behavior, nil
}
