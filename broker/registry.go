package broker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh, not-yet-logged-in broker handle.
type Factory func() Broker

// Registry maps broker names to factories. Lookups are case-sensitive and
// names are registered lowercase.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty broker registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a broker factory under the given name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a new handle for the named broker.
func (r *Registry) Create(name string) (Broker, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown broker: %s", name)
	}
	return factory(), nil
}

// Names returns all registered broker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
