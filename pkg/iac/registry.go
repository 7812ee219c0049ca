package iac

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a runner.
type Factory func(opts RunnerOptions) (Runner, error)

// Registry maps runner names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns the registry runners add themselves to in init().
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a factory to the default registry.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

// Create builds a runner from the default registry.
func Create(name string, opts RunnerOptions) (Runner, error) {
	return defaultRegistry.Get(name, opts)
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get creates the named runner.
func (r *Registry) Get(name string, opts RunnerOptions) (Runner, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown runner: %s", name)
	}
	return factory(opts)
}

// List returns the registered runner names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
