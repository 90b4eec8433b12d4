package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a provider from a configuration map.
type Factory func(config map[string]any) (Provider, error)

// Registry manages LLM provider factories and instances
type Registry struct {
	factories map[string]Factory
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory registers a provider factory under a name
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a provider from its registered factory
func (r *Registry) Create(name string, config map[string]any) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no factory registered for provider '%s'", name)
	}

	return factory(config)
}

// Register registers a provider instance
func (r *Registry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Get retrieves a provider instance by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider '%s' not found", name)
	}

	return provider, nil
}

// Has checks if a provider instance is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// List returns all registered provider names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Global registry
var globalRegistry = NewRegistry()

// RegisterFactory registers a provider factory globally
func RegisterFactory(name string, factory Factory) {
	globalRegistry.RegisterFactory(name, factory)
}

// Create builds a provider from the global registry's factories
func Create(name string, config map[string]any) (Provider, error) {
	return globalRegistry.Create(name, config)
}

// Register registers a provider instance globally
func Register(name string, provider Provider) {
	globalRegistry.Register(name, provider)
}

// Get retrieves a provider from the global registry
func Get(name string) (Provider, error) {
	return globalRegistry.Get(name)
}

// Has checks if a provider exists in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// List returns all registered provider names from the global registry
func List() []string {
	return globalRegistry.List()
}
