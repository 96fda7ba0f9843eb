// Package providers binds LLM backends to the gateway's invocation contract:
// the generic Adapter, provider configuration resolution, and the factory
// that instantiates backends by type.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"llmgate/internal/core"
)

// Builder creates a backend from resolved configuration
type Builder func(cfg ProviderConfig) (core.Backend, error)

// Registration describes one backend type. Backend packages export a
// Registration value which the application adds to its factory.
type Registration struct {
	Type string
	// DefaultModel is used when neither the config nor the request names one
	DefaultModel string
	New          Builder
}

// ProviderFactory creates adapters from registered backend types
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[string]Registration
}

// NewProviderFactory creates an empty factory
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[string]Registration)}
}

// Add registers a backend type. A later registration for the same type wins.
func (f *ProviderFactory) Add(reg Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[reg.Type] = reg
}

// Create instantiates the backend for cfg.Type and wraps it in an Adapter.
func (f *ProviderFactory) Create(cfg ProviderConfig) (*Adapter, error) {
	f.mu.RLock()
	reg, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	if cfg.Model == "" {
		cfg.Model = reg.DefaultModel
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}

	backend, err := reg.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", name, err)
	}
	adapter, err := NewAdapter(name, cfg.Model, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return adapter, nil
}

// ListRegistered returns a sorted list of all registered provider types
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
