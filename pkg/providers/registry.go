package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured providers and the process-wide current
// selection. The pipeline snapshots Current() once per invocation, so a
// mid-flight /provider set only affects subsequent invocations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Generator
	current   string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Generator)}
}

func (r *Registry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[g.Name()] = g
	if r.current == "" {
		r.current = g.Name()
	}
}

func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return g, nil
}

// Current returns the name of the currently selected provider.
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetCurrent switches the default provider for subsequent invocations.
func (r *Registry) SetCurrent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	r.current = name
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
