package capture

import (
	"fmt"
	"sync"
)

// Registry holds the capture backends known to the process, in
// registration order.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	order    []string
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend under its Name. Registering a name twice replaces
// the earlier backend and keeps its position.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	if _, ok := r.backends[name]; !ok {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
}

// Get returns a backend by name, or false if not found.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered backend names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Describe returns one line per backend with its availability.
func (r *Registry) Describe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		status := "available"
		if p, ok := r.backends[name].(Prober); ok {
			if err := p.Available(); err != nil {
				status = "unavailable: " + err.Error()
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, status))
	}
	return lines
}
