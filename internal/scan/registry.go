package scan

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages a named collection of scanners that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	scanners map[string]Scanner
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		scanners: make(map[string]Scanner),
	}
}

// Register adds a scanner under its own name. Registering the same name
// twice is a wiring mistake and returns an error.
func (r *Registry) Register(s Scanner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.scanners[name]; exists {
		return fmt.Errorf("scanner %q: already registered", name)
	}
	r.scanners[name] = s
	return nil
}

// Get retrieves a scanner by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Scanner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scanners[name]
	if !ok {
		return nil, fmt.Errorf("scanner %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered scanners in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.scanners))
	for n := range r.scanners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
