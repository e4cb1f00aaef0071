package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/sqjobs"
)

// Registry maps job names to definitions. Registration happens before
// polling starts; once sealed the registry is read-only.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	sealed bool
}

// NewRegistry creates a registry holding defs.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" || def.Handler == nil {
		return errors.New("sqjobs/job: definition needs a name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("sqjobs/job: register %q: %w", def.Name, sqjobs.ErrRegistrySealed)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("sqjobs/job: register %q: %w", def.Name, sqjobs.ErrDuplicateJob)
	}
	r.defs[def.Name] = def
	return nil
}

// Seal stops further registration. Workers seal the registry they are
// given when they start polling.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
