package analyzer

import (
	"fmt"
	"sync"

	"github.com/mailaudit/mailaudit/internal/model"
)

// Registry holds the registered prober for each check kind.
type Registry struct {
	mu      sync.RWMutex
	probers map[model.CheckKind]Prober
}

// NewRegistry creates an empty prober registry.
func NewRegistry() *Registry {
	return &Registry{
		probers: make(map[model.CheckKind]Prober),
	}
}

// Register adds a prober for the given check kind, replacing any existing one.
func (r *Registry) Register(kind model.CheckKind, p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[kind] = p
}

// Resolve returns the prober registered for the given check kind.
func (r *Registry) Resolve(kind model.CheckKind) (Prober, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.probers[kind]
	if !ok {
		return nil, fmt.Errorf("no prober registered for check kind %q", kind)
	}
	return p, nil
}

// Kinds returns the registered check kinds in the canonical model order,
// for a stable API response.
func (r *Registry) Kinds() []model.CheckKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.CheckKind, 0, len(r.probers))
	for _, k := range model.Kinds {
		if _, ok := r.probers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
