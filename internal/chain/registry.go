package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dielemma/custody/internal/custody"
)

// Registry selects the adapter for a chain+network pair. Adapters are
// constructed once at wiring time and registered; lookups are read-mostly.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func key(c Chain, n Network) string {
	return string(c) + "/" + string(n)
}

// Register adds an adapter, replacing any previous registration for the same
// chain+network pair.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[key(a.Chain(), a.Network())] = a
}

// Get returns the adapter for the pair, or a ValidationError when the pair
// is unknown.
func (r *Registry) Get(c Chain, n Network) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[key(c, n)]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s/%s", custody.ErrValidation, c, n)
	}
	return a, nil
}

// Pairs lists registered chain/network pairs, sorted for stable output.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns every registered adapter in pair order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Adapter, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.adapters[k])
	}
	return out
}
