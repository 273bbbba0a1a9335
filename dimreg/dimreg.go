// Package dimreg holds in-memory dimension key caches: business key ->
// surrogate id maps, one per dimension, looked up by name.
//
// A Registry is an explicit value handed to the code that needs it. There is
// no package-level default.
package dimreg

import (
	"context"
	"fmt"
	"sync"

	"dimload/stage"
)

// Lookup maps normalized business keys (stage.NormalizeKey form) to
// surrogate ids.
type Lookup map[string]int64

// DimensionSpec names one dimension table to prewarm from.
type DimensionSpec struct {
	// Name is the registry key the cache is stored under.
	Name string

	// Table, KeyColumn and ValueColumn locate the key -> id pairs.
	Table       string
	KeyColumn   string
	ValueColumn string
}

// Registry is a set of named dimension caches, safe for concurrent use.
// The zero value is not usable; call New.
type Registry struct {
	mu   sync.RWMutex
	dims map[string]Lookup
}

func New() *Registry {
	return &Registry{dims: make(map[string]Lookup)}
}

// Register stores lookup under name, replacing any existing entry. Reloading
// a dimension re-registers it with the fresh map. The registry takes
// ownership of lookup; callers must not mutate it afterwards.
func (r *Registry) Register(name string, lookup Lookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dims[name] = lookup
}

// Lookup returns the cache registered under name.
func (r *Registry) Lookup(name string) (Lookup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.dims[name]
	if !ok {
		return nil, fmt.Errorf("dimension %q not registered", name)
	}
	return l, nil
}

// Resolve normalizes key and looks it up in the named cache. The second
// return is false when the dimension is unknown or the key misses.
func (r *Registry) Resolve(name string, key any) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.dims[name]
	if !ok {
		return 0, false
	}
	id, ok := l[stage.NormalizeKey(key)]
	return id, ok
}

// Prewarm bulk-loads one cache per spec from repo and registers each under
// its spec name. A failing dimension aborts the prewarm; earlier dimensions
// stay registered.
func (r *Registry) Prewarm(ctx context.Context, repo stage.Repository, specs []DimensionSpec) error {
	for _, spec := range specs {
		kv, err := repo.SelectKeyValue(ctx, spec.Table, spec.KeyColumn, spec.ValueColumn)
		if err != nil {
			return fmt.Errorf("dimreg: prewarm %s: %w", spec.Name, err)
		}
		r.Register(spec.Name, kv)
	}
	return nil
}
