package namespace

import (
	"sync"

	"go.starlark.net/starlark"

	sherr "stagehand/internal/errors"
)

// Registry maps dotted names to namespaces.  It is append-only in the
// sense that entries are never removed; re-registering a name replaces
// the namespace but keeps its original position in Names.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Namespace
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Namespace)}
}

// Register stores ns under its name, last write wins.  It reports
// whether an earlier namespace was replaced.
func (r *Registry) Register(ns *Namespace) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, replaced = r.byKey[ns.name]; !replaced {
		r.order = append(r.order, ns.name)
	}
	r.byKey[ns.name] = ns
	return replaced
}

// Lookup returns the namespace registered under name.
func (r *Registry) Lookup(name string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.byKey[name]
	return ns, ok
}

// MustLookup is Lookup with a *errors.LookupError on a miss.
func (r *Registry) MustLookup(name string) (*Namespace, error) {
	ns, ok := r.Lookup(name)
	if !ok {
		return nil, sherr.Lookup("namespace", name)
	}
	return ns, nil
}

// Names returns registered names in first-registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of distinct names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Load resolves a load("a.b", ...) statement against the registry so a
// unit can import the bindings of any unit delivered before it.
func (r *Registry) Load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	ns, ok := r.Lookup(module)
	if !ok {
		return nil, sherr.Lookup("module", module)
	}
	return ns.Members(), nil
}
