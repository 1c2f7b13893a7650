// Package namespace holds the symbol tables built from delivered units
// and the process-wide registry that indexes them by dotted name.
//
// A Namespace is a starlark.Value with attributes, so code in a later
// unit can walk from a root namespace to any descendant:
//
//	namespace("sshuttle").helpers.log("hi")
package namespace

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/starlark"
)

// Namespace is a named, mutable symbol table.  Bindings come from the
// unit's own top-level assignments, from children bound by the
// assembler under their leaf name, and from writes made by other units
// or the host after the fact.
//
// The table is live: a unit executes with it as its predeclared
// environment, so its functions read every binding at call time and
// see later writes.  Environment names installed by Scope are held in
// the same table but are not attributes.
type Namespace struct {
	name string

	mu      sync.RWMutex
	members starlark.StringDict
	env     map[string]bool
}

var (
	_ starlark.HasAttrs    = (*Namespace)(nil)
	_ starlark.HasSetField = (*Namespace)(nil)
)

// New returns an empty namespace tagged with name.
func New(name string) *Namespace {
	return &Namespace{
		name:    name,
		members: make(starlark.StringDict),
		env:     make(map[string]bool),
	}
}

// Name returns the dotted name the namespace was created for.
func (ns *Namespace) Name() string { return ns.name }

// Get returns the binding for attr.
func (ns *Namespace) Get(attr string) (starlark.Value, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if ns.env[attr] {
		return nil, false
	}
	v, ok := ns.members[attr]
	return v, ok
}

// Set binds attr to v, replacing any previous binding, including an
// environment name of the same spelling.
func (ns *Namespace) Set(attr string, v starlark.Value) {
	ns.mu.Lock()
	ns.members[attr] = v
	delete(ns.env, attr)
	ns.mu.Unlock()
}

// Bind attaches child under leaf.
func (ns *Namespace) Bind(leaf string, child *Namespace) {
	ns.Set(leaf, child)
}

// Update copies every global into the namespace.
func (ns *Namespace) Update(globals starlark.StringDict) {
	for k, v := range globals {
		ns.Set(k, v)
	}
}

// Scope installs env underneath the existing bindings and returns the
// live table a unit executes against.  The interpreter reads the table
// without locking, so a namespace must not be written from another
// goroutine while a unit or function of it runs.
func (ns *Namespace) Scope(env starlark.StringDict) starlark.StringDict {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for k, v := range env {
		if _, ok := ns.members[k]; ok {
			continue
		}
		ns.members[k] = v
		ns.env[k] = true
	}
	return ns.members
}

// Members returns a copy of all bindings.
func (ns *Namespace) Members() starlark.StringDict {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make(starlark.StringDict, len(ns.members))
	for k, v := range ns.members {
		if !ns.env[k] {
			out[k] = v
		}
	}
	return out
}

// ── starlark.Value ───────────────────────────────────────────────────

func (ns *Namespace) String() string       { return fmt.Sprintf("<namespace %q>", ns.name) }
func (ns *Namespace) Type() string         { return "namespace" }
func (ns *Namespace) Truth() starlark.Bool { return starlark.True }

// Freeze is a no-op: namespaces stay writable for the life of the
// process.
func (ns *Namespace) Freeze() {}

func (ns *Namespace) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: namespace")
}

// Attr implements starlark.HasAttrs.  A missing attribute returns
// (nil, nil) so the interpreter reports "has no .x field or method".
func (ns *Namespace) Attr(name string) (starlark.Value, error) {
	v, ok := ns.Get(name)
	if !ok {
		return nil, nil
	}
	return v, nil
}

// SetField implements starlark.HasSetField, so delivered code can
// write into any namespace it can reach.
func (ns *Namespace) SetField(name string, v starlark.Value) error {
	ns.Set(name, v)
	return nil
}

// AttrNames implements starlark.HasAttrs.
func (ns *Namespace) AttrNames() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.members))
	for k := range ns.members {
		if !ns.env[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// ── names ────────────────────────────────────────────────────────────

// SplitName splits a dotted name on its last separator.  parent is
// empty for a top-level name, and also for a name that starts with the
// separator; use HasParent to tell the two apart.
func SplitName(name string) (parent, leaf string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// HasParent reports whether name contains a separator, i.e. whether it
// must be linked to a parent namespace.
func HasParent(name string) bool {
	return strings.IndexByte(name, '.') >= 0
}
