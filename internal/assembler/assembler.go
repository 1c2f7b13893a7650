// Package assembler turns framed units into registered namespaces.
//
// For each unit the assembler creates a namespace, attaches it to its
// dotted parent, executes the unit's Starlark source with the new
// namespace as its global scope, and registers the result.  Top-level
// bindings are written into the namespace table and read back from it,
// so a value set later by another unit or by the host is what the
// unit's functions see.  Nothing is isolated: the first failure aborts
// the whole load.
package assembler

import (
	"context"
	"errors"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	sherr "stagehand/internal/errors"
	"stagehand/internal/frame"
	"stagehand/internal/metrics"
	"stagehand/internal/namespace"
	"stagehand/util"
)

// Assembler executes units against a Registry.
type Assembler struct {
	Registry *namespace.Registry
	Logger   *util.Logger
	Metrics  *metrics.Collector

	// FileOptions selects the dialect units are compiled with.
	FileOptions *syntax.FileOptions

	// Predeclared is merged into every unit's builtins.
	Predeclared starlark.StringDict
}

// New returns an Assembler with the permissive dialect delivered
// programs expect: top-level loops and ifs, while, sets, recursion,
// and global reassignment.
func New(reg *namespace.Registry, logger *util.Logger, m *metrics.Collector) *Assembler {
	return &Assembler{
		Registry: reg,
		Logger:   logger,
		Metrics:  m,
		FileOptions: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
}

// Assemble builds, links, executes, and registers the namespace for u.
func (a *Assembler) Assemble(ctx context.Context, u frame.Unit) (*namespace.Namespace, error) {
	ns := namespace.New(u.Name)

	if namespace.HasParent(u.Name) {
		parentName, leaf := namespace.SplitName(u.Name)
		parent, ok := a.Registry.Lookup(parentName)
		if !ok || parentName == "" {
			err := &sherr.OrderingError{Unit: u.Name, Parent: parentName}
			a.Metrics.RecordError(err.Error())
			return nil, err
		}
		parent.Bind(leaf, ns)
	}

	table := ns.Scope(a.builtins(u.Name, ns))
	prog, err := a.compile(u, table)
	if err != nil {
		a.Metrics.RecordError(err.Error())
		return nil, execError(u.Name, err)
	}

	thread := NewThread(u.Name, a.Registry, a.Logger)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	if _, err := prog.Init(thread, table); err != nil {
		a.Metrics.RecordError(err.Error())
		return nil, execError(u.Name, err)
	}

	if a.Registry.Register(ns) {
		a.Metrics.UnitOverwritten()
		a.Logger.Verbose("namespace %q replaced", u.Name)
	}
	a.Metrics.UnitAssembled(u.Length)
	return ns, nil
}

// compile parses u, moves its top-level bindings onto the namespace
// table, and resolves every other free name against table.
func (a *Assembler) compile(u frame.Unit, table starlark.StringDict) (*starlark.Program, error) {
	f, err := a.FileOptions.Parse(u.Name, u.Content, 0)
	if err != nil {
		return nil, err
	}
	rw := newScopeRewriter()
	rw.rewrite(f)
	return starlark.FileProgram(f, func(name string) bool {
		return rw.names[name] || table.Has(name)
	})
}

// builtins returns the predeclared environment for one unit.
func (a *Assembler) builtins(unit string, self *namespace.Namespace) starlark.StringDict {
	env := starlark.StringDict{
		selfName:    self,
		"__name__":  starlark.String(unit),
		"namespace": starlark.NewBuiltin("namespace", a.lookupBuiltin),
		"struct":    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":      json.Module,
		"math":      math.Module,
	}
	for k, v := range a.Predeclared {
		env[k] = v
	}
	return env
}

// lookupBuiltin implements namespace(name).
func (a *Assembler) lookupBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	ns, err := a.Registry.MustLookup(name)
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// NewThread returns an interpreter thread whose load() statements
// resolve against reg and whose print() goes to the logger.
func NewThread(name string, reg *namespace.Registry, logger *util.Logger) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Load: reg.Load,
		Print: func(th *starlark.Thread, msg string) {
			logger.Verbose("%s: %s", th.Name, msg)
		},
	}
}

func execError(unit string, err error) *sherr.ExecError {
	ee := &sherr.ExecError{Unit: unit, Err: err}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		ee.Backtrace = evalErr.Backtrace()
	}
	return ee
}
