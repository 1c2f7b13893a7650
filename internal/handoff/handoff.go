// Package handoff transfers control from the loader to the delivered
// program once every unit has been assembled.
package handoff

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"stagehand/internal/assembler"
	sherr "stagehand/internal/errors"
	"stagehand/internal/metrics"
	"stagehand/internal/namespace"
	"stagehand/util"
)

// Names are the well-known namespaces and attributes the handoff reads
// and writes.
type Names struct {
	Options     string // namespace holding the bundle
	Helpers     string // namespace that receives the verbosity
	Entry       string // namespace holding the entry function
	EntryFunc   string
	VerboseAttr string
}

// DefaultNames matches the layout of an sshuttle-style payload.
func DefaultNames() Names {
	return Names{
		Options:     "sshuttle.cmdline_options",
		Helpers:     "sshuttle.helpers",
		Entry:       "sshuttle.server",
		EntryFunc:   "main",
		VerboseAttr: "verbose",
	}
}

// Bundle is the fixed set of values passed to the entry function.
type Bundle struct {
	LatencyControl    bool
	LatencyBufferSize int
	AutoHosts         bool
	ToNameserver      string // empty when the option is None
	AutoNets          bool
	TTL               int
}

// BundleFields lists the option attributes in entry-argument order.
var BundleFields = []string{
	"latency_control",
	"latency_buffer_size",
	"auto_hosts",
	"to_nameserver",
	"auto_nets",
	"ttl",
}

// Args returns the bundle as positional arguments.
func (b Bundle) Args() starlark.Tuple {
	var ns starlark.Value = starlark.None
	if b.ToNameserver != "" {
		ns = starlark.String(b.ToNameserver)
	}
	return starlark.Tuple{
		starlark.Bool(b.LatencyControl),
		starlark.MakeInt(b.LatencyBufferSize),
		starlark.Bool(b.AutoHosts),
		ns,
		starlark.Bool(b.AutoNets),
		starlark.MakeInt(b.TTL),
	}
}

// Controller performs the handoff.
type Controller struct {
	Registry  *namespace.Registry
	Names     Names
	Verbosity int
	Logger    *util.Logger
	Metrics   *metrics.Collector
}

// New returns a Controller.  verbosity is the hosting process's log
// level; it is handed to the delivered program, not read from it.
func New(reg *namespace.Registry, names Names, verbosity int, logger *util.Logger) *Controller {
	return &Controller{Registry: reg, Names: names, Verbosity: verbosity, Logger: logger}
}

// Resolve reads the bundle from the options namespace.
func (c *Controller) Resolve() (Bundle, error) {
	opts, err := c.Registry.MustLookup(c.Names.Options)
	if err != nil {
		return Bundle{}, fmt.Errorf("handoff: %w", err)
	}

	var b Bundle
	get := func(attr string) (starlark.Value, error) {
		v, ok := opts.Get(attr)
		if !ok {
			return nil, fmt.Errorf("handoff: %w", sherr.Lookup("attribute", c.Names.Options+"."+attr))
		}
		return v, nil
	}

	for _, field := range BundleFields {
		v, err := get(field)
		if err != nil {
			return Bundle{}, err
		}
		switch field {
		case "latency_control":
			b.LatencyControl, err = asBool(field, v)
		case "latency_buffer_size":
			b.LatencyBufferSize, err = asInt(field, v)
		case "auto_hosts":
			b.AutoHosts, err = asBool(field, v)
		case "to_nameserver":
			b.ToNameserver, err = asOptString(field, v)
		case "auto_nets":
			b.AutoNets, err = asBool(field, v)
		case "ttl":
			b.TTL, err = asInt(field, v)
		}
		if err != nil {
			return Bundle{}, err
		}
	}
	return b, nil
}

// Transfer resolves the bundle, publishes the verbosity on the helpers
// namespace, and calls the entry function.  It is the last thing the
// loader does; its return is the delivered program's return.
func (c *Controller) Transfer(ctx context.Context) error {
	bundle, err := c.Resolve()
	if err != nil {
		return err
	}

	helpers, err := c.Registry.MustLookup(c.Names.Helpers)
	if err != nil {
		return fmt.Errorf("handoff: %w", err)
	}
	helpers.Set(c.Names.VerboseAttr, starlark.MakeInt(c.Verbosity))

	entryNS, err := c.Registry.MustLookup(c.Names.Entry)
	if err != nil {
		return fmt.Errorf("handoff: %w", err)
	}
	fnVal, ok := entryNS.Get(c.Names.EntryFunc)
	if !ok {
		return fmt.Errorf("handoff: %w", sherr.Lookup("attribute", c.Names.Entry+"."+c.Names.EntryFunc))
	}
	fn, ok := fnVal.(starlark.Callable)
	if !ok {
		return &sherr.ConfigError{
			Field:   "entry-func",
			Value:   c.Names.Entry + "." + c.Names.EntryFunc,
			Message: fmt.Sprintf("is a %s, not callable", fnVal.Type()),
		}
	}

	c.Logger.Debug("handoff: %s.%s%v", c.Names.Entry, c.Names.EntryFunc, bundle.Args())
	c.Metrics.Handoff()

	thread := assembler.NewThread(c.Names.Entry, c.Registry, c.Logger)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	if _, err := starlark.Call(thread, fn, bundle.Args(), nil); err != nil {
		c.Metrics.RecordError(err.Error())
		return fmt.Errorf("%s.%s: %w", c.Names.Entry, c.Names.EntryFunc, err)
	}
	return nil
}

// ── conversions ──────────────────────────────────────────────────────

func typeError(field, want string, v starlark.Value) error {
	return &sherr.ConfigError{
		Field:   field,
		Value:   v.String(),
		Message: fmt.Sprintf("want %s, got %s", want, v.Type()),
	}
}

func asBool(field string, v starlark.Value) (bool, error) {
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, typeError(field, "bool", v)
	}
	return bool(b), nil
}

func asInt(field string, v starlark.Value) (int, error) {
	if _, ok := v.(starlark.Int); !ok {
		return 0, typeError(field, "int", v)
	}
	n, err := starlark.AsInt32(v)
	if err != nil {
		return 0, typeError(field, "int32", v)
	}
	return n, nil
}

func asOptString(field string, v starlark.Value) (string, error) {
	if v == starlark.None {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", typeError(field, "string or None", v)
	}
	return s, nil
}
