// Package payload builds the unit stream a loader consumes.
//
// A manifest lists the source files to deliver, in order, and the
// option values that become the generated options unit:
//
//	units:
//	  - name: sshuttle
//	    path: sshuttle/__init__.star
//	  - name: sshuttle.helpers
//	    path: sshuttle/helpers.star
//	options_namespace: sshuttle.cmdline_options
//	options:
//	  latency_control: true
//	  ttl: 63
//
// YAML and TOML manifests are accepted, chosen by file extension.
package payload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"stagehand/internal/frame"
	"stagehand/internal/namespace"
)

// UnitSpec names one source file.
type UnitSpec struct {
	Name string `yaml:"name" toml:"name"`
	Path string `yaml:"path" toml:"path"`
}

// Manifest describes a payload.
type Manifest struct {
	Units            []UnitSpec             `yaml:"units" toml:"units"`
	OptionsNamespace string                 `yaml:"options_namespace" toml:"options_namespace"`
	Options          map[string]interface{} `yaml:"options" toml:"options"`

	dir string // directory relative paths are resolved against
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("manifest %s: unsupported extension %q", path, filepath.Ext(path))
	}

	m.dir = filepath.Dir(path)
	if m.OptionsNamespace == "" && len(m.Options) > 0 {
		m.OptionsNamespace = DefaultOptionsNamespace
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// DefaultOptionsNamespace is used when a manifest has options but does
// not name their namespace.
const DefaultOptionsNamespace = "sshuttle.cmdline_options"

// Validate checks names and that every parent precedes its children in
// stream order, counting the generated options unit.
func (m *Manifest) Validate() error {
	names := m.streamNames()
	if len(names) == 0 {
		return fmt.Errorf("no units")
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if err := frame.ValidateName(name); err != nil {
			return err
		}
		if parent, _ := namespace.SplitName(name); parent != "" && !seen[parent] {
			return fmt.Errorf("unit %q is listed before its parent %q", name, parent)
		}
		seen[name] = true
	}
	for _, u := range m.Units {
		if u.Path == "" {
			return fmt.Errorf("unit %q has no path", u.Name)
		}
	}
	return nil
}

// streamNames returns unit names in the order Sources emits them.
func (m *Manifest) streamNames() []string {
	names := make([]string, 0, len(m.Units)+1)
	for _, u := range m.Units {
		names = append(names, u.Name)
	}
	if m.OptionsNamespace == "" {
		return names
	}
	at := m.optionsIndex()
	names = append(names, "")
	copy(names[at+1:], names[at:])
	names[at] = m.OptionsNamespace
	return names
}

// optionsIndex is where the options unit goes: right after its parent,
// or first when it has none (or the parent is not in the manifest, which
// Validate then reports).
func (m *Manifest) optionsIndex() int {
	parent, _ := namespace.SplitName(m.OptionsNamespace)
	if parent == "" {
		return 0
	}
	for i, u := range m.Units {
		if u.Name == parent {
			return i + 1
		}
	}
	return 0
}

// resolve returns p relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}
