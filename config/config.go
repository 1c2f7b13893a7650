// Package config defines the runtime configuration for stagehand and
// provides helpers for parsing tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	sherr "stagehand/internal/errors"
)

// Mode names accepted as the first positional argument.
const (
	ModeServe   = "serve"
	ModePack    = "pack"
	ModeDeliver = "deliver"
)

// Config holds every tuneable for a single stagehand run.
type Config struct {
	Mode    string
	Verbose int
	LogFile string

	// ── Loader (serve) ───────────────────────────────────────────────
	MaxUnitBytes     int64
	OptionsNamespace string
	HelpersNamespace string
	EntryNamespace   string
	EntryFunc        string

	// ── Producer (pack, deliver) ─────────────────────────────────────
	ManifestPath string
	Output       string // pack: "" or "-" means stdout
	DryRun       bool

	// ── Delivery channel ─────────────────────────────────────────────
	Local         bool   // run RemoteCommand as a local child process
	RemoteCommand string // command that starts the loader remotely

	TunnelSpec        string // raw user@host[:port] from -T
	TunnelEnabled     bool
	TunnelUser        string
	TunnelHost        string
	TunnelPort        int
	SSHKeyPath        string
	SSHPassword       bool // true → prompt interactively
	UseSSHAgent       bool
	StrictHostKey     bool
	KnownHostsPath    string
	IdentityFiles     []string // fallback keys when no auth method is set
	ConnTimeout       time.Duration
	KeepAliveInterval int // seconds, 0 disables
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Mode:              ModeServe,
		MaxUnitBytes:      DefaultMaxUnitBytes,
		OptionsNamespace:  DefaultOptionsNamespace,
		HelpersNamespace:  DefaultHelpersNamespace,
		EntryNamespace:    DefaultEntryNamespace,
		EntryFunc:         DefaultEntryFunc,
		RemoteCommand:     DefaultRemoteCommand,
		ConnTimeout:       DefaultConnTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		KnownHostsPath:    DefaultKnownHosts(),
		IdentityFiles:     DefaultIdentityFiles(),
	}
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &sherr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Verbose < 0 {
		return &sherr.ConfigError{Field: "verbose", Value: c.Verbose, Message: "must not be negative"}
	}

	switch c.Mode {
	case ModeServe:
		return c.validateServe()
	case ModePack:
		return c.validateManifest()
	case ModeDeliver:
		if err := c.validateManifest(); err != nil {
			return err
		}
		return c.validateDeliver()
	default:
		return &sherr.ConfigError{
			Field:   "mode",
			Value:   c.Mode,
			Message: "unknown mode",
			Hint:    "use one of: serve, pack, deliver",
		}
	}
}

func (c *Config) validateServe() error {
	if c.MaxUnitBytes < 0 {
		return &sherr.ConfigError{
			Field:   "max-unit-bytes",
			Value:   c.MaxUnitBytes,
			Message: "must not be negative",
			Hint:    "use 0 to disable the limit",
		}
	}
	names := []struct{ field, value string }{
		{"options-ns", c.OptionsNamespace},
		{"helpers-ns", c.HelpersNamespace},
		{"entry-ns", c.EntryNamespace},
		{"entry-func", c.EntryFunc},
	}
	for _, n := range names {
		if n.value == "" {
			return &sherr.ConfigError{Field: n.field, Message: "must not be empty"}
		}
	}
	return nil
}

func (c *Config) validateManifest() error {
	if c.ManifestPath == "" {
		return &sherr.ConfigError{
			Field:   "manifest",
			Message: "a manifest path is required",
			Hint:    "pass it as the last argument, e.g. stagehand pack payload.yaml",
		}
	}
	return nil
}

func (c *Config) validateDeliver() error {
	if c.RemoteCommand == "" {
		return &sherr.ConfigError{Field: "remote-cmd", Message: "must not be empty"}
	}
	if c.Local && c.TunnelEnabled {
		return &sherr.ConfigError{Field: "local", Message: "--local and -T are mutually exclusive"}
	}
	if !c.Local && !c.TunnelEnabled && !c.DryRun {
		return &sherr.ConfigError{
			Field:   "tunnel",
			Message: "deliver needs a channel",
			Hint:    "use -T user@host[:port] or --local",
		}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &sherr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	if c.KeepAliveInterval < 0 {
		return &sherr.ConfigError{Field: "keep-alive", Value: c.KeepAliveInterval, Message: "must not be negative"}
	}
	return nil
}
