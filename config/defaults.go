package config

import (
	"os"
	"path/filepath"
	"time"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, environment variable loading, and the modes.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultMaxUnitBytes caps a single unit's declared length.
	DefaultMaxUnitBytes = 64 << 20

	// DefaultOptionsNamespace holds the configuration bundle.
	DefaultOptionsNamespace = "sshuttle.cmdline_options"

	// DefaultHelpersNamespace receives the verbosity before handoff.
	DefaultHelpersNamespace = "sshuttle.helpers"

	// DefaultEntryNamespace holds the entry function.
	DefaultEntryNamespace = "sshuttle.server"

	// DefaultEntryFunc is called with the configuration bundle.
	DefaultEntryFunc = "main"

	// DefaultRemoteCommand starts the loader on the far side.
	DefaultRemoteCommand = "stagehand serve"

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultConnTimeout is the SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultConnectAttempts is how many times deliver dials the gateway.
	DefaultConnectAttempts = 3

	// DefaultLogMaxSizeMB and DefaultLogMaxBackups bound --log-file.
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
)

// DefaultIdentityNames are the key files under ~/.ssh tried, in order,
// when deliver is given no explicit authentication method.
var DefaultIdentityNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// sshDir returns ~/.ssh, or "" when the home directory is unknown.
func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh")
}

// DefaultIdentityFiles returns DefaultIdentityNames under ~/.ssh.
func DefaultIdentityFiles() []string {
	dir := sshDir()
	if dir == "" {
		return nil
	}
	files := make([]string, len(DefaultIdentityNames))
	for i, name := range DefaultIdentityNames {
		files[i] = filepath.Join(dir, name)
	}
	return files
}

// DefaultKnownHosts returns ~/.ssh/known_hosts, or "" when the home
// directory is unknown.
func DefaultKnownHosts() string {
	dir := sshDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "known_hosts")
}
