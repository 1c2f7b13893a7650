package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the STAGEHAND_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := envInt("STAGEHAND_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if v := os.Getenv("STAGEHAND_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	// Loader
	if v, ok := envInt64("STAGEHAND_MAX_UNIT_BYTES"); ok {
		cfg.MaxUnitBytes = v
	}
	if v := os.Getenv("STAGEHAND_OPTIONS_NS"); v != "" {
		cfg.OptionsNamespace = v
	}
	if v := os.Getenv("STAGEHAND_HELPERS_NS"); v != "" {
		cfg.HelpersNamespace = v
	}
	if v := os.Getenv("STAGEHAND_ENTRY_NS"); v != "" {
		cfg.EntryNamespace = v
	}
	if v := os.Getenv("STAGEHAND_ENTRY_FUNC"); v != "" {
		cfg.EntryFunc = v
	}

	// Delivery
	if v := os.Getenv("STAGEHAND_REMOTE_CMD"); v != "" {
		cfg.RemoteCommand = v
	}
	if v := os.Getenv("STAGEHAND_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("STAGEHAND_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("STAGEHAND_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("STAGEHAND_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STAGEHAND_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("STAGEHAND_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v := os.Getenv("STAGEHAND_IDENTITY_FILES"); v != "" {
		cfg.IdentityFiles = filepath.SplitList(v)
	}
	if v := envInt("STAGEHAND_CONN_TIMEOUT"); v > 0 {
		cfg.ConnTimeout = secondsDuration(v)
	}
	if v := envInt("STAGEHAND_KEEP_ALIVE"); v > 0 {
		cfg.KeepAliveInterval = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
