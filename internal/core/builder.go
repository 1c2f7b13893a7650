package core

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"stagehand/config"
	"stagehand/internal/frame"
	"stagehand/internal/handoff"
	"stagehand/internal/metrics"
	"stagehand/internal/payload"
	"stagehand/internal/transport"
	"stagehand/tunnel"
	"stagehand/util"
)

// Streams are the process's standard streams.  Build uses os.Std* when
// a field is nil.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

func (s Streams) withDefaults() Streams {
	if s.In == nil {
		s.In = os.Stdin
	}
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.Err == nil {
		s.Err = os.Stderr
	}
	return s
}

// Build constructs the Mode selected by cfg.Mode.  This is the single
// dispatch point between the CLI and the modes.
func Build(cfg *config.Config, logger *util.Logger, std Streams) (Mode, error) {
	std = std.withDefaults()
	m := metrics.New()

	switch cfg.Mode {
	case config.ModeServe:
		return buildServe(cfg, logger, m, std), nil
	case config.ModePack:
		return buildPack(cfg, logger, m, std)
	case config.ModeDeliver:
		return buildDeliver(cfg, logger, m, std)
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector, std Streams) Mode {
	names := handoff.DefaultNames()
	names.Options = cfg.OptionsNamespace
	names.Helpers = cfg.HelpersNamespace
	names.Entry = cfg.EntryNamespace
	names.EntryFunc = cfg.EntryFunc

	return &ServeMode{
		In:        std.In,
		Out:       std.Out,
		Banner:    std.Err,
		Limits:    frame.Limits{MaxUnitBytes: cfg.MaxUnitBytes},
		Names:     names,
		Verbosity: cfg.Verbose,
		Logger:    logger,
		Metrics:   m,
	}
}

func buildPack(cfg *config.Config, logger *util.Logger, m *metrics.Collector, std Streams) (Mode, error) {
	man, err := payload.Load(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	return &PackMode{
		Manifest:   man,
		Out:        std.Out,
		OutputPath: cfg.Output,
		Logger:     logger,
		Metrics:    m,
	}, nil
}

func buildDeliver(cfg *config.Config, logger *util.Logger, m *metrics.Collector, std Streams) (Mode, error) {
	man, err := payload.Load(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	return &DeliverMode{
		Manifest: man,
		Channel:  buildChannel(cfg, logger, m, std),
		Command:  remoteCommand(cfg),
		Input:    std.In,
		Stdout:   std.Out,
		Stderr:   std.Err,
		DryRun:   cfg.DryRun,
		Logger:   logger,
		Metrics:  m,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildChannel creates the right transport.Channel for the given config.
func buildChannel(cfg *config.Config, logger *util.Logger, m *metrics.Collector, std Streams) transport.Channel {
	if !cfg.TunnelEnabled {
		return transport.NewLocalChannel(logger)
	}

	var keepAlive time.Duration
	if cfg.KeepAliveInterval > 0 {
		keepAlive = time.Duration(cfg.KeepAliveInterval) * time.Second
	}
	return transport.NewSSHChannel(&tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   cfg.ConnTimeout,
		KeepAlive:     keepAlive,
		IdentityFiles: cfg.IdentityFiles,
		Prompt:        ttyPrompter(std.Err),
	}, config.DefaultConnectAttempts, logger, m)
}

// ttyPrompter asks on the controlling terminal, which stays free while
// stdin is relayed to the remote program.  The terminal is opened per
// question.
func ttyPrompter(out io.Writer) tunnel.Prompter {
	return func(label string) ([]byte, error) {
		tty, err := os.Open(ttyPath())
		if err != nil {
			return nil, fmt.Errorf("no terminal to ask for %s: %w", strings.TrimSuffix(label, ": "), err)
		}
		defer tty.Close()
		return tunnel.TerminalPrompter(tty, out)(label)
	}
}

func ttyPath() string {
	if runtime.GOOS == "windows" {
		return "CONIN$"
	}
	return "/dev/tty"
}

// remoteCommand forwards the local verbosity to the default loader
// command so the delivered program logs at the same level.
func remoteCommand(cfg *config.Config) string {
	if cfg.Verbose > 0 && cfg.RemoteCommand == config.DefaultRemoteCommand {
		return cfg.RemoteCommand + " -" + strings.Repeat("v", cfg.Verbose)
	}
	return cfg.RemoteCommand
}
