// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"stagehand/config"
	"stagehand/internal/core"
	"stagehand/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X stagehand/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the selected stagehand mode.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, core.Streams{})
}

func execute(ctx context.Context, args []string, std core.Streams) error {
	cfg := config.New()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("stagehand", flag.ContinueOnError)

	// ── loader (serve) ───────────────────────────────────────────
	fs.StringVar(&cfg.OptionsNamespace, "options-ns", cfg.OptionsNamespace, "Namespace holding the option values")
	fs.StringVar(&cfg.HelpersNamespace, "helpers-ns", cfg.HelpersNamespace, "Namespace that receives the verbosity")
	fs.StringVar(&cfg.EntryNamespace, "entry-ns", cfg.EntryNamespace, "Namespace holding the entry function")
	fs.StringVar(&cfg.EntryFunc, "entry-func", cfg.EntryFunc, "Entry function called after assembly")
	fs.Int64Var(&cfg.MaxUnitBytes, "max-unit-bytes", cfg.MaxUnitBytes, "Largest accepted unit (0 = no limit)")

	// ── producer (pack, deliver) ─────────────────────────────────
	fs.StringVarP(&cfg.Output, "output", "o", "", "Write the packed stream to a file")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate and render the payload without sending it")
	fs.BoolVar(&cfg.Local, "local", false, "Deliver to a local child process")
	fs.StringVar(&cfg.RemoteCommand, "remote-cmd", cfg.RemoteCommand, "Command that starts the loader on the target")

	// ── SSH ──────────────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Deliver over SSH to [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.ConnTimeout, "conn-timeout", cfg.ConnTimeout, "SSH connection timeout")
	fs.IntVar(&cfg.KeepAliveInterval, "keep-alive", cfg.KeepAliveInterval, "SSH keepalive interval in seconds (0 = off)")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to a rotating file")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("stagehand %s\n", version)
		return nil
	}
	if fs.Changed("verbose") {
		cfg.Verbose = verbose
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if std.Err != nil {
		logger.SetOutput(std.Err)
	}
	if cfg.LogFile != "" {
		logger.AddFile(cfg.LogFile, config.DefaultLogMaxSizeMB, config.DefaultLogMaxBackups)
	}
	defer logger.Close()

	mode, err := core.Build(cfg, logger, std)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if len(remaining) == 0 {
		return fmt.Errorf("mode required (use --help for usage)")
	}
	cfg.Mode = remaining[0]
	rest := remaining[1:]

	switch cfg.Mode {
	case config.ModeServe:
		if len(rest) > 0 {
			return fmt.Errorf("serve takes no arguments, got %q", rest)
		}
	case config.ModePack, config.ModeDeliver:
		switch len(rest) {
		case 0: // reported by Validate
		case 1:
			cfg.ManifestPath = rest[0]
		default:
			return fmt.Errorf("too many arguments for %s: %q", cfg.Mode, rest)
		}
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `stagehand v%s

Streams a program to a remote interpreter and starts it.

Usage:
  stagehand serve   [options]                 Assemble a payload from stdin and run it
  stagehand pack    [options] <manifest>      Write a payload stream
  stagehand deliver [options] <manifest>      Start the loader on a target and stream to it

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  stagehand pack payload.yaml -o payload.bin
  stagehand serve < payload.bin
  stagehand deliver --local payload.yaml
  stagehand deliver -T admin@bastion:2222 --ssh-agent payload.yaml
  stagehand deliver -T admin@bastion --remote-cmd '/opt/bin/stagehand serve' payload.toml
`)
}
