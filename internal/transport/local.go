package transport

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"stagehand/util"
)

// LocalChannel runs commands through the local shell.  It stands in for
// a remote host when testing a payload.
type LocalChannel struct {
	Logger *util.Logger

	// Env, if non-nil, replaces the child's environment.
	Env []string
}

// NewLocalChannel returns a LocalChannel.
func NewLocalChannel(logger *util.Logger) *LocalChannel {
	return &LocalChannel{Logger: logger}
}

// Start runs command with /bin/sh -c (cmd.exe /C on Windows).
func (c *LocalChannel) Start(ctx context.Context, command string) (*Process, error) {
	cmd := shellCommand(ctx, command)
	if c.Env != nil {
		cmd.Env = c.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("exec stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("exec stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("exec stderr: %w", err)
	}

	c.Logger.Debug("exec: %q", command)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %q: %w", command, err)
	}

	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		wait:   cmd.Wait,
	}, nil
}

// Close is a no-op.
func (c *LocalChannel) Close() error { return nil }

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd.exe", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}
