// Package transport starts the remote side of a delivery.  A Channel
// runs one command somewhere and hands back its standard streams; the
// payload is written to Stdin and the loader's output read back.
package transport

import (
	"context"
	"io"
)

// Channel starts commands on a delivery target.
type Channel interface {
	// Start runs command and returns its streams.
	Start(ctx context.Context, command string) (*Process, error)

	// Close releases any long-lived resources held by the channel
	// (e.g. an SSH connection).  Stateless channels return nil.
	Close() error
}

// Process is a started command.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	wait func() error
}

// Wait blocks until the command exits.  Callers must finish reading
// Stdout and Stderr first.
func (p *Process) Wait() error {
	return p.wait()
}
