// Package tunnel defines the Tunnel interface and provides an SSH
// implementation backed by golang.org/x/crypto/ssh.
package tunnel

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// Tunnel is an authenticated connection to a remote host on which
// command sessions can be opened.
type Tunnel interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// NewSession opens a session for running one remote command.
	NewSession() (*ssh.Session, error)

	// Close tears down the connection and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
