package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sherr "stagehand/internal/errors"
	"stagehand/internal/metrics"
	"stagehand/internal/retry"
	"stagehand/tunnel"
	"stagehand/util"
)

// SSHChannel runs commands in sessions on an SSH connection.  The
// connection is made lazily on the first Start and torn down on Close.
type SSHChannel struct {
	Tunnel  tunnel.Tunnel
	Backoff *retry.Backoff
	Logger  *util.Logger
	Metrics *metrics.Collector

	addr      string
	mu        sync.Mutex
	connected bool
}

// NewSSHChannel creates a channel to the host in cfg.  The connection
// is attempted up to attempts times.
func NewSSHChannel(cfg *tunnel.SSHConfig, attempts int, logger *util.Logger, m *metrics.Collector) *SSHChannel {
	if cfg.OnKeepAlive == nil {
		cfg.OnKeepAlive = m.KeepAlive
	}
	t := tunnel.NewSSHTunnel(cfg, logger)
	return &SSHChannel{
		Tunnel:  t,
		Backoff: retry.ConnectBackoff(attempts),
		Logger:  logger,
		Metrics: m,
		addr:    fmt.Sprintf("%s@%s", cfg.User, t.Addr()),
	}
}

// connect establishes the SSH connection if not already connected.
func (c *SSHChannel) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.Tunnel.IsAlive() {
		return nil
	}

	c.Logger.Verbose("connecting to %s", c.addr)

	b := *c.Backoff
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.Logger.Warn("connect attempt %d failed: %v (retrying in %s)", attempt, err, wait.Round(time.Millisecond))
	}
	err := b.Do(ctx, func(int) error {
		c.Metrics.ConnectAttempt()
		err := c.Tunnel.Connect(ctx)
		if err != nil && isPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		c.Metrics.RecordError(err.Error())
		return err
	}

	c.connected = true
	c.Logger.Verbose("connected to %s", c.addr)
	return nil
}

// Start opens a session and runs command in it.
func (c *SSHChannel) Start(ctx context.Context, command string) (*Process, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	sess, err := c.Tunnel.NewSession()
	if err != nil {
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session stdout: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session stderr: %w", err)
	}

	c.Logger.Debug("ssh: exec %q", command)
	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: start %q: %w", command, err)
	}

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		wait: func() error {
			defer stop()
			defer sess.Close()
			return sess.Wait()
		},
	}, nil
}

// Close tears down the SSH connection.
func (c *SSHChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		return c.Tunnel.Close()
	}
	return nil
}

// isPermanent reports whether a connect failure cannot be fixed by
// trying again: rejected credentials or host key, or a network fault
// the error taxonomy does not consider retryable.  Handshake failures
// without a known cause are retried.
func isPermanent(err error) bool {
	if errors.Is(err, sherr.ErrAuthFailed) || errors.Is(err, sherr.ErrHostKeyMismatch) {
		return true
	}
	var se *sherr.SSHError
	if errors.As(err, &se) && (se.Op == "auth" || se.Op == "hostkey") {
		return true
	}
	var ne *sherr.NetworkError
	return errors.As(err, &ne) && !sherr.IsRetryable(err)
}
