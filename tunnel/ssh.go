package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	sherr "stagehand/internal/errors"
	"stagehand/util"
)

// SSHConfig holds everything needed to reach a delivery host.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// IdentityFiles are tried when no method above is requested.
	IdentityFiles []string

	// Prompt asks for passwords and key passphrases.  Nil means there
	// is no one to ask.
	Prompt Prompter

	// KeepAlive is the interval between keepalive@openssh.com
	// requests.  Zero disables them.
	KeepAlive time.Duration

	// OnKeepAlive, if set, is called after every answered keepalive.
	OnKeepAlive func()
}

// SSHTunnel implements [Tunnel] over a single ssh.Client.
type SSHTunnel struct {
	config *SSHConfig
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
	done   chan struct{}
}

var _ Tunnel = (*SSHTunnel)(nil)

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Addr returns host:port of the remote end.
func (t *SSHTunnel) Addr() string {
	return net.JoinHostPort(t.config.Host, fmt.Sprint(t.config.Port))
}

// Connect dials the host and completes the handshake.  Authentication
// and host-key failures wrap ErrAuthFailed and ErrHostKeyMismatch so
// callers can stop retrying.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	methods, err := authMethods(t.config, t.logger)
	if err != nil {
		return sherr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(t.config, t.logger)
	if err != nil {
		return sherr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            methods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
	}

	addr := t.Addr()
	t.logger.Debug("SSH: dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return sherr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return sherr.WrapSSH("handshake", t.config.Host, t.config.Port, classifyHandshake(err))
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	t.mu.Lock()
	t.client = client
	t.alive = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.monitor(client, t.done)
	if t.config.KeepAlive > 0 {
		go t.keepAlive(client, t.done)
	}
	return nil
}

// NewSession opens a session on the connected client.
func (t *SSHTunnel) NewSession() (*ssh.Session, error) {
	t.mu.RLock()
	client := t.client
	alive := t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, sherr.ErrNotConnected
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, sherr.WrapSSH("session", t.config.Host, t.config.Port, err)
	}
	return sess, nil
}

// Close shuts down the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// monitor blocks until the SSH connection closes and flips the alive flag.
func (t *SSHTunnel) monitor(client *ssh.Client, done chan struct{}) {
	err := client.Wait()
	close(done)

	t.mu.Lock()
	t.alive = false
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("SSH connection closed: %v", err)
	} else {
		t.logger.Debug("SSH connection closed")
	}
}

// keepAlive sends a global request every interval until the connection
// closes.  An unanswered request closes the client.
func (t *SSHTunnel) keepAlive(client *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("SSH keepalive to %s failed: %v", t.Addr(), err)
				client.Close()
				return
			}
			t.logger.Debug("SSH keepalive answered")
			if t.config.OnKeepAlive != nil {
				t.config.OnKeepAlive()
			}
		}
	}
}

// classifyHandshake tags failures that retrying cannot fix.
func classifyHandshake(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(err.Error(), "knownhosts: key") {
		return fmt.Errorf("%w: %v", sherr.ErrHostKeyMismatch, err)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %v", sherr.ErrAuthFailed, err)
	}
	return err
}
