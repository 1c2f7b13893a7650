package tunnel

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	"stagehand/util"
)

// Prompter shows label and reads a secret without echo.
type Prompter func(label string) ([]byte, error)

// TerminalPrompter prompts on out and reads from in, which must be a
// terminal.  Deliver's stdin usually carries relayed input, so the
// caller normally passes the controlling tty rather than os.Stdin.
func TerminalPrompter(in *os.File, out io.Writer) Prompter {
	return func(label string) ([]byte, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("cannot ask for %q: %s is not a terminal",
				strings.TrimSuffix(label, ": "), in.Name())
		}
		fmt.Fprint(out, label)
		defer fmt.Fprintln(out)
		return term.ReadPassword(fd)
	}
}

// passwordTries is how many passwords are asked for before the server
// is told the method failed.
const passwordTries = 3

var errNoMethods = errors.New("no SSH authentication methods available; " +
	"use --ssh-key, --ssh-password, or --ssh-agent")

// authMethods returns the methods offered to the gateway, in order: the
// explicit key, the agent, then an interactive password.  When none was
// requested it falls back to the agent and cfg.IdentityFiles.
func authMethods(cfg *SSHConfig, logger *util.Logger) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg.KeyPath, cfg.Prompt)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", cfg.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.UseAgent {
		m, err := agentAuth()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		methods = append(methods, m)
	}
	if cfg.PromptPass {
		methods = append(methods, passwordAuth(cfg))
	}
	if len(methods) > 0 {
		return methods, nil
	}

	if methods = fallbackAuth(cfg, logger); len(methods) == 0 {
		return nil, errNoMethods
	}
	return methods, nil
}

// fallbackAuth offers the agent, if one is running, and every identity
// file that loads.  Missing files are skipped silently.
func fallbackAuth(cfg *SSHConfig, logger *util.Logger) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if m, err := agentAuth(); err == nil {
		logger.Verbose("ssh: offering agent keys")
		methods = append(methods, m)
	}

	var signers []ssh.Signer
	for _, path := range cfg.IdentityFiles {
		s, err := loadSigner(path, cfg.Prompt)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			logger.Verbose("ssh: skipping %s: %v", path, err)
		default:
			logger.Verbose("ssh: offering %s", path)
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods
}

// loadSigner parses a private key file, asking prompt for the
// passphrase when the key is encrypted.
func loadSigner(path string, prompt Prompter) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return signer, err
	}
	if prompt == nil {
		return nil, errors.New("key is encrypted and there is no terminal to ask for its passphrase")
	}
	pass, err := prompt(fmt.Sprintf("Enter passphrase for key '%s': ", path))
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return ssh.ParsePrivateKeyWithPassphrase(data, pass)
}

// passwordAuth asks for the password only once the gateway offers the
// method, and again after each rejection.
func passwordAuth(cfg *SSHConfig) ssh.AuthMethod {
	label := fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host)
	return ssh.RetryableAuthMethod(ssh.PasswordCallback(func() (string, error) {
		if cfg.Prompt == nil {
			return "", errors.New("password requested but there is no terminal")
		}
		pass, err := cfg.Prompt(label)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pass), nil
	}), passwordTries)
}

func agentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// ── host-key verification ────────────────────────────────────────────

// hostKeyCallback checks the gateway against cfg.KnownHosts, or accepts
// any key when strict checking is off.
func hostKeyCallback(cfg *SSHConfig, logger *util.Logger) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		logger.Verbose("ssh: host key checking disabled for %s", cfg.Host)
		//nolint:gosec // opted out with --strict-hostkey=false
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHosts == "" {
		return nil, errors.New("strict host key checking needs a known_hosts file")
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.KnownHosts, err)
	}
	return cb, nil
}
