// Package errors provides domain-specific error types for stagehand.
//
// Every failure the loader can hit is fatal: framing errors, ordering
// violations, unit execution errors, and handoff lookup misses all abort
// before control is transferred.  The types here carry the unit name and
// the operation so the diagnostic printed by main points at the unit that
// broke the stream.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrEndOfPayload    = errors.New("end of payload")
	ErrUnexpectedEnd   = errors.New("stream ended before the sentinel")
	ErrUnitTooLarge    = errors.New("unit exceeds size limit")
	ErrNotConnected    = errors.New("not connected")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── Structured error types ───────────────────────────────────────────

// FramingError reports a malformed or truncated stream.
type FramingError struct {
	Op   string // "name", "length", "content"
	Unit string // unit name, empty while reading the name line
	Err  error
}

func (e *FramingError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("framing: read %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("framing: read %s of %q: %v", e.Op, e.Unit, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// OrderingError reports a child unit that arrived before its parent.
type OrderingError struct {
	Unit   string
	Parent string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("unit %q: parent namespace %q is not registered", e.Unit, e.Parent)
}

// Unwrap lets callers match ordering violations as lookup failures.
func (e *OrderingError) Unwrap() error {
	return &LookupError{Kind: "namespace", Name: e.Parent}
}

// ExecError reports a unit whose content failed to compile or run.
type ExecError struct {
	Unit      string
	Err       error
	Backtrace string // interpreter traceback, if any
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("unit %q: %v", e.Unit, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// LookupError reports a missing namespace, attribute, or module.
type LookupError struct {
	Kind string // "namespace", "attribute", "module"
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is matches any LookupError of the same kind, or of any kind when the
// target leaves Kind empty.
func (e *LookupError) Is(target error) bool {
	t, ok := target.(*LookupError)
	if !ok {
		return false
	}
	return (t.Kind == "" || t.Kind == e.Kind) && (t.Name == "" || t.Name == e.Name)
}

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "session", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // "dial", "write", "read"
	Addr      string
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Framing creates a FramingError.
func Framing(op, unit string, err error) *FramingError {
	return &FramingError{Op: op, Unit: unit, Err: err}
}

// Lookup creates a LookupError.
func Lookup(kind, name string) *LookupError {
	return &LookupError{Kind: kind, Name: name}
}

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsLoaderFault reports whether err belongs to the loader's fatal
// taxonomy (framing, ordering, execution, lookup).
func IsLoaderFault(err error) bool {
	if err == nil {
		return false
	}
	var (
		fe *FramingError
		oe *OrderingError
		ee *ExecError
		le *LookupError
	)
	return errors.As(err, &fe) || errors.As(err, &oe) ||
		errors.As(err, &ee) || errors.As(err, &le)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.  A name
// that does not resolve will not start resolving on the next attempt;
// other resolver and socket faults (refused, reset, timeout) may clear
// once the remote host is up.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
