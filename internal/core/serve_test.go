package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	sherr "stagehand/internal/errors"
	"stagehand/internal/frame"
	"stagehand/internal/handoff"
	"stagehand/internal/metrics"
	"stagehand/util"
)

const testOptions = `latency_control=True
latency_buffer_size=32768
auto_hosts=False
to_nameserver=None
auto_nets=False
ttl=63
`

const testServer = `
def main(latency_control, latency_buffer_size, auto_hosts, to_nameserver, auto_nets, ttl):
    v = namespace("sshuttle.helpers").verbose
    channel.write("ttl=%d verbose=%d\n" % (ttl, v))
    channel.write(channel.read_line())
`

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// stream frames units and terminates with the sentinel, then appends
// trailing bytes.
func stream(t *testing.T, trailing string, units ...[2]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := frame.NewWriter(&buf)
	for _, u := range units {
		if err := w.WriteUnit(u[0], []byte(u[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	buf.WriteString(trailing)
	return &buf
}

func samplePayload() [][2]string {
	return [][2]string{
		{"sshuttle", ""},
		{"sshuttle.cmdline_options", testOptions},
		{"sshuttle.helpers", "verbose = 0\n"},
		{"sshuttle.server", testServer},
	}
}

func newServe(in io.Reader, verbosity int) (*ServeMode, *bytes.Buffer, *bytes.Buffer) {
	var out, banner bytes.Buffer
	return &ServeMode{
		In:        in,
		Out:       &out,
		Banner:    &banner,
		Limits:    frame.DefaultLimits(),
		Names:     handoff.DefaultNames(),
		Verbosity: verbosity,
		Logger:    quietLogger(),
		Metrics:   metrics.New(),
	}, &out, &banner
}

// TestServe_EndToEnd assembles a payload and runs its entry function.
func TestServe_EndToEnd(t *testing.T) {
	in := stream(t, "ping\n", samplePayload()...)
	m, out, banner := newServe(in, 2)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), "ttl=63 verbose=2\nping\n"; got != want {
		t.Errorf("out = %q, want %q", got, want)
	}
	if got, want := banner.String(), BannerStart+"\n"+BannerComplete+"\n"; got != want {
		t.Errorf("banner = %q, want %q", got, want)
	}
	if n := m.Metrics.UnitsAssembled(); n != 4 {
		t.Errorf("UnitsAssembled = %d, want 4", n)
	}
	if m.Metrics.Snapshot().HandoffAt == "" {
		t.Error("handoff not recorded")
	}
}

// TestServe_HelpersSeeVerbosity verifies the verbosity published at
// handoff is what the helpers unit's own functions read.
func TestServe_HelpersSeeVerbosity(t *testing.T) {
	units := samplePayload()
	units[2][1] = "verbose = 0\ndef level():\n    return verbose\n"
	units[3][1] = `
def main(*args):
    channel.write("helpers sees verbose=%d\n" % namespace("sshuttle.helpers").level())
`
	m, out, _ := newServe(stream(t, "", units...), 3)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), "helpers sees verbose=3\n"; got != want {
		t.Errorf("out = %q, want %q", got, want)
	}
}

// TestServe_UnitWritesPeerNamespace verifies delivered code can assign
// into another unit's namespace and that unit's functions see it.
func TestServe_UnitWritesPeerNamespace(t *testing.T) {
	units := samplePayload()
	units[2][1] = "logprefix = ''\ndef prefixed(msg):\n    return logprefix + msg\n"
	units[3][1] = `
def main(*args):
    h = namespace("sshuttle.helpers")
    h.logprefix = " s: "
    channel.write(h.prefixed("up") + "\n")
`
	m, out, _ := newServe(stream(t, "", units...), 0)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), " s: up\n"; got != want {
		t.Errorf("out = %q, want %q", got, want)
	}
}

// TestServe_KeepAlivesIgnored verifies blank lines between units.
func TestServe_KeepAlivesIgnored(t *testing.T) {
	var buf bytes.Buffer
	w := frame.NewWriter(&buf)
	for _, u := range samplePayload() {
		w.KeepAlive() //nolint:errcheck
		w.WriteUnit(u[0], []byte(u[1])) //nolint:errcheck
	}
	w.Close() //nolint:errcheck
	buf.WriteString("x\n")

	m, out, _ := newServe(&buf, 0)
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "ttl=63 verbose=0\n") {
		t.Errorf("out = %q", out.String())
	}
	if m.Metrics.Snapshot().KeepAlives != 4 {
		t.Errorf("keepalives = %d, want 4", m.Metrics.Snapshot().KeepAlives)
	}
}

// TestServe_SentinelFirst verifies an empty payload assembles nothing
// and fails at handoff with a lookup error.
func TestServe_SentinelFirst(t *testing.T) {
	m, out, banner := newServe(strings.NewReader(frame.Sentinel+"\n"), 0)

	err := m.Run(context.Background())
	if !errors.Is(err, sherr.Lookup("namespace", "sshuttle.cmdline_options")) {
		t.Fatalf("got %v, want lookup error for the options namespace", err)
	}
	if !strings.Contains(banner.String(), BannerComplete) {
		t.Error("assembly should complete before handoff fails")
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

// TestServe_Failures verifies that every fault aborts before handoff.
func TestServe_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{
			name:  "truncated content",
			input: "sshuttle\n10\nabc",
			check: func(err error) bool { var fe *sherr.FramingError; return errors.As(err, &fe) },
		},
		{
			name:  "eof before sentinel",
			input: "sshuttle\n0\n",
			check: func(err error) bool { return errors.Is(err, sherr.ErrUnexpectedEnd) },
		},
		{
			name:  "bad length",
			input: "sshuttle\nten\n",
			check: func(err error) bool { var fe *sherr.FramingError; return errors.As(err, &fe) },
		},
		{
			name:  "child before parent",
			input: "sshuttle.server\n6\nx = 1\nEOPayLoad\n",
			check: func(err error) bool { var oe *sherr.OrderingError; return errors.As(err, &oe) },
		},
		{
			name:  "unit raises",
			input: "boom\n11\nfail('no')\nEOPayLoad\n",
			check: func(err error) bool { var ee *sherr.ExecError; return errors.As(err, &ee) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, out, banner := newServe(strings.NewReader(tt.input), 0)
			err := m.Run(context.Background())
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if strings.Contains(banner.String(), BannerComplete) {
				t.Error("assembly must not complete")
			}
			if out.Len() != 0 {
				t.Errorf("entry ran: %q", out.String())
			}
			if m.Metrics.ErrorCount() == 0 {
				t.Error("error not recorded")
			}
		})
	}
}

// TestServe_AbortLogging verifies loader faults are logged with their
// backtrace while a failing entry function is left to the caller.
func TestServe_AbortLogging(t *testing.T) {
	capture := func(m *ServeMode) *bytes.Buffer {
		var logs bytes.Buffer
		l := util.NewLogger(2)
		l.SetOutput(&logs)
		m.Logger = l
		return &logs
	}

	m, _, _ := newServe(strings.NewReader("boom\n11\nfail('no')\nEOPayLoad\n"), 0)
	logs := capture(m)
	if err := m.Run(context.Background()); err == nil {
		t.Fatal("expected unit failure")
	}
	if !strings.Contains(logs.String(), "load aborted") || !strings.Contains(logs.String(), "Traceback") {
		t.Errorf("logs = %q", logs.String())
	}

	units := samplePayload()
	units[3][1] = "def main(*args):\n    fail('remote side broke')\n"
	m, _, _ = newServe(stream(t, "", units...), 0)
	logs = capture(m)
	err := m.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "remote side broke") {
		t.Fatalf("got %v", err)
	}
	if strings.Contains(logs.String(), "load aborted") {
		t.Errorf("entry failure reported as loader fault: %q", logs.String())
	}
}

// TestServe_UnitTooLarge verifies the length limit.
func TestServe_UnitTooLarge(t *testing.T) {
	m, _, _ := newServe(strings.NewReader("big\n999999\n"), 0)
	m.Limits = frame.Limits{MaxUnitBytes: 1024}

	if err := m.Run(context.Background()); !errors.Is(err, sherr.ErrUnitTooLarge) {
		t.Fatalf("got %v, want ErrUnitTooLarge", err)
	}
}

// TestServe_Cancelled verifies a cancelled context stops the loop.
func TestServe_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, _, _ := newServe(stream(t, "", samplePayload()...), 0)
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
