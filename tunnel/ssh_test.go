package tunnel

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	sherr "stagehand/internal/errors"
	"stagehand/util"
)

// testServer is an in-process SSH server whose sessions echo stdin to
// stdout for any exec request.
type testServer struct {
	host   string
	port   int
	signer ssh.Signer
}

func startTestServer(t *testing.T, password string) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, p []byte) (*ssh.Permissions, error) {
			if string(p) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestConn(nc, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &testServer{host: "127.0.0.1", port: addr.Port, signer: signer}
}

func serveTestConn(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()

	go func() {
		for r := range reqs {
			if r.WantReply {
				r.Reply(r.Type == "keepalive@openssh.com", nil) //nolint:errcheck
			}
		}
	}()

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "sessions only") //nolint:errcheck
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			for r := range creqs {
				if r.Type != "exec" {
					if r.WantReply {
						r.Reply(false, nil) //nolint:errcheck
					}
					continue
				}
				r.Reply(true, nil) //nolint:errcheck
				go func() {
					io.Copy(ch, ch) //nolint:errcheck
					status := struct{ Status uint32 }{0}
					ch.SendRequest("exit-status", false, ssh.Marshal(&status)) //nolint:errcheck
					ch.Close()
				}()
			}
		}()
	}
}

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// TestSSHTunnel_SessionEcho runs a command over a real handshake.
func TestSSHTunnel_SessionEcho(t *testing.T) {
	srv := startTestServer(t, "hunter2")

	tun := NewSSHTunnel(&SSHConfig{
		User: "deploy", Host: srv.host, Port: srv.port, PromptPass: true, Prompt: answer("hunter2"),
	}, quietLogger())
	if err := tun.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tun.Close()

	if !tun.IsAlive() {
		t.Fatal("tunnel should be alive after Connect")
	}

	sess, err := tun.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Stdin = bytes.NewBufferString("pkg\n0\nEOPayLoad\n")
	out, err := sess.Output("stagehand serve")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if got := string(out); got != "pkg\n0\nEOPayLoad\n" {
		t.Errorf("got %q", got)
	}
}

// TestSSHTunnel_AuthFailed verifies rejected credentials are tagged.
func TestSSHTunnel_AuthFailed(t *testing.T) {
	srv := startTestServer(t, "right")

	tun := NewSSHTunnel(&SSHConfig{
		User: "deploy", Host: srv.host, Port: srv.port, PromptPass: true, Prompt: answer("wrong"),
	}, quietLogger())
	err := tun.Connect(context.Background())
	if !errors.Is(err, sherr.ErrAuthFailed) {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
	var se *sherr.SSHError
	if !errors.As(err, &se) || se.Op != "handshake" {
		t.Errorf("expected SSHError with op handshake, got %#v", err)
	}
}

// TestSSHTunnel_PromptFails verifies a prompt error reaches the caller.
func TestSSHTunnel_PromptFails(t *testing.T) {
	srv := startTestServer(t, "pw")

	noTTY := func(string) ([]byte, error) { return nil, errors.New("not a terminal") }
	tun := NewSSHTunnel(&SSHConfig{
		User: "deploy", Host: srv.host, Port: srv.port, PromptPass: true, Prompt: noTTY,
	}, quietLogger())
	err := tun.Connect(context.Background())
	if err == nil {
		tun.Close()
		t.Fatal("expected Connect to fail")
	}
	if !strings.Contains(err.Error(), "not a terminal") {
		t.Errorf("error %q does not mention the prompt failure", err)
	}
}

// TestSSHTunnel_HostKeyMismatch verifies strict checking against a
// known_hosts entry for a different key.
func TestSSHTunnel_HostKeyMismatch(t *testing.T) {
	srv := startTestServer(t, "pw")

	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	other, err := ssh.NewSignerFromKey(otherPriv)
	if err != nil {
		t.Fatal(err)
	}
	addr := knownhosts.Normalize(fmt.Sprintf("%s:%d", srv.host, srv.port))
	kh := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{addr}, other.PublicKey()) + "\n"
	if err := os.WriteFile(kh, []byte(line), 0600); err != nil {
		t.Fatal(err)
	}

	tun := NewSSHTunnel(&SSHConfig{
		User: "deploy", Host: srv.host, Port: srv.port, PromptPass: true, Prompt: answer("pw"),
		StrictHostKey: true, KnownHosts: kh,
	}, quietLogger())
	err = tun.Connect(context.Background())
	if !errors.Is(err, sherr.ErrHostKeyMismatch) {
		t.Fatalf("got %v, want ErrHostKeyMismatch", err)
	}
}

// TestSSHTunnel_KeepAlive verifies keepalives are sent and answered.
func TestSSHTunnel_KeepAlive(t *testing.T) {
	srv := startTestServer(t, "pw")

	var answered atomic.Int32
	tun := NewSSHTunnel(&SSHConfig{
		User: "deploy", Host: srv.host, Port: srv.port, PromptPass: true, Prompt: answer("pw"),
		KeepAlive:   10 * time.Millisecond,
		OnKeepAlive: func() { answered.Add(1) },
	}, quietLogger())
	if err := tun.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tun.Close()

	deadline := time.Now().Add(2 * time.Second)
	for answered.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d keepalives answered", answered.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSSHTunnel_NotConnected verifies NewSession before Connect.
func TestSSHTunnel_NotConnected(t *testing.T) {
	tun := NewSSHTunnel(&SSHConfig{Host: "unused"}, quietLogger())
	if _, err := tun.NewSession(); !errors.Is(err, sherr.ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
	if tun.IsAlive() {
		t.Error("unconnected tunnel reported alive")
	}
	if err := tun.Close(); err != nil {
		t.Errorf("Close on unconnected tunnel: %v", err)
	}
}

// TestSSHTunnel_DialRefused verifies a refused TCP dial is a network error.
func TestSSHTunnel_DialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tun := NewSSHTunnel(&SSHConfig{Host: "127.0.0.1", Port: port, PromptPass: true, Prompt: answer("pw"), ConnTimeout: time.Second}, quietLogger())
	err = tun.Connect(context.Background())
	var ne *sherr.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("got %v, want NetworkError", err)
	}
}
