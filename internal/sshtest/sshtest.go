// Package sshtest runs small in-process SSH servers for tests. Each server
// answers exec requests through a Handler and can act as a jump host.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// Request is one exec request as seen by the server.
type Request struct {
	Command string
	User    string
	Stdin   []byte
}

// Handler answers an exec request with stdout, stderr and an exit code.
type Handler func(req Request) (stdout, stderr string, exitCode int)

// ServerConfig holds the behaviour of a test server.
type ServerConfig struct {
	ClientPubKey ssh.PublicKey
	NoAuth       bool
	ForwardTCP   bool
	Handler      Handler
	Delay        time.Duration
}

// Option configures a test server.
type Option func(*ServerConfig)

// WithPublicKey accepts clients holding the private half of pub.
func WithPublicKey(pub ssh.PublicKey) Option {
	return func(c *ServerConfig) { c.ClientPubKey = pub }
}

// WithNoAuth accepts every client.
func WithNoAuth() Option {
	return func(c *ServerConfig) { c.NoAuth = true }
}

// WithHandler sets the exec handler. The default echoes the command.
func WithHandler(h Handler) Option {
	return func(c *ServerConfig) { c.Handler = h }
}

// WithOutput answers every command with fixed output and exit code.
func WithOutput(stdout, stderr string, code int) Option {
	return WithHandler(func(Request) (string, string, int) { return stdout, stderr, code })
}

// WithDelay holds every command for d before answering, unless the client
// closes the channel first.
func WithDelay(d time.Duration) Option {
	return func(c *ServerConfig) { c.Delay = d }
}

// WithForwardTCP allows direct-tcpip channels so the server can serve as a
// jump host.
func WithForwardTCP() Option {
	return func(c *ServerConfig) { c.ForwardTCP = true }
}

type server struct {
	cfg  ServerConfig
	conf *ssh.ServerConfig
}

// Start launches a server on a loopback port and returns its address. It
// stops when the test ends.
func Start(t *testing.T, opts ...Option) string {
	t.Helper()

	s := &server{}
	for _, opt := range opts {
		opt(&s.cfg)
	}

	hostKey := newSigner(t)
	s.conf = &ssh.ServerConfig{NoClientAuth: s.cfg.NoAuth}
	s.conf.AddHostKey(hostKey)
	if want := s.cfg.ClientPubKey; want != nil {
		s.conf.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) != string(want.Marshal()) {
				return nil, errors.New("key not authorized")
			}
			return nil, nil
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-stopped
	})
	return ln.Addr().String()
}

func (s *server) serve(nc net.Conn) {
	defer nc.Close()

	conn, chans, reqs, err := ssh.NewServerConn(nc, s.conf)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		switch nch.ChannelType() {
		case "session":
			ch, chReqs, err := nch.Accept()
			if err == nil {
				go s.session(ch, chReqs, conn.User())
			}
		case "direct-tcpip":
			if !s.cfg.ForwardTCP {
				nch.Reject(ssh.Prohibited, "forwarding disabled")
				continue
			}
			ch, chReqs, err := nch.Accept()
			if err == nil {
				go ssh.DiscardRequests(chReqs)
				go forward(ch, nch.ExtraData())
			}
		default:
			nch.Reject(ssh.UnknownChannelType, nch.ChannelType())
		}
	}
}

// session serves the first exec request on ch and closes it.
func (s *server) session(ch ssh.Channel, reqs <-chan *ssh.Request, user string) {
	defer ch.Close()

	for req := range reqs {
		var exec struct{ Command string }
		if req.Type != "exec" || ssh.Unmarshal(req.Payload, &exec) != nil {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		req.Reply(true, nil)

		// Clients close stdin even when they send nothing.
		stdin, _ := io.ReadAll(ch)
		if s.cfg.Delay > 0 && !hold(reqs, s.cfg.Delay) {
			return
		}

		stdout, stderr, code := exec.Command, "", 0
		if s.cfg.Handler != nil {
			stdout, stderr, code = s.cfg.Handler(Request{Command: exec.Command, User: user, Stdin: stdin})
		}
		io.WriteString(ch, stdout)
		io.WriteString(ch.Stderr(), stderr)
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
		return
	}
}

// hold waits for d while refusing requests such as signals. It reports
// false when the client closed the channel before d elapsed.
func hold(reqs <-chan *ssh.Request, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case req, ok := <-reqs:
			if !ok {
				return false
			}
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// forward pipes a direct-tcpip channel to the address it names.
func forward(ch ssh.Channel, extra []byte) {
	defer ch.Close()

	var dest struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if ssh.Unmarshal(extra, &dest) != nil {
		return
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(dest.Host, strconv.Itoa(int(dest.Port))))
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(ch, conn); done <- struct{}{} }()
	go func() { io.Copy(conn, ch); done <- struct{}{} }()
	<-done
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

// GenerateKey writes a fresh ed25519 private key in OpenSSH format to a temp
// file and returns its public key and path.
func GenerateKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return sshPub, path
}

// ParseAddr splits a host:port address.
func ParseAddr(t *testing.T, addr string) (host string, port int) {
	t.Helper()
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		t.Fatalf("port %q: %v", p, err)
	}
	return host, port
}
