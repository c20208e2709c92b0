package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// serveAgent runs an in-memory agent holding n keys on a unix socket.
func serveAgent(t *testing.T, n int) string {
	t.Helper()

	// Unix socket paths are short; t.TempDir can exceed the limit.
	dir, err := os.MkdirTemp("", "mussh-agent")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	keyring := agent.NewKeyring()
	for range n {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		if err := keyring.Add(agent.AddedKey{PrivateKey: priv}); err != nil {
			t.Fatalf("add key: %v", err)
		}
	}

	sock := filepath.Join(dir, "agent.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				agent.ServeAgent(keyring, conn)
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return sock
}

// brokenAgent fails every request, as a client on a dead connection does.
type brokenAgent struct {
	agent.ExtendedAgent
}

func (brokenAgent) Signers() ([]gossh.Signer, error) {
	return nil, errors.New("agent connection lost")
}

func TestAgent_Signers(t *testing.T) {
	a := &Agent{socket: serveAgent(t, 2)}
	defer a.Close()

	signers := a.signers()
	if len(signers) != 2 {
		t.Fatalf("signers = %d, want 2", len(signers))
	}
	if _, err := signers[0].Sign(rand.Reader, []byte("payload")); err != nil {
		t.Errorf("sign: %v", err)
	}
	if a.authMethod() == nil {
		t.Error("authMethod = nil, want public key auth")
	}
}

func TestAgent_RedialKeepsEarlierSignersUsable(t *testing.T) {
	a := &Agent{socket: serveAgent(t, 1)}

	earlier := a.signers()
	if len(earlier) != 1 {
		t.Fatalf("signers = %d, want 1", len(earlier))
	}

	a.mu.Lock()
	a.client = brokenAgent{}
	a.mu.Unlock()

	later := a.signers()
	if len(later) != 1 {
		t.Fatalf("signers after redial = %d, want 1", len(later))
	}
	if len(a.retired) != 1 {
		t.Errorf("retired = %d, want 1", len(a.retired))
	}

	// A handshake still holding the earlier signers must be able to finish.
	if _, err := earlier[0].Sign(rand.Reader, []byte("payload")); err != nil {
		t.Errorf("sign with signer from replaced connection: %v", err)
	}
	if _, err := later[0].Sign(rand.Reader, []byte("payload")); err != nil {
		t.Errorf("sign after redial: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := earlier[0].Sign(rand.Reader, []byte("payload")); err == nil {
		t.Error("sign after Close succeeded, want error")
	}
}

func TestAgent_ConcurrentUse(t *testing.T) {
	a := &Agent{socket: serveAgent(t, 1)}
	defer a.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signers := a.signers()
			if len(signers) != 1 {
				errs <- errors.New("no signers")
				return
			}
			if _, err := signers[0].Sign(rand.Reader, []byte("payload")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestAgent_EmptyKeyring(t *testing.T) {
	a := &Agent{socket: serveAgent(t, 0)}
	defer a.Close()

	if m := a.authMethod(); m != nil {
		t.Error("authMethod with no keys should be nil")
	}
}

func TestAgent_Unreachable(t *testing.T) {
	a := &Agent{socket: filepath.Join(t.TempDir(), "missing.sock")}
	defer a.Close()

	if m := a.authMethod(); m != nil {
		t.Error("authMethod for missing socket should be nil")
	}
}

func TestAgent_Nil(t *testing.T) {
	var a *Agent
	if m := a.authMethod(); m != nil {
		t.Error("nil agent should yield no auth method")
	}
	if err := a.Close(); err != nil {
		t.Errorf("close nil agent: %v", err)
	}
}
