package ssh

import (
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Agent is a lazily dialed connection to the ssh-agent at SSH_AUTH_SOCK.
// One Agent is shared by every session of a run; the agent protocol client
// serialises requests itself. A failed dial is retried on next use.
type Agent struct {
	socket string

	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
	// Connections replaced after an error. Signers handed out earlier may
	// still sign through them, so they stay open until Close.
	retired []net.Conn
}

// NewAgent returns an Agent for the socket named by SSH_AUTH_SOCK, or nil
// when the variable is unset.
func NewAgent() *Agent {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	return &Agent{socket: sock}
}

// authMethod returns public key auth over the agent's current keys, or nil
// if the agent is unreachable or empty. A nil Agent yields nil.
func (a *Agent) authMethod() ssh.AuthMethod {
	signers := a.signers()
	if len(signers) == 0 {
		return nil
	}
	return ssh.PublicKeys(signers...)
}

// signers lists the agent's keys, redialling once if the connection has
// gone bad.
func (a *Agent) signers() []ssh.Signer {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		if s, err := a.client.Signers(); err == nil {
			return s
		}
		a.retired = append(a.retired, a.conn)
		a.conn, a.client = nil, nil
	}

	conn, err := net.Dial("unix", a.socket)
	if err != nil {
		return nil
	}
	a.conn = conn
	a.client = agent.NewClient(conn)

	s, err := a.client.Signers()
	if err != nil {
		return nil
	}
	return s
}

// Close closes the agent connection and any it replaced.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	for _, c := range append(a.retired, a.conn) {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.conn, a.client, a.retired = nil, nil, nil
	return first
}
