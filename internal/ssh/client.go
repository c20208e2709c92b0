package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Client is an open connection to one host, plus the jump-host connections
// it was tunnelled through.
type Client struct {
	host  string
	conn  *ssh.Client
	jumps []*Client
}

// Host returns the name the client was dialled with.
func (c *Client) Host() string {
	return c.host
}

// RunCommand runs command in a new session and returns its captured output
// and exit status. stdin, when non-nil, is fed to the command.
//
// Failures before the command was accepted by the server are returned as
// *ConnectError. When ctx ends first the remote process is sent SIGKILL and
// the output captured so far is returned with ctx.Err().
func (c *Client) RunCommand(ctx context.Context, command string, stdin []byte) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, nil, -1, &ConnectError{Host: c.host, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close()

	var out, errOut capture
	session.Stdout = &out
	session.Stderr = &errOut
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	if err := session.Start(command); err != nil {
		return nil, nil, -1, &ConnectError{Host: c.host, Err: fmt.Errorf("start command: %w", err)}
	}

	waited := make(chan error, 1)
	go func() { waited <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return out.Bytes(), errOut.Bytes(), -1, ctx.Err()
	case err := <-waited:
		var exit *ssh.ExitError
		switch {
		case err == nil:
			return out.Bytes(), errOut.Bytes(), 0, nil
		case errors.As(err, &exit):
			return out.Bytes(), errOut.Bytes(), exit.ExitStatus(), nil
		default:
			return out.Bytes(), errOut.Bytes(), -1, err
		}
	}
}

// Close closes the connection, then its jump hosts innermost first.
func (c *Client) Close() error {
	var first error
	if c.conn != nil {
		first = c.conn.Close()
	}
	for i := len(c.jumps) - 1; i >= 0; i-- {
		if err := c.jumps[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// capture collects session output. The session writes from its own
// goroutines, so reads and writes are serialised.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}
