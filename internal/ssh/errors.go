package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectError is a failure that happened before the command reached the
// host. Hint, when set, tells the operator what to check.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("%s: %v (hint: %s)", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// BeforeStart reports that the command was never sent, so a retry cannot
// run it twice.
func (e *ConnectError) BeforeStart() bool {
	return true
}

// WrapConnectError wraps a connection error in a *ConnectError, attaching a
// hint when the error matches a known pattern. Context errors are returned
// unchanged so timeouts stay recognisable.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return err
	}
	if isContextErr(err) {
		return err
	}
	return &ConnectError{Host: host, Err: err, Hint: hintFor(host, err)}
}

func hintFor(host string, err error) string {
	msg := err.Error()

	var keyErr *knownhosts.KeyError
	var dnsErr *net.DNSError
	var authErr *ssh.ServerAuthError
	switch {
	case strings.Contains(msg, "permission denied") && strings.Contains(msg, "key"):
		return "check SSH key permissions (chmod 600)"
	case errors.As(err, &authErr),
		strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host)
	case errors.As(err, &keyErr) && len(keyErr.Want) > 0:
		return fmt.Sprintf("remove old key with: ssh-keygen -R %s", host)
	case errors.As(err, &keyErr),
		strings.Contains(msg, "no known_hosts"),
		strings.Contains(msg, "knownhosts"):
		return fmt.Sprintf("use --insecure or connect once with: ssh %s", host)
	case strings.Contains(msg, "connection refused"):
		return "verify SSH daemon is running on the target host"
	case errors.As(err, &dnsErr),
		strings.Contains(msg, "no such host"):
		return "verify hostname is correct"
	case strings.Contains(msg, "handshake failed"):
		return fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host)
	}
	return ""
}
