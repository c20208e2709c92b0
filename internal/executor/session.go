package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transport is the SSH execution primitive: connect to host, run command,
// and return its exit status with fully captured stdout and stderr. A
// non-nil error means the command did not report an exit status.
type Transport interface {
	Execute(ctx context.Context, host, command string) (exitStatus int, stdout, stderr []byte, err error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, host, command string) (int, []byte, []byte, error)

func (f TransportFunc) Execute(ctx context.Context, host, command string) (int, []byte, []byte, error) {
	return f(ctx, host, command)
}

// BackoffFunc returns a fresh backoff policy for one session.
type BackoffFunc func() backoff.BackOff

// DefaultBackoff waits 500ms before the first retry and grows by 1.5x up to 5s.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return b
}

// abandonGrace is how long Run waits, once the session context has ended,
// for the transport to hand back what it has.
const abandonGrace = 100 * time.Millisecond

// Session runs one command on one host through a Transport, bounding it
// with a timeout and turning every failure into a classified HostOutcome.
// It holds no per-call state and is safe for concurrent use.
type Session struct {
	transport Transport
	retries   int
	backoff   BackoffFunc
}

// NewSession creates a Session. retries is the number of extra connection
// attempts made for errors that happened before the command was sent.
func NewSession(t Transport, retries int, b BackoffFunc) *Session {
	if retries < 0 {
		retries = 0
	}
	if b == nil {
		b = DefaultBackoff
	}
	return &Session{transport: t, retries: retries, backoff: b}
}

type execution struct {
	exitStatus     int
	stdout, stderr []byte
	attempts       int
	err            error
}

// Run executes command on host. timeout <= 0 leaves the session unbounded.
// Run always returns a HostOutcome; Index is left for the caller to set.
func (s *Session) Run(ctx context.Context, host, command string, timeout time.Duration) *HostOutcome {
	out := &HostOutcome{
		Host:       host,
		ExitStatus: ExitUnknown,
		Started:    time.Now(),
	}

	hostCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		hostCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// The transport runs on its own goroutine so a session that ignores its
	// context still cannot hold the caller past the deadline.
	done := make(chan execution, 1)
	go func() {
		done <- s.execute(hostCtx, host, command)
	}()

	var ex execution
	select {
	case ex = <-done:
	case <-hostCtx.Done():
		// A transport that honours ctx returns promptly, possibly with the
		// output captured so far. One that ignores it is abandoned.
		grace := time.NewTimer(abandonGrace)
		select {
		case ex = <-done:
		case <-grace.C:
			ex = execution{exitStatus: ExitUnknown, err: hostCtx.Err()}
		}
		grace.Stop()
	}
	out.Duration = time.Since(out.Started)
	out.Attempts = ex.attempts
	out.Stdout = ex.stdout
	out.Stderr = ex.stderr

	switch {
	case ex.err == nil:
		out.ExitStatus = ex.exitStatus
		out.Class = OK
		if ex.exitStatus != 0 {
			out.Class = RemoteCommandFailed
		}
	case ctx.Err() != nil:
		out.Class = Cancelled
		out.Err = ctx.Err()
	case hostCtx.Err() == context.DeadlineExceeded, errors.Is(ex.err, context.DeadlineExceeded):
		out.Class = Timeout
		out.Err = context.DeadlineExceeded
	default:
		out.Class = ConnectionFailed
		out.Err = ex.err
	}
	return out
}

// execute calls the transport, retrying only failures that happened before
// the command reached the host.
func (s *Session) execute(ctx context.Context, host, command string) execution {
	var ex execution
	op := func() error {
		ex.attempts++
		ex.exitStatus, ex.stdout, ex.stderr, ex.err = s.transport.Execute(ctx, host, command)
		if ex.err == nil {
			return nil
		}
		if !beforeStart(ex.err) || ctx.Err() != nil {
			return backoff.Permanent(ex.err)
		}
		return ex.err
	}

	if s.retries == 0 {
		op()
		return ex
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.backoff(), uint64(s.retries)), ctx)
	if err := backoff.Retry(op, b); err != nil && ex.err == nil {
		ex.err = err
	}
	return ex
}

// beforeStart reports whether err marks a failure that happened before the
// command was sent, which makes a retry safe.
func beforeStart(err error) bool {
	var bs interface{ BeforeStart() bool }
	return errors.As(err, &bs) && bs.BeforeStart()
}
