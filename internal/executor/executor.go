package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/digitalcybersoft/mussh/internal/logging"
)

const (
	// DefaultConcurrency is the worker pool size when none is configured.
	DefaultConcurrency = 20
	// MaxConcurrency caps the worker pool regardless of configuration.
	MaxConcurrency = 256
	// DefaultTimeout bounds each host session when none is configured.
	DefaultTimeout = 30 * time.Second
)

// Observer is called once for every outcome as it is recorded, from the
// goroutine that produced it.
type Observer func(*HostOutcome)

// Executor fans out command execution across multiple hosts with bounded concurrency.
type Executor struct {
	transport     Transport
	concurrency   int
	timeout       time.Duration
	stopOnFailure bool
	retries       int
	backoff       BackoffFunc
	observer      Observer
	tracer        trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets the maximum number of parallel sessions.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = min(n, MaxConcurrency)
		}
	}
}

// WithTimeout sets the per-host session timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.timeout = d
		}
	}
}

// WithStopOnFirstFailure halts dispatch after the first host that does not
// succeed. Hosts then run one at a time, whatever the concurrency.
func WithStopOnFirstFailure(stop bool) Option {
	return func(e *Executor) {
		e.stopOnFailure = stop
	}
}

// WithRetries sets how many times a connection failure is retried per host.
func WithRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(b BackoffFunc) Option {
	return func(e *Executor) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithObserver registers a callback invoked for each completed host.
func WithObserver(fn Observer) Option {
	return func(e *Executor) {
		e.observer = fn
	}
}

// WithTracer sets the tracer used for dispatch and session spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New creates an Executor with the given Transport and options.
func New(transport Transport, opts ...Option) *Executor {
	e := &Executor{
		transport:   transport,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		backoff:     DefaultBackoff,
		tracer:      otel.Tracer("github.com/digitalcybersoft/mussh/internal/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch runs command on every host, at most concurrency at a time, and
// returns the sealed RunResult. Hosts start in list order; outcomes are
// stored by list position regardless of completion order. Hosts that never
// start (stop-on-first-failure, or ctx cancelled) are recorded as Skipped.
func (e *Executor) Dispatch(ctx context.Context, hosts []string, command string) *RunResult {
	result := newRunResult(uuid.NewString(), command, hosts)
	log := logging.FromContext(ctx).With(zap.String("run_id", result.ID))

	// A host may only start once every host before it has succeeded, so
	// stop-on-failure runs the list one host at a time.
	limit := e.concurrency
	if e.stopOnFailure {
		limit = 1
	}

	ctx, span := e.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("mussh.run_id", result.ID),
		attribute.Int("mussh.hosts", len(hosts)),
		attribute.Int("mussh.concurrency", limit),
	))
	defer span.End()

	session := NewSession(e.transport, e.retries, e.backoff)
	log.Debug("dispatch started",
		zap.Int("hosts", len(hosts)),
		zap.Int("concurrency", limit),
		zap.Duration("timeout", e.timeout),
		zap.Bool("stop_on_failure", e.stopOnFailure))

	var halted atomic.Bool
	var g errgroup.Group
	g.SetLimit(limit)

	for i, host := range hosts {
		if halted.Load() || ctx.Err() != nil {
			break
		}
		// Go blocks until a worker slot frees up, so hosts start in order.
		g.Go(func() error {
			if halted.Load() || ctx.Err() != nil {
				return nil
			}
			log.Debug("session started", zap.String("host", host))

			outcome := e.runOne(ctx, session, host, command)
			outcome.Index = i
			if e.stopOnFailure && !outcome.Succeeded() {
				halted.Store(true)
			}
			result.record(outcome)

			log.Debug("session finished",
				zap.String("host", host),
				zap.Stringer("class", outcome.Class),
				zap.Int("exit", outcome.ExitStatus),
				zap.Int("attempts", outcome.Attempts),
				zap.Duration("duration", outcome.Duration),
				zap.Error(outcome.Err))
			if e.observer != nil {
				e.observer(outcome)
			}
			return nil
		})
	}
	g.Wait()

	result.seal()
	status := result.Status()
	span.SetAttributes(attribute.String("mussh.status", status.String()))
	if status != Success {
		span.SetStatus(codes.Error, status.String())
	}
	log.Debug("dispatch finished",
		zap.Stringer("status", status),
		zap.Duration("duration", result.Duration),
		zap.Int("skipped", result.Counts()[Skipped]))
	return result
}

func (e *Executor) runOne(ctx context.Context, session *Session, host, command string) *HostOutcome {
	ctx, span := e.tracer.Start(ctx, "session", trace.WithAttributes(
		attribute.String("mussh.host", host),
	))
	defer span.End()

	outcome := session.Run(ctx, host, command, e.timeout)

	span.SetAttributes(
		attribute.String("mussh.class", outcome.Class.String()),
		attribute.Int("mussh.exit_status", outcome.ExitStatus),
		attribute.Int("mussh.attempts", outcome.Attempts),
	)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
	}
	if !outcome.Succeeded() {
		span.SetStatus(codes.Error, outcome.Class.String())
	}
	return outcome
}
