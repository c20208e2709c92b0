package executor

import (
	"fmt"
	"sync"
	"time"
)

// ExitUnknown is the exit status recorded when the remote command never
// reported one (connection failure, timeout, skipped host).
const ExitUnknown = -1

// Classification describes how a single host's session ended.
type Classification int

const (
	OK Classification = iota
	ConnectionFailed
	Timeout
	RemoteCommandFailed
	Skipped
	Cancelled
)

func (c Classification) String() string {
	switch c {
	case OK:
		return "ok"
	case ConnectionFailed:
		return "connection failed"
	case Timeout:
		return "timeout"
	case RemoteCommandFailed:
		return "command failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// HostOutcome holds the result of executing a command on a single host.
type HostOutcome struct {
	Host       string
	Index      int // position in the host list
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	Started    time.Time
	Duration   time.Duration
	Attempts   int
	Class      Classification
	Err        error // connection/timeout errors
}

// Succeeded reports whether the command ran and exited with status 0.
func (o *HostOutcome) Succeeded() bool {
	return o.Class == OK
}

// Status is the aggregate state of a run.
type Status int

const (
	Success Status = iota
	PartialFailure
	TotalFailure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case PartialFailure:
		return "partial failure"
	case TotalFailure:
		return "total failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RunResult collects the outcomes of one invocation. The dispatcher fills it
// through record; once sealed it is read-only and safe to share.
type RunResult struct {
	ID       string
	Command  string
	Hosts    []string
	Started  time.Time
	Duration time.Duration

	mu       sync.Mutex
	outcomes []*HostOutcome
	sealed   bool
}

func newRunResult(id, command string, hosts []string) *RunResult {
	return &RunResult{
		ID:       id,
		Command:  command,
		Hosts:    hosts,
		Started:  time.Now(),
		outcomes: make([]*HostOutcome, len(hosts)),
	}
}

// record stores the outcome for its host slot. Each slot is written once.
func (r *RunResult) record(o *HostOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic("executor: record on sealed RunResult")
	}
	if r.outcomes[o.Index] != nil {
		panic(fmt.Sprintf("executor: duplicate outcome for host %q", o.Host))
	}
	r.outcomes[o.Index] = o
}

// seal fills any empty slot with a Skipped outcome and stops further writes.
func (r *RunResult) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.outcomes {
		if o == nil {
			r.outcomes[i] = skippedOutcome(i, r.Hosts[i])
		}
	}
	r.Duration = time.Since(r.Started)
	r.sealed = true
}

// Sealed reports whether the run has finished accepting outcomes.
func (r *RunResult) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Outcomes returns the host outcomes in host-list order.
func (r *RunResult) Outcomes() []*HostOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*HostOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Counts tallies outcomes by classification.
func (r *RunResult) Counts() map[Classification]int {
	counts := make(map[Classification]int)
	for _, o := range r.Outcomes() {
		if o != nil {
			counts[o.Class]++
		}
	}
	return counts
}

// Status derives the aggregate status: Success only when every host is OK,
// PartialFailure when at least one is, TotalFailure otherwise.
func (r *RunResult) Status() Status {
	outcomes := r.Outcomes()
	ok := 0
	for _, o := range outcomes {
		if o != nil && o.Succeeded() {
			ok++
		}
	}
	switch {
	case len(outcomes) > 0 && ok == len(outcomes):
		return Success
	case ok > 0:
		return PartialFailure
	default:
		return TotalFailure
	}
}

func skippedOutcome(idx int, host string) *HostOutcome {
	return &HostOutcome{
		Host:       host,
		Index:      idx,
		ExitStatus: ExitUnknown,
		Class:      Skipped,
	}
}
