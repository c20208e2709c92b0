// Package report renders a sealed RunResult for the terminal or as JSON and
// maps its aggregate status to a process exit code.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/digitalcybersoft/mussh/internal/executor"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitPartialFailure = 1
	ExitTotalFailure   = 2
	// ExitResolution covers every failure before dispatch: no hosts,
	// unreadable host files, bad configuration, usage errors.
	ExitResolution = 3
)

// ExitCode maps the aggregate status of r to a process exit code.
func ExitCode(r *executor.RunResult) int {
	switch r.Status() {
	case executor.Success:
		return ExitOK
	case executor.PartialFailure:
		return ExitPartialFailure
	default:
		return ExitTotalFailure
	}
}

// Mode selects the output layout.
type Mode string

const (
	// ModePrefix prefixes every output line with its host.
	ModePrefix Mode = "prefix"
	// ModeBlock prints one block per host under a header.
	ModeBlock Mode = "block"
	// ModeJSON prints one JSON document for the whole run.
	ModeJSON Mode = "json"
	// ModeGrouped collapses hosts with identical output and diffs outliers
	// against the majority.
	ModeGrouped Mode = "grouped"
)

// ParseMode validates a mode name. The empty string selects ModePrefix.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModePrefix, nil
	case ModePrefix, ModeBlock, ModeJSON, ModeGrouped:
		return m, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want prefix, block, json or grouped)", s)
	}
}

// Formatter renders run results.
type Formatter struct {
	Mode       Mode
	ErrorsOnly bool // show only hosts that did not succeed
	Quiet      bool // omit the summary line
	Color      bool
}

// Render writes r to w in the formatter's mode. Hosts appear in host-list
// order regardless of completion order.
func (f *Formatter) Render(w io.Writer, r *executor.RunResult) error {
	if f.Mode == ModeJSON {
		data, err := f.FormatJSON(r)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}

	var b strings.Builder
	switch f.Mode {
	case ModeBlock:
		f.writeBlocks(&b, r)
	case ModeGrouped:
		f.writeGroups(&b, r)
	default:
		f.writePrefixed(&b, r)
	}
	if !f.Quiet {
		b.WriteString(f.summaryLine(r))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// visible returns the outcomes to print, in host-list order.
func (f *Formatter) visible(r *executor.RunResult) []*executor.HostOutcome {
	all := r.Outcomes()
	if !f.ErrorsOnly {
		return all
	}
	out := all[:0:0]
	for _, o := range all {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

func (f *Formatter) summaryLine(r *executor.RunResult) string {
	counts := r.Counts()
	parts := []string{fmt.Sprintf("%d succeeded", counts[executor.OK])}
	for _, c := range []struct {
		class executor.Classification
		label string
	}{
		{executor.RemoteCommandFailed, "non-zero exit"},
		{executor.ConnectionFailed, "failed"},
		{executor.Timeout, "timeout"},
		{executor.Cancelled, "cancelled"},
		{executor.Skipped, "skipped"},
	} {
		if n := counts[c.class]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c.label))
		}
	}

	line := strings.Join(parts, ", ")
	switch r.Status() {
	case executor.Success:
		return f.paint(summaryOKStyle, line)
	case executor.PartialFailure:
		return f.paint(summaryPartialStyle, line)
	default:
		return f.paint(summaryFailStyle, line)
	}
}

// statusLabel describes how a host ended, e.g. "command failed, exit 3".
func statusLabel(o *executor.HostOutcome) string {
	if o.ExitStatus == executor.ExitUnknown {
		return o.Class.String()
	}
	return fmt.Sprintf("%s, exit %d", o.Class, o.ExitStatus)
}

// splitLines splits output into lines, dropping one trailing newline.
func splitLines(data []byte) []string {
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
