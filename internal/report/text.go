package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/digitalcybersoft/mussh/internal/executor"
)

// writePrefixed prints every line as "host: line". Stderr lines are tagged
// "host [stderr]: line". A host that did not succeed, or printed nothing,
// gets a closing status line so that every host appears at least once.
func (f *Formatter) writePrefixed(b *strings.Builder, r *executor.RunResult) {
	for _, o := range f.visible(r) {
		host := f.paint(hostStyle, o.Host)
		stdout, stderr := splitLines(o.Stdout), splitLines(o.Stderr)

		for _, line := range stdout {
			fmt.Fprintf(b, "%s: %s\n", host, line)
		}
		for _, line := range stderr {
			fmt.Fprintf(b, "%s %s %s\n", host, f.paint(stderrStyle, "[stderr]:"), line)
		}

		if o.Succeeded() && len(stdout)+len(stderr) > 0 {
			continue
		}
		status := "[" + statusLabel(o) + "]"
		if o.Err != nil {
			status += " " + o.Err.Error()
		}
		fmt.Fprintf(b, "%s: %s\n", host, f.paint(classStyle(o.Class), status))
	}
}

// writeBlocks prints one block per host:
//
//	== web1 (ok, 1.2s)
//	<stdout>
//	stderr: <line>
func (f *Formatter) writeBlocks(b *strings.Builder, r *executor.RunResult) {
	for _, o := range f.visible(r) {
		header := fmt.Sprintf("== %s (%s", o.Host, statusLabel(o))
		if o.Class != executor.Skipped {
			header += ", " + o.Duration.Round(time.Millisecond).String()
		}
		header += ")"
		b.WriteString(f.paint(classStyle(o.Class), header))
		b.WriteString("\n")

		for _, line := range splitLines(o.Stdout) {
			b.WriteString(line)
			b.WriteString("\n")
		}
		for _, line := range splitLines(o.Stderr) {
			b.WriteString(f.paint(stderrStyle, "stderr: "+line))
			b.WriteString("\n")
		}
		if o.Err != nil {
			b.WriteString(f.paint(stderrStyle, "error: "+o.Err.Error()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}
