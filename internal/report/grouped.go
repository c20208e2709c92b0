package report

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/digitalcybersoft/mussh/internal/executor"
)

// OutputGroup is a set of hosts whose command produced identical output and
// exit status.
type OutputGroup struct {
	Hosts      []string // host-list order
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
	IsNorm     bool   // the largest group
	Diff       string // unified diff of stdout against the norm; empty for the norm
}

// Grouped holds outcomes split into output groups and hosts whose command
// never completed.
type Grouped struct {
	Groups     []OutputGroup
	Incomplete []*executor.HostOutcome // connection failures, timeouts, skipped, cancelled
}

// GroupOutcomes groups completed outcomes by identical stdout, stderr and
// exit status. The largest group is the norm (first seen wins a tie) and is
// listed first; other groups follow in first-seen order with a diff against
// the norm.
func GroupOutcomes(outcomes []*executor.HostOutcome) *Grouped {
	g := &Grouped{}

	groups := make(map[[sha256.Size]byte]*OutputGroup)
	var order [][sha256.Size]byte

	for _, o := range outcomes {
		if o.Class != executor.OK && o.Class != executor.RemoteCommandFailed {
			g.Incomplete = append(g.Incomplete, o)
			continue
		}
		key := outputKey(o)
		grp, ok := groups[key]
		if !ok {
			grp = &OutputGroup{Stdout: o.Stdout, Stderr: o.Stderr, ExitStatus: o.ExitStatus}
			groups[key] = grp
			order = append(order, key)
		}
		grp.Hosts = append(grp.Hosts, o.Host)
	}

	if len(order) == 0 {
		return g
	}

	norm := order[0]
	for _, k := range order[1:] {
		if len(groups[k].Hosts) > len(groups[norm].Hosts) {
			norm = k
		}
	}
	normGroup := groups[norm]
	normGroup.IsNorm = true
	g.Groups = append(g.Groups, *normGroup)

	for _, k := range order {
		if k == norm {
			continue
		}
		grp := groups[k]
		grp.Diff = unifiedDiff(string(normGroup.Stdout), string(grp.Stdout))
		g.Groups = append(g.Groups, *grp)
	}
	return g
}

// outputKey hashes stdout, stderr and exit status. NUL separators keep
// "a"+"bc" apart from "ab"+"c".
func outputKey(o *executor.HostOutcome) [sha256.Size]byte {
	h := sha256.New()
	h.Write(o.Stdout)
	h.Write([]byte{0})
	h.Write(o.Stderr)
	h.Write([]byte{0})
	var status [4]byte
	binary.BigEndian.PutUint32(status[:], uint32(int32(o.ExitStatus)))
	h.Write(status[:])

	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

func unifiedDiff(norm, outlier string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(norm),
		B:        difflib.SplitLines(outlier),
		FromFile: "norm",
		ToFile:   "outlier",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

// writeGroups prints hosts with identical output together, then the hosts
// whose command never completed.
func (f *Formatter) writeGroups(b *strings.Builder, r *executor.RunResult) {
	grouped := GroupOutcomes(f.visible(r))
	for i := range grouped.Groups {
		f.writeGroup(b, &grouped.Groups[i], len(grouped.Groups))
		b.WriteString("\n")
	}
	for _, o := range grouped.Incomplete {
		label := fmt.Sprintf(" %s:", o.Class)
		b.WriteString(f.paint(classStyle(o.Class), label))
		b.WriteString("\n   ")
		b.WriteString(f.paint(hostStyle, o.Host))
		if o.Err != nil {
			fmt.Fprintf(b, " (%s)", o.Err)
		}
		b.WriteString("\n\n")
	}
}

func (f *Formatter) writeGroup(b *strings.Builder, g *OutputGroup, totalGroups int) {
	hostCount := len(g.Hosts)
	hostWord := "hosts"
	if hostCount == 1 {
		hostWord = "host"
	}

	switch {
	case g.ExitStatus != 0:
		b.WriteString(f.paint(headerFailStyle, fmt.Sprintf(" %d %s exited with code %d:", hostCount, hostWord, g.ExitStatus)))
	case g.IsNorm && totalGroups == 1 && hostCount == 1:
		b.WriteString(f.paint(headerOKStyle, fmt.Sprintf(" %d %s:", hostCount, hostWord)))
	case g.IsNorm:
		b.WriteString(f.paint(headerOKStyle, fmt.Sprintf(" %d %s identical:", hostCount, hostWord)))
	default:
		verb := "differ"
		if hostCount == 1 {
			verb = "differs"
		}
		b.WriteString(f.paint(headerDifferStyle, fmt.Sprintf(" %d %s %s:", hostCount, hostWord, verb)))
	}
	b.WriteString("\n   ")
	b.WriteString(f.paint(hostStyle, strings.Join(g.Hosts, ", ")))
	b.WriteString("\n")

	for _, line := range splitLines(g.Stdout) {
		b.WriteString("   ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, line := range splitLines(g.Stderr) {
		b.WriteString("   ")
		b.WriteString(f.paint(stderrStyle, "stderr: "+line))
		b.WriteString("\n")
	}

	if !g.IsNorm && g.Diff != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(strings.TrimRight(g.Diff, "\n"), "\n") {
			b.WriteString("   ")
			switch {
			case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "@@"):
				b.WriteString(f.paint(diffHdrStyle, line))
			case strings.HasPrefix(line, "+"):
				b.WriteString(f.paint(diffAddStyle, line))
			case strings.HasPrefix(line, "-"):
				b.WriteString(f.paint(diffDelStyle, line))
			default:
				b.WriteString(line)
			}
			b.WriteString("\n")
		}
	}
}
