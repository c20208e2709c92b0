package report

import (
	"encoding/json"
	"time"

	"github.com/digitalcybersoft/mussh/internal/executor"
)

type jsonRun struct {
	RunID    string            `json:"run_id"`
	Command  string            `json:"command"`
	Status   string            `json:"status"`
	ExitCode int               `json:"exit_code"`
	Started  time.Time         `json:"started"`
	Duration string            `json:"duration"`
	Summary  map[string]int    `json:"summary"`
	Hosts    []jsonHostOutcome `json:"hosts"`
}

type jsonHostOutcome struct {
	Host       string `json:"host"`
	Index      int    `json:"index"`
	Status     string `json:"status"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Duration   string `json:"duration"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FormatJSON serializes the run as an indented JSON document.
func (f *Formatter) FormatJSON(r *executor.RunResult) ([]byte, error) {
	summary := make(map[string]int)
	for class, n := range r.Counts() {
		summary[class.String()] = n
	}

	doc := jsonRun{
		RunID:    r.ID,
		Command:  r.Command,
		Status:   r.Status().String(),
		ExitCode: ExitCode(r),
		Started:  r.Started,
		Duration: r.Duration.String(),
		Summary:  summary,
		Hosts:    []jsonHostOutcome{},
	}
	for _, o := range f.visible(r) {
		h := jsonHostOutcome{
			Host:       o.Host,
			Index:      o.Index,
			Status:     o.Class.String(),
			ExitStatus: o.ExitStatus,
			Stdout:     string(o.Stdout),
			Stderr:     string(o.Stderr),
			Duration:   o.Duration.String(),
			Attempts:   o.Attempts,
		}
		if o.Err != nil {
			h.Error = o.Err.Error()
		}
		doc.Hosts = append(doc.Hosts, h)
	}

	return json.MarshalIndent(doc, "", "  ")
}
