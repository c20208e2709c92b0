package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/digitalcybersoft/mussh/internal/report"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// exitError carries a process exit code out of the command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// setupError reports a failure before any host was contacted.
func setupError(err error) error {
	return &exitError{code: report.ExitResolution, err: err}
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return report.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "mussh: %v\n", ee.err)
		}
		return ee.code
	}
	// Cobra flag and argument errors.
	fmt.Fprintf(stderr, "mussh: %v\n", err)
	fmt.Fprintln(stderr, "Run 'mussh --help' for usage.")
	return report.ExitResolution
}
