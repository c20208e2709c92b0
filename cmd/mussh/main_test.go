package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalcybersoft/mussh/internal/report"
	"github.com/digitalcybersoft/mussh/internal/sshtest"
)

type cli struct {
	t       *testing.T
	port    int
	keyPath string
}

// newCLI isolates the environment and starts a test SSH server. The handler
// fails commands for user "bad" and echoes the user otherwise.
func newCLI(t *testing.T, opts ...sshtest.Option) *cli {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("SSH_AUTH_SOCK", "")
	t.Setenv("NO_COLOR", "")

	pubKey, keyPath := sshtest.GenerateKey(t)
	handler := sshtest.WithHandler(func(req sshtest.Request) (string, string, int) {
		if req.User == "bad" {
			return "", "permission denied\n", 1
		}
		return req.User + " ran " + req.Command + "\n", "", 0
	})
	addr := sshtest.Start(t, append([]sshtest.Option{sshtest.WithPublicKey(pubKey), handler}, opts...)...)
	_, port := sshtest.ParseAddr(t, addr)
	return &cli{t: t, port: port, keyPath: keyPath}
}

// run invokes the CLI with connection flags for the test server prepended.
func (c *cli) run(args ...string) (code int, stdout, stderr string) {
	c.t.Helper()
	base := []string{"-p", strconv.Itoa(c.port), "-i", c.keyPath, "--insecure", "--no-agent", "-l", "ops"}
	return runCLI(append(base, args...)...)
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHelp(t *testing.T) {
	code, stdout, _ := runCLI("--help")
	assert.Equal(t, report.ExitOK, code)
	assert.Contains(t, stdout, "Usage:")
	assert.Contains(t, stdout, "--hosts-file")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI("-V")
	assert.Equal(t, report.ExitOK, code)
	assert.Equal(t, "mussh dev\n", stdout)
}

func TestUnknownFlag(t *testing.T) {
	code, _, stderr := runCLI("--bogus", "web1", "uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "unknown flag")
}

func TestNoCommand(t *testing.T) {
	newCLI(t)
	code, _, stderr := runCLI()
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "no command given")
}

func TestNoHosts(t *testing.T) {
	c := newCLI(t)
	code, stdout, stderr := c.run("uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "no hosts specified")
}

func TestUnmatchedPattern(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("db*", "uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "no hosts match db*")
}

func TestMissingHostFile(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("-H", filepath.Join(t.TempDir(), "nope"), "uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "host file")
}

func TestRunSuccess(t *testing.T) {
	c := newCLI(t)
	code, stdout, stderr := c.run("127.0.0.1", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: ops ran uptime\n1 succeeded\n", stdout)
}

func TestRunCommandFlagAndDash(t *testing.T) {
	c := newCLI(t)

	code, stdout, stderr := c.run("-q", "-c", "df -h", "127.0.0.1")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: ops ran df -h\n", stdout)

	code, stdout, stderr = c.run("-q", "127.0.0.1", "--", "ls", "-la")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: ops ran ls -la\n", stdout)
}

func TestRunPartialFailure(t *testing.T) {
	c := newCLI(t)
	code, stdout, _ := c.run("ok@127.0.0.1", "bad@127.0.0.1", "id")
	assert.Equal(t, report.ExitPartialFailure, code)
	assert.Contains(t, stdout, "ok@127.0.0.1: ok ran id\n")
	assert.Contains(t, stdout, "bad@127.0.0.1 [stderr]: permission denied\n")
	assert.Contains(t, stdout, "bad@127.0.0.1: [command failed, exit 1]\n")
	assert.Contains(t, stdout, "1 succeeded, 1 non-zero exit")
}

func TestRunTotalFailure(t *testing.T) {
	c := newCLI(t)
	code, _, _ := c.run("bad@127.0.0.1", "id")
	assert.Equal(t, report.ExitTotalFailure, code)
}

func TestRunDeduplicatesHosts(t *testing.T) {
	c := newCLI(t)
	hostFile := writeFile(t, "hosts", "# lab\n127.0.0.1\nroot@127.0.0.1\n")
	code, stdout, stderr := c.run("-q", "-H", hostFile, "127.0.0.1", "hostname")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: ops ran hostname\nroot@127.0.0.1: root ran hostname\n", stdout)
}

func TestRunJSON(t *testing.T) {
	c := newCLI(t)
	code, stdout, stderr := c.run("--json", "127.0.0.1", "bad@127.0.0.1", "whoami")
	require.Equal(t, report.ExitPartialFailure, code, stderr)

	var doc struct {
		Status   string `json:"status"`
		ExitCode int    `json:"exit_code"`
		Hosts    []struct {
			Host   string `json:"host"`
			Status string `json:"status"`
		} `json:"hosts"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc), stdout)
	assert.Equal(t, "partial failure", doc.Status)
	assert.Equal(t, report.ExitPartialFailure, doc.ExitCode)
	require.Len(t, doc.Hosts, 2)
	assert.Equal(t, "127.0.0.1", doc.Hosts[0].Host)
	assert.Equal(t, "command failed", doc.Hosts[1].Status)
}

func TestRunScript(t *testing.T) {
	c := newCLI(t)
	script := writeFile(t, "check.sh", "echo hello\n")
	code, stdout, stderr := c.run("-q", "-s", "bash", "-C", script, "127.0.0.1")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: ops ran bash -s\n", stdout)
}

func TestCommandAndScriptExclusive(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("-c", "id", "-C", "x.sh", "127.0.0.1")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "none of the others can be")
}

func TestConfigGroupsAndDefaults(t *testing.T) {
	c := newCLI(t)
	cfg := writeFile(t, "config.yaml", `
defaults:
  output: block
  user: deploy
groups:
  local:
    hosts: [127.0.0.1]
`)

	code, stdout, stderr := c.runNoLogin("--config", cfg, "-q", "-g", "local", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Contains(t, stdout, "== 127.0.0.1 (ok, exit 0, ")
	assert.Contains(t, stdout, "deploy ran uptime\n")

	// Group hosts are candidates for patterns.
	code, stdout, stderr = c.runNoLogin("--config", cfg, "-q", "--json", "127.0.0.?", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Contains(t, stdout, `"host": "127.0.0.1"`)
}

func TestConfigGroupHostname(t *testing.T) {
	c := newCLI(t)
	cfg := writeFile(t, "config.yaml", `
groups:
  lab:
    hosts: [node1]
    hostname: 127.0.0.1
`)

	code, stdout, stderr := c.run("--config", cfg, "-q", "-g", "lab", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "node1: ops ran uptime\n", stdout)
}

func TestConfigInvalid(t *testing.T) {
	c := newCLI(t)
	cfg := writeFile(t, "config.yaml", "defaults:\n  concurrency: -4\n")
	code, _, stderr := c.run("--config", cfg, "127.0.0.1", "uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "invalid config")
}

func TestUnknownGroup(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("-g", "web", "uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, `group "web" not found`)
}

func TestTraceFile(t *testing.T) {
	c := newCLI(t)
	tracePath := filepath.Join(t.TempDir(), "spans.json")
	code, _, stderr := c.run("-q", "--trace-file", tracePath, "127.0.0.1", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"dispatch"`)
	assert.Contains(t, string(data), `"Name":"session"`)
}

func TestEnvironmentOverrides(t *testing.T) {
	c := newCLI(t)
	cfg := writeFile(t, "config.yaml", "defaults:\n  user: deploy\n")
	t.Setenv("MUSSH_LOGIN", "envuser")

	code, stdout, stderr := c.runNoLogin("--config", cfg, "-q", "127.0.0.1", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: envuser ran uptime\n", stdout)

	// An explicit flag beats the environment.
	code, stdout, stderr = c.run("-q", "127.0.0.1", "uptime")
	require.Equal(t, report.ExitOK, code, stderr)
	assert.Equal(t, "127.0.0.1: ops ran uptime\n", stdout)
}

func TestEnvironmentInvalidValue(t *testing.T) {
	c := newCLI(t)
	t.Setenv("MUSSH_CONCURRENCY", "lots")
	code, _, stderr := c.run("127.0.0.1", "uptime")
	assert.Equal(t, report.ExitResolution, code)
	assert.Contains(t, stderr, "MUSSH_CONCURRENCY")
}

// runNoLogin is run without -l so the config's default user applies.
func (c *cli) runNoLogin(args ...string) (int, string, string) {
	c.t.Helper()
	base := []string{"-p", strconv.Itoa(c.port), "-i", c.keyPath, "--insecure", "--no-agent"}
	return runCLI(append(base, args...)...)
}
