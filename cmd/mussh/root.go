package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/digitalcybersoft/mussh/internal/config"
	"github.com/digitalcybersoft/mussh/internal/executor"
	"github.com/digitalcybersoft/mussh/internal/hosts"
	"github.com/digitalcybersoft/mussh/internal/logging"
	"github.com/digitalcybersoft/mussh/internal/pathutil"
	"github.com/digitalcybersoft/mussh/internal/report"
	"github.com/digitalcybersoft/mussh/internal/ssh"
	"github.com/digitalcybersoft/mussh/internal/tracing"
)

// options holds the parsed command-line flags.
type options struct {
	hostFiles []string
	groups    []string
	command   string
	script    string
	shell     string

	concurrency    int
	timeout        time.Duration
	connectTimeout time.Duration
	stopOnFailure  bool
	retries        int

	login      string
	port       int
	identities []string
	jump       string
	insecure   bool
	noAgent    bool

	block      bool
	json       bool
	grouped    bool
	errorsOnly bool
	quiet      bool
	noColor    bool

	debug      bool
	logFormat  string
	traceFile  string
	configPath string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "mussh [flags] host... command",
		Short: "Run a shell command on many hosts over SSH",
		Long: `mussh runs the same shell command on a set of hosts in parallel and
prints every host's output, attributed and in host order.

Hosts are given as arguments (literal names, user@host, or glob patterns
matched against known hosts), read from host-list files (-H), or taken from
groups in the config file (-g). The command is the last argument, the value
of -c, or everything after "--".

Any flag except -c and -C can also be set as MUSSH_<FLAG>, for example
MUSSH_CONCURRENCY=50 or MUSSH_HOSTS_FILE=~/hosts. Flags win over the
environment, which wins over the config file.

Exit status: 0 all hosts succeeded, 1 some failed, 2 all failed,
3 nothing ran (no hosts, bad arguments or configuration).`,
		Example: `  mussh web1 web2 uptime
  mussh 'web*.example.com' -c 'df -h /'
  mussh -H hosts.txt -m 50 -t 10s -- systemctl is-active nginx
  mussh -g db -C ./rotate-logs.sh
  mussh -H hosts.txt --json hostname`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.execute(cmd, args, stdout, stderr)
		},
	}
	cmd.SetVersionTemplate("mussh {{.Version}}\n")

	f := cmd.Flags()
	f.StringArrayVarP(&o.hostFiles, "hosts-file", "H", nil, "read hosts from `file`, one per line (repeatable)")
	f.StringArrayVarP(&o.groups, "group", "g", nil, "add the hosts of a config `group` (repeatable)")
	f.StringVarP(&o.command, "command", "c", "", "command to run (default: last argument)")
	f.StringVarP(&o.script, "script", "C", "", "run a local script `file` through the remote shell")
	f.StringVarP(&o.shell, "shell", "s", "sh", "remote shell used with --script")

	f.IntVarP(&o.concurrency, "concurrency", "m", executor.DefaultConcurrency, "maximum number of hosts running at once")
	f.DurationVarP(&o.timeout, "timeout", "t", executor.DefaultTimeout, "per-host timeout, 0 for none")
	f.DurationVar(&o.connectTimeout, "connect-timeout", 0, "bound on connection setup per host, 0 for the per-host timeout only")
	f.BoolVarP(&o.stopOnFailure, "stop-on-failure", "x", false, "run hosts one at a time and stop after the first failure")
	f.IntVarP(&o.retries, "retries", "r", 0, "connection retries per host")

	f.StringVarP(&o.login, "login", "l", "", "SSH `user`")
	f.IntVarP(&o.port, "port", "p", 0, "SSH port")
	f.StringArrayVarP(&o.identities, "identity", "i", nil, "private key `file` (repeatable)")
	f.StringVarP(&o.jump, "jump", "J", "", "connect through jump `hosts` (ProxyJump syntax)")
	f.BoolVar(&o.insecure, "insecure", false, "accept host keys missing from known_hosts")
	f.BoolVar(&o.noAgent, "no-agent", false, "do not use ssh-agent")

	f.BoolVarP(&o.block, "block", "b", false, "print each host's output as one block")
	f.BoolVar(&o.json, "json", false, "print results as JSON")
	f.BoolVar(&o.grouped, "grouped", false, "group hosts with identical output and diff the rest (lists by group, not host order)")
	f.BoolVarP(&o.errorsOnly, "errors-only", "e", false, "show only hosts that failed")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "omit the summary line")
	f.BoolVar(&o.noColor, "no-color", false, "disable colored output")

	f.BoolVarP(&o.debug, "debug", "d", false, "log connection and dispatch details to stderr")
	f.StringVar(&o.logFormat, "log-format", "console", "log format: console or json")
	f.StringVar(&o.traceFile, "trace-file", "", "write OpenTelemetry spans to `file`")
	f.StringVar(&o.configPath, "config", "", "config `file` (default $XDG_CONFIG_HOME/mussh/config.yaml)")
	f.BoolP("version", "V", false, "print version and exit")

	cmd.MarkFlagsMutuallyExclusive("command", "script")
	cmd.MarkFlagsMutuallyExclusive("block", "json", "grouped")

	return cmd
}

func (o *options) execute(cmd *cobra.Command, args []string, stdout, stderr io.Writer) error {
	if err := applyEnv(cmd); err != nil {
		return setupError(err)
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return setupError(err)
	}
	o.applyDefaults(cmd, cfg)

	mode, err := o.outputMode(cfg)
	if err != nil {
		return setupError(err)
	}

	logger, err := logging.New(logging.Config{Debug: o.debug, Format: o.logFormat, Output: stderr})
	if err != nil {
		return setupError(err)
	}
	defer logger.Sync()

	shutdown, err := tracing.Init("mussh", version, o.traceFile)
	if err != nil {
		return setupError(err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	specs, command, stdin, err := o.commandLine(cmd, args)
	if err != nil {
		return setupError(err)
	}

	targets, err := o.resolveHosts(cfg, specs, logger)
	if err != nil {
		return setupError(err)
	}
	logger.Debug("hosts resolved", zap.Strings("hosts", targets), zap.String("command", command))

	transport := ssh.NewTransport(o.clientConfig(),
		ssh.WithHostConfigs(hostConfigs(cfg)),
		ssh.WithStdin(stdin),
	)
	defer transport.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.Attach(ctx, logger)

	exec := executor.New(transport,
		executor.WithConcurrency(o.concurrency),
		executor.WithTimeout(o.timeout),
		executor.WithStopOnFirstFailure(o.stopOnFailure),
		executor.WithRetries(o.retries),
	)
	result := exec.Dispatch(ctx, targets, command)
	if ctx.Err() != nil {
		logger.Warn("interrupted, reporting partial results")
	}

	formatter := &report.Formatter{
		Mode:       mode,
		ErrorsOnly: o.errorsOnly,
		Quiet:      o.quiet,
		Color:      o.useColor(stdout),
	}
	if err := formatter.Render(stdout, result); err != nil {
		return &exitError{code: report.ExitTotalFailure, err: fmt.Errorf("write output: %w", err)}
	}

	if code := report.ExitCode(result); code != report.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func (o *options) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.Load(o.configPath)
	}
	return config.LoadDefault()
}

// applyDefaults fills flags the user did not set from the config file.
func (o *options) applyDefaults(cmd *cobra.Command, cfg *config.Config) {
	d := cfg.Defaults
	changed := cmd.Flags().Changed
	if !changed("concurrency") && d.Concurrency > 0 {
		o.concurrency = d.Concurrency
	}
	if !changed("timeout") {
		o.timeout = d.Timeout.Duration
	}
	if !changed("connect-timeout") {
		o.connectTimeout = d.ConnectTimeout.Duration
	}
	if !changed("stop-on-failure") {
		o.stopOnFailure = d.StopOnFailure
	}
	if !changed("retries") {
		o.retries = d.Retries
	}
	if !changed("login") && d.User != "" {
		o.login = d.User
	}
	if !changed("shell") && d.Shell != "" {
		o.shell = d.Shell
	}
}

func (o *options) outputMode(cfg *config.Config) (report.Mode, error) {
	switch {
	case o.json:
		return report.ModeJSON, nil
	case o.block:
		return report.ModeBlock, nil
	case o.grouped:
		return report.ModeGrouped, nil
	default:
		return report.ParseMode(cfg.Defaults.Output)
	}
}

// commandLine splits positional arguments into host specs and the command.
// With --script the command is the remote shell reading the script on stdin.
func (o *options) commandLine(cmd *cobra.Command, args []string) (specs []string, command string, stdin []byte, err error) {
	switch dash := cmd.ArgsLenAtDash(); {
	case o.script != "":
		data, err := os.ReadFile(pathutil.ExpandHome(o.script))
		if err != nil {
			return nil, "", nil, fmt.Errorf("read script: %w", err)
		}
		return args, o.shell + " -s", data, nil
	case o.command != "":
		return args, o.command, nil, nil
	case dash >= 0:
		specs, command = args[:dash], strings.Join(args[dash:], " ")
	case len(args) > 0:
		specs, command = args[:len(args)-1], args[len(args)-1]
	}
	if strings.TrimSpace(command) == "" {
		return nil, "", nil, errors.New("no command given")
	}
	return specs, command, nil, nil
}

// resolveHosts expands specs, groups and host files into the target list.
// Patterns match hosts from the host files, ~/.ssh/config and config groups.
func (o *options) resolveHosts(cfg *config.Config, specs []string, logger *zap.Logger) ([]string, error) {
	groupHosts, err := cfg.ExpandGroups(o.groups)
	if err != nil {
		return nil, err
	}
	specs = append(specs, groupHosts...)

	var fileLines []string
	for _, path := range o.hostFiles {
		lines, err := hosts.ReadHostFile(path)
		if err != nil {
			return nil, err
		}
		fileLines = append(fileLines, lines...)
	}

	resolver := hosts.NewResolver(fileLines...)
	aliases, err := hosts.SSHConfigHosts(pathutil.SSHConfigPath())
	if err != nil {
		logger.Warn("ignoring ssh config", zap.Error(err))
	}
	resolver.AddCandidates(aliases...)
	resolver.AddCandidates(cfg.GroupHosts()...)

	return resolver.Resolve(specs, fileLines)
}

func (o *options) clientConfig() ssh.ClientConfig {
	conf := ssh.ClientConfig{
		User:               o.login,
		Port:               o.port,
		AcceptUnknownHosts: o.insecure,
		ProxyJump:          o.jump,
		ConnectTimeout:     o.connectTimeout,
	}
	for _, id := range o.identities {
		conf.IdentityFiles = append(conf.IdentityFiles, pathutil.ExpandHome(id))
	}
	if !o.noAgent {
		conf.Agent = ssh.NewAgent()
	}
	return conf
}

func hostConfigs(cfg *config.Config) map[string]ssh.HostConfig {
	overrides := cfg.HostOverrides()
	confs := make(map[string]ssh.HostConfig, len(overrides))
	for host, ov := range overrides {
		confs[host] = ssh.HostConfig{
			Hostname:     ov.Hostname,
			User:         ov.User,
			Port:         ov.Port,
			IdentityFile: pathutil.ExpandHome(ov.IdentityFile),
			ProxyJump:    ov.ProxyJump,
		}
	}
	return confs
}

// useColor enables color only for a terminal, and never with --no-color or
// $NO_COLOR.
func (o *options) useColor(w io.Writer) bool {
	if o.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
