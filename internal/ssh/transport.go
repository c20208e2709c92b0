package ssh

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HostConfig holds per-host SSH connection overrides.
type HostConfig struct {
	Hostname     string // actual hostname to dial (may differ from the map key)
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// Transport implements executor.Transport over fresh SSH connections: every
// Execute dials its own connection and closes it afterwards, so concurrent
// calls share nothing but the read-only configuration and the agent.
type Transport struct {
	baseConf  ClientConfig
	hostConfs map[string]HostConfig
	stdin     []byte
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHostConfigs sets per-host overrides, keyed by host token or bare hostname.
func WithHostConfigs(confs map[string]HostConfig) TransportOption {
	return func(t *Transport) {
		t.hostConfs = confs
	}
}

// WithStdin feeds data to every command's standard input, e.g. a script run
// by a remote shell.
func WithStdin(data []byte) TransportOption {
	return func(t *Transport) {
		t.stdin = data
	}
}

// NewTransport creates a Transport with a base config and options.
func NewTransport(baseConf ClientConfig, opts ...TransportOption) *Transport {
	t := &Transport{baseConf: baseConf}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute connects to host, runs command, and returns its exit status with
// the captured output. host may carry a "user@" prefix. Connection failures
// are returned as *ConnectError.
func (t *Transport) Execute(ctx context.Context, host, command string) (int, []byte, []byte, error) {
	conf, dialHost := t.resolve(host)

	client, err := Dial(ctx, dialHost, conf)
	if err != nil {
		return -1, nil, nil, WrapConnectError(host, fmt.Errorf("connect: %w", err))
	}
	defer client.Close()

	stdout, stderr, exitCode, err := client.RunCommand(ctx, command, t.stdin)
	return exitCode, stdout, stderr, err
}

// Close releases the agent connection shared by this transport's sessions.
func (t *Transport) Close() error {
	return t.baseConf.Agent.Close()
}

// resolve applies the user@ prefix and per-host overrides to the base config.
func (t *Transport) resolve(host string) (ClientConfig, string) {
	conf := t.baseConf
	dialHost := host
	if user, bare, ok := splitUserHost(host); ok {
		conf.User = user
		dialHost = bare
	}

	hc, ok := t.hostConfs[host]
	if !ok {
		hc, ok = t.hostConfs[dialHost]
	}
	if ok {
		if hc.Hostname != "" {
			dialHost = hc.Hostname
		}
		if hc.User != "" {
			conf.User = hc.User
		}
		if hc.Port > 0 {
			conf.Port = hc.Port
		}
		if hc.IdentityFile != "" {
			conf.IdentityFiles = []string{hc.IdentityFile}
		}
		if hc.ProxyJump != "" {
			conf.ProxyJump = hc.ProxyJump
		}
	}
	return conf, dialHost
}

// splitUserHost splits "user@host" into its components.
// Returns ("", "", false) if the input has no @ or the user part is empty.
func splitUserHost(s string) (user, host string, ok bool) {
	i := strings.LastIndex(s, "@")
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
