package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	sshconfig "github.com/kevinburke/ssh_config"
	"go.uber.org/zap"

	"github.com/digitalcybersoft/mussh/internal/logging"
)

const defaultPort = 22

// ClientConfig holds the connection settings shared by every host of a run.
// Zero values fall back to ~/.ssh/config and then to OpenSSH defaults.
type ClientConfig struct {
	User string
	Port int

	// IdentityFiles replaces the ssh_config and default key lookup when set.
	IdentityFiles []string

	// Agent supplies signers from a running ssh-agent. Nil disables agent auth.
	Agent *Agent

	// AcceptUnknownHosts skips known_hosts verification.
	AcceptUnknownHosts bool

	// HostKeyCallback, when set, replaces known_hosts verification entirely.
	HostKeyCallback ssh.HostKeyCallback

	// ProxyJump is a comma-separated list of jump hosts in ssh -J syntax.
	// "none" disables jumping, including any ProxyJump from ssh_config.
	ProxyJump string

	// ConnectTimeout bounds each TCP connect and SSH handshake. Zero leaves
	// only the caller's context in charge.
	ConnectTimeout time.Duration
}

// endpoint is one resolved SSH destination: the name it was asked for and
// where and as whom to connect.
type endpoint struct {
	alias string
	addr  string
	user  string
}

// resolveEndpoint fills user, port and hostname for alias. Explicit values
// win over ~/.ssh/config, which wins over the local user and port 22.
func resolveEndpoint(alias, user string, port int) endpoint {
	if user == "" {
		user = sshconfig.Get(alias, "User")
	}
	if user == "" {
		user = localUser()
	}
	if port == 0 {
		port, _ = strconv.Atoi(sshconfig.Get(alias, "Port"))
	}
	if port == 0 {
		port = defaultPort
	}
	hostname := alias
	if hn := sshconfig.Get(alias, "HostName"); hn != "" {
		hostname = strings.ReplaceAll(hn, "%h", alias)
	}
	return endpoint{
		alias: alias,
		addr:  net.JoinHostPort(hostname, strconv.Itoa(port)),
		user:  user,
	}
}

func localUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "root"
}

// jumpChain returns the hops in front of alias, outermost first.
func jumpChain(alias string, conf ClientConfig) []endpoint {
	spec := conf.ProxyJump
	if spec == "" {
		spec = sshconfig.Get(alias, "ProxyJump")
	}
	if spec == "" || spec == "none" {
		return nil
	}

	var hops []endpoint
	for _, part := range strings.Split(spec, ",") {
		user, host, port := parseJumpHost(part)
		if host == "" {
			continue
		}
		hops = append(hops, resolveEndpoint(host, user, port))
	}
	return hops
}

// parseJumpHost splits one ProxyJump element of the form [user@]host[:port].
func parseJumpHost(spec string) (user, host string, port int) {
	spec = strings.TrimSpace(spec)
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		user, spec = spec[:at], spec[at+1:]
	}
	h, p, err := net.SplitHostPort(spec)
	if err != nil {
		return user, spec, 0
	}
	port, _ = strconv.Atoi(p)
	return user, h, port
}

// Dial opens an authenticated connection to host, tunnelling through the
// configured jump hosts. ctx and ConnectTimeout bound connection setup only.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	if conf.ConnectTimeout <= 0 {
		return dialChain(ctx, host, conf)
	}

	setupCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
	defer cancel()
	c, err := dialChain(setupCtx, host, conf)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// Our own bound expired, not the caller's: a connection failure.
		return nil, fmt.Errorf("no connection within %s", conf.ConnectTimeout)
	}
	return c, err
}

func dialChain(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	log := logging.FromContext(ctx)

	start := time.Now()
	var hops []*Client
	var via *Client
	for _, hop := range jumpChain(host, conf) {
		c, err := connect(ctx, via, hop, conf)
		if err != nil {
			closeReverse(hops)
			return nil, fmt.Errorf("jump host %s: %w", hop.alias, err)
		}
		log.Debug("jump host connected", zap.String("jump", hop.alias), zap.String("host", host))
		hops = append(hops, c)
		via = c
	}

	c, err := connect(ctx, via, resolveEndpoint(host, conf.User, conf.Port), conf)
	if err != nil {
		closeReverse(hops)
		if via != nil {
			return nil, fmt.Errorf("via %s: %w", via.host, err)
		}
		return nil, err
	}
	c.jumps = hops
	log.Debug("connected", zap.String("host", host), zap.Int("jumps", len(hops)), zap.Duration("took", time.Since(start)))
	return c, nil
}

// connect reaches ep directly, or through via when it is non-nil, and runs
// the SSH handshake.
func connect(ctx context.Context, via *Client, ep endpoint, conf ClientConfig) (*Client, error) {
	cfg, err := sshClientConfig(ep, conf)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	if via == nil {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", ep.addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep.addr, err)
		}
	} else {
		conn, err = via.conn.DialContext(ctx, "tcp", ep.addr)
		if err != nil {
			return nil, fmt.Errorf("tunnel to %s: %w", ep.addr, err)
		}
	}
	return handshake(ctx, conn, ep, cfg)
}

// handshake runs the SSH handshake over conn and abandons it when ctx ends.
func handshake(ctx context.Context, conn net.Conn, ep endpoint, cfg *ssh.ClientConfig) (*Client, error) {
	type established struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan established, 1)
	go func() {
		sc, chans, reqs, err := ssh.NewClientConn(conn, ep.addr, cfg)
		if err != nil {
			ch <- established{err: err}
			return
		}
		ch <- established{client: ssh.NewClient(sc, chans, reqs)}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	case e := <-ch:
		if e.err != nil {
			conn.Close()
			return nil, fmt.Errorf("ssh handshake with %s: %w", ep.addr, e.err)
		}
		return &Client{host: ep.alias, conn: e.client}, nil
	}
}

func closeReverse(clients []*Client) {
	for i := len(clients) - 1; i >= 0; i-- {
		clients[i].Close()
	}
}
