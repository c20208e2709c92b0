package hosts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/digitalcybersoft/mussh/internal/pathutil"
)

// HostFileError reports a host-list file that could not be read.
type HostFileError struct {
	Path string
	Err  error
}

func (e *HostFileError) Error() string {
	return fmt.Sprintf("host file %s: %v", e.Path, e.Err)
}

func (e *HostFileError) Unwrap() error {
	return e.Err
}

// ReadHostFile reads a host-list file: one host per line, blank lines and
// lines starting with '#' skipped, trailing "# comment" removed.
func ReadHostFile(path string) ([]string, error) {
	f, err := os.Open(pathutil.ExpandHome(path))
	if err != nil {
		return nil, &HostFileError{Path: path, Err: err}
	}
	defer f.Close()

	hosts, err := ParseHostList(f)
	if err != nil {
		return nil, &HostFileError{Path: path, Err: err}
	}
	return hosts, nil
}

// ParseHostList parses host-list lines from r in file order.
func ParseHostList(r io.Reader) ([]string, error) {
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return hosts, nil
}

// SSHConfigHosts returns the literal Host aliases declared in an OpenSSH
// client config, in file order. Wildcard and negated patterns are skipped.
// A missing file yields no hosts.
func SSHConfigHosts(path string) ([]string, error) {
	f, err := os.Open(pathutil.ExpandHome(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parse ssh config %s: %w", path, err)
	}

	var hosts []string
	for _, h := range cfg.Hosts {
		for _, p := range h.Patterns {
			s := p.String()
			// A negated pattern stringifies without its '!' but never matches itself.
			if IsPattern(s) || !h.Matches(s) {
				continue
			}
			hosts = append(hosts, s)
		}
	}
	return hosts, nil
}
