package ssh

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/digitalcybersoft/mussh/internal/pathutil"
)

// defaultKeys are tried in order when no identity is configured.
var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

func sshClientConfig(ep endpoint, conf ClientConfig) (*ssh.ClientConfig, error) {
	hostKeys, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}
	return &ssh.ClientConfig{
		User:            ep.user,
		Auth:            authMethods(ep.alias, conf),
		HostKeyCallback: hostKeys,
	}, nil
}

// authMethods orders the agent first, then every key file that parses.
// Passphrase-protected keys are skipped; load them into the agent instead.
func authMethods(alias string, conf ClientConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if m := conf.Agent.authMethod(); m != nil {
		methods = append(methods, m)
	}

	files := conf.IdentityFiles
	if len(files) == 0 {
		files = identityFiles(alias)
	}
	var signers []ssh.Signer
	for _, f := range files {
		if s, err := readSigner(f); err == nil {
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods
}

// identityFiles lists the ssh_config IdentityFile for alias followed by the
// default keys that exist under ~/.ssh.
func identityFiles(alias string) []string {
	var files []string
	for _, f := range sshconfig.GetAll(alias, "IdentityFile") {
		files = append(files, pathutil.ExpandHome(f))
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultKeys {
			files = append(files, filepath.Join(home, ".ssh", name))
		}
	}

	existing := files[:0]
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	return existing
}

func readSigner(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(pathutil.ExpandHome(path))
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(pem)
}

// resolveHostKeyCallback picks the caller's callback, the insecure one, or
// ~/.ssh/known_hosts, in that order.
func resolveHostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	switch {
	case conf.HostKeyCallback != nil:
		return conf.HostKeyCallback, nil
	case conf.AcceptUnknownHosts:
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locate home directory: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", path)
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return cb, nil
}
