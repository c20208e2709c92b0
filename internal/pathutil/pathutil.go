// Package pathutil resolves user-facing paths: "~/" prefixes and the XDG
// config directory.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading ~/ to the user's home directory.
// ~user/ paths are returned unchanged.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// ConfigDir returns the configuration directory for app: $XDG_CONFIG_HOME/app
// when set, ~/.config/app otherwise. It returns "" if no home directory is known.
func ConfigDir(app string) string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, app)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", app)
}

// SSHConfigPath returns the path of the user's OpenSSH client config.
func SSHConfigPath() string {
	return ExpandHome("~/.ssh/config")
}
