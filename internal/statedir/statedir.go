// ABOUTME: XDG config/state paths and the lockfiles servers leave for the CLI
// ABOUTME: A lockfile holds the base URL a running server listens on

package statedir

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const appName = "nightlife"

// ErrNoLockfile is returned when no server has left a lockfile behind.
var ErrNoLockfile = errors.New("no lockfile found")

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// ConfigDir returns $XDG_CONFIG_HOME/nightlife.
func ConfigDir() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName)
}

// StateDir returns $XDG_STATE_HOME/nightlife.
func StateDir() string {
	return filepath.Join(xdgDir("XDG_STATE_HOME", ".local", "state"), appName)
}

// ConfigFile joins parts under ConfigDir.
func ConfigFile(parts ...string) string {
	return filepath.Join(append([]string{ConfigDir()}, parts...)...)
}

// File joins parts under StateDir.
func File(parts ...string) string {
	return filepath.Join(append([]string{StateDir()}, parts...)...)
}

// LockfilePath is where the server for role records its URL.
func LockfilePath(role string) string {
	return File(role + ".lock")
}

// BaseURL turns a listen address into a URL clients can reach. Wildcard
// hosts are replaced with loopback.
func BaseURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// WriteLockfile records url for role, creating the state directory.
func WriteLockfile(role, url string) (string, error) {
	path := LockfilePath(role)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(url), 0o644); err != nil {
		return "", fmt.Errorf("writing lockfile: %w", err)
	}
	return path, nil
}

// ReadLockfile returns the URL recorded for role.
func ReadLockfile(role string) (string, error) {
	data, err := os.ReadFile(LockfilePath(role))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w for %s", ErrNoLockfile, role)
	}
	if err != nil {
		return "", fmt.Errorf("reading lockfile: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoveLockfile deletes the lockfile for role. A missing file is not an error.
func RemoveLockfile(role string) error {
	err := os.Remove(LockfilePath(role))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
