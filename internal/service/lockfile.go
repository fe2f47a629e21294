// ABOUTME: Records a running service's URL in its lockfile for the CLI to find

package service

import (
	"log/slog"
	"net"

	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/statedir"
)

// withLockfile writes the lockfile for role and returns its cleanup. A
// lockfile that cannot be written only costs CLI discovery, so it is logged.
func withLockfile(role config.Role, addr net.Addr, logger *slog.Logger) func() {
	url := statedir.BaseURL(addr.String())
	path, err := statedir.WriteLockfile(string(role), url)
	if err != nil {
		logger.Warn("could not write lockfile", "role", role, "error", err)
		return func() {}
	}
	logger.Info("wrote lockfile", "path", path, "url", url)

	return func() {
		if err := statedir.RemoveLockfile(string(role)); err != nil {
			logger.Warn("could not remove lockfile", "path", path, "error", err)
		}
	}
}
