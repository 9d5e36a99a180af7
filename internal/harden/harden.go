// Package harden applies process-level protections for a daemon that holds
// secrets in memory.
package harden

import "log/slog"

// Apply disables core dumps and logs the outcome. A failure is logged and
// returned but the daemon may continue; memguard buffers stay excluded from
// dumps either way.
func Apply() error {
	logger := slog.With("component", "harden")
	if err := disableCoreDumps(); err != nil {
		logger.Warn("could not disable core dumps", "error", err)
		return err
	}
	logger.Debug("core dumps disabled")
	return nil
}
