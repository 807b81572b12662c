//go:build !linux

package runner

import (
	"log/slog"
	"runtime"
)

// Apply is a logged no-op on platforms without rlimit support. The
// warning is deliberate: limits silently not applying would be worse
// than not applying at all.
func (l ResourceLimits) Apply(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("resource limits not supported on this platform, running unconstrained",
		"platform", runtime.GOOS)
	return nil
}

func snapshotUsage() Usage {
	return Usage{}
}
