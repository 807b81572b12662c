//go:build !(linux && (amd64 || arm64))

package runner

import (
	"log/slog"
	"runtime"
)

// EnableSeccomp is a logged no-op where syscall filtering is
// unavailable. Callers asked for a weaker sandbox than they requested,
// so the log line is a warning, not debug noise.
func EnableSeccomp(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("seccomp filtering not supported on this platform",
		"platform", runtime.GOOS+"/"+runtime.GOARCH)
	return nil
}

// SeccompSupported reports whether this build can install a filter.
func SeccompSupported() bool { return false }
