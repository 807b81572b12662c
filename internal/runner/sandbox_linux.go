//go:build linux

package runner

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// RelaunchSandboxed replaces the current process with a sandboxed copy
// of itself running argv. It is a launch-and-never-return operation:
// on success control never comes back, so a non-nil return value always
// means the replacement failed and the caller is still in the original
// process. There is no result to await.
func RelaunchSandboxed(kind SandboxKind, workspaceDir string, argv []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	wrapped, err := sandboxArgv(kind, workspaceDir, argv)
	if err != nil {
		return err
	}

	logger.Debug("replacing process with sandboxed launch", "sandbox", string(kind), "argv0", wrapped[0])
	if err := unix.Exec(wrapped[0], wrapped, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", wrapped[0], err)
	}
	// Unreachable: Exec does not return on success.
	return nil
}
