//go:build !linux

package runner

import (
	"fmt"
	"log/slog"
	"runtime"
)

// RelaunchSandboxed fails on platforms without the supported sandboxes.
func RelaunchSandboxed(kind SandboxKind, workspaceDir string, argv []string, logger *slog.Logger) error {
	return fmt.Errorf("sandbox %q not supported on %s", kind, runtime.GOOS)
}
