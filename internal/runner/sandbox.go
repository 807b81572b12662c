package runner

import (
	"fmt"
	"os/exec"
	"strings"
)

// SandboxKind selects an external sandbox for process isolation.
type SandboxKind string

const (
	SandboxNone       SandboxKind = ""
	SandboxBubblewrap SandboxKind = "bubblewrap"
	SandboxFirejail   SandboxKind = "firejail"
)

// ParseSandboxKind converts a flag value into a SandboxKind.
func ParseSandboxKind(s string) (SandboxKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SandboxNone, nil
	case "bubblewrap", "bwrap":
		return SandboxBubblewrap, nil
	case "firejail":
		return SandboxFirejail, nil
	default:
		return "", fmt.Errorf("unknown sandbox %q", s)
	}
}

// sandboxArgv wraps argv in the sandbox's command line. The returned
// slice starts with the resolved sandbox binary path.
func sandboxArgv(kind SandboxKind, workspaceDir string, argv []string) ([]string, error) {
	switch kind {
	case SandboxBubblewrap:
		path, err := exec.LookPath("bwrap")
		if err != nil {
			return nil, fmt.Errorf("bubblewrap not installed: %w", err)
		}
		wrapped := []string{
			path,
			"--ro-bind", "/", "/",
			"--dev", "/dev",
			"--proc", "/proc",
			"--tmpfs", "/tmp",
			"--unshare-net",
			"--die-with-parent",
		}
		if workspaceDir != "" {
			wrapped = append(wrapped, "--bind", workspaceDir, workspaceDir)
		}
		return append(wrapped, argv...), nil

	case SandboxFirejail:
		path, err := exec.LookPath("firejail")
		if err != nil {
			return nil, fmt.Errorf("firejail not installed: %w", err)
		}
		wrapped := []string{
			path,
			"--quiet",
			"--net=none",
			"--caps.drop=all",
			"--nosound",
			"--x11=none",
		}
		if workspaceDir != "" {
			wrapped = append(wrapped, "--whitelist="+workspaceDir)
		}
		return append(wrapped, argv...), nil

	default:
		return nil, fmt.Errorf("no sandbox wrapping for kind %q", kind)
	}
}
