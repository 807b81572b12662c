// Package config handles mcpforge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./mcpforge.yaml, ~/.config/mcpforge/mcpforge.yaml, /etc/mcpforge/mcpforge.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"mcpforge.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpforge", "mcpforge.yaml"))
	}

	paths = append(paths, "/etc/mcpforge/mcpforge.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mcpforge configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Runner    RunnerConfig    `yaml:"runner"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	LogLevel  string          `yaml:"log_level"`
}

// ClientConfig defines MCP client connection behavior.
type ClientConfig struct {
	// ProtocolVersion is the MCP protocol version advertised during
	// initialization. The server may negotiate a different one.
	ProtocolVersion string `yaml:"protocol_version"`
	// RequestTimeoutSec bounds each JSON-RPC request (default 7).
	RequestTimeoutSec float64 `yaml:"request_timeout_sec"`
	// ProbeConnectTimeoutSec bounds TCP connect during transport probing (default 1.5).
	ProbeConnectTimeoutSec float64 `yaml:"probe_connect_timeout_sec"`
	// ProbeReadTimeoutSec bounds response reads during transport probing (default 0.4).
	ProbeReadTimeoutSec float64 `yaml:"probe_read_timeout_sec"`
	// FetchAttemptTimeoutSec bounds each streaming-session attempt during
	// schema fetching (default 7).
	FetchAttemptTimeoutSec float64 `yaml:"fetch_attempt_timeout_sec"`
	// Retries is the number of additional tool-call attempts after the
	// first transport-level failure (default 2).
	Retries int `yaml:"retries"`
	// BackoffBaseMs is the first retry delay in milliseconds; each
	// subsequent delay doubles (default 300).
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	// Headers are extra HTTP headers sent with every request (e.g. Authorization).
	Headers map[string]string `yaml:"headers"`
}

// RunnerConfig defines sandboxed execution defaults.
type RunnerConfig struct {
	// Interpreter is the command that executes agent code read from stdin.
	Interpreter []string `yaml:"interpreter"`
	// ServersDir holds generated tool bindings, one directory per server.
	ServersDir string `yaml:"servers_dir"`
	// CPUSeconds is the CPU time ceiling for agent code (default 10).
	CPUSeconds int `yaml:"cpu_seconds"`
	// MemoryMB is the address-space ceiling in megabytes (default 512).
	MemoryMB int `yaml:"memory_mb"`
	// MaxFiles is the open file descriptor ceiling (default 64).
	MaxFiles int `yaml:"max_files"`
	// MaxProcesses is the process count ceiling (default 64).
	MaxProcesses int `yaml:"max_processes"`
	// MaxOutputBytes caps captured stdout and stderr independently (default 200 KiB).
	MaxOutputBytes int `yaml:"max_output_bytes"`
	// DisableNetwork denies network access to agent code. Enabled network
	// is the default because bindings call MCP tools over HTTP.
	DisableNetwork bool `yaml:"disable_network"`
	// Seccomp installs the syscall deny-list filter (Linux only).
	Seccomp bool `yaml:"seccomp"`
	// Sandbox re-executes the runner under an external sandbox utility.
	Sandbox string `yaml:"sandbox"`
}

// PrivacyConfig defines PII scrubbing behavior.
type PrivacyConfig struct {
	// Level is "basic" or "strict" (default basic).
	Level string `yaml:"level"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for agent file I/O (default .workspace).
	Path string `yaml:"path"`
}

// CatalogConfig defines tool definition persistence.
type CatalogConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// Load reads and parses the config file at path, applying defaults for
// any unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a Config populated with all default values.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Client.ProtocolVersion == "" {
		c.Client.ProtocolVersion = "2025-06-18"
	}
	if c.Client.RequestTimeoutSec == 0 {
		c.Client.RequestTimeoutSec = 7.0
	}
	if c.Client.ProbeConnectTimeoutSec == 0 {
		c.Client.ProbeConnectTimeoutSec = 1.5
	}
	if c.Client.ProbeReadTimeoutSec == 0 {
		c.Client.ProbeReadTimeoutSec = 0.4
	}
	if c.Client.FetchAttemptTimeoutSec == 0 {
		c.Client.FetchAttemptTimeoutSec = 7.0
	}
	if c.Client.Retries == 0 {
		c.Client.Retries = 2
	}
	if c.Client.BackoffBaseMs == 0 {
		c.Client.BackoffBaseMs = 300
	}
	if len(c.Runner.Interpreter) == 0 {
		c.Runner.Interpreter = []string{"python3", "-"}
	}
	if c.Runner.ServersDir == "" {
		c.Runner.ServersDir = "servers"
	}
	if c.Runner.CPUSeconds == 0 {
		c.Runner.CPUSeconds = 10
	}
	if c.Runner.MemoryMB == 0 {
		c.Runner.MemoryMB = 512
	}
	if c.Runner.MaxFiles == 0 {
		c.Runner.MaxFiles = 64
	}
	if c.Runner.MaxProcesses == 0 {
		c.Runner.MaxProcesses = 64
	}
	if c.Runner.MaxOutputBytes == 0 {
		c.Runner.MaxOutputBytes = 200 * 1024
	}
	if c.Privacy.Level == "" {
		c.Privacy.Level = "basic"
	}
	if c.Workspace.Path == "" {
		c.Workspace.Path = ".workspace"
	}
}

// RequestTimeout returns the per-request timeout as a Duration.
func (c ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec * float64(time.Second))
}

// ProbeConnectTimeout returns the probe connect timeout as a Duration.
func (c ClientConfig) ProbeConnectTimeout() time.Duration {
	return time.Duration(c.ProbeConnectTimeoutSec * float64(time.Second))
}

// ProbeReadTimeout returns the probe read timeout as a Duration.
func (c ClientConfig) ProbeReadTimeout() time.Duration {
	return time.Duration(c.ProbeReadTimeoutSec * float64(time.Second))
}

// FetchAttemptTimeout returns the per-attempt schema fetch timeout as a Duration.
func (c ClientConfig) FetchAttemptTimeout() time.Duration {
	return time.Duration(c.FetchAttemptTimeoutSec * float64(time.Second))
}

// BackoffBase returns the first retry delay as a Duration.
func (c ClientConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}
