package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Client.ProtocolVersion != "2025-06-18" {
		t.Errorf("protocol version = %q, want %q", cfg.Client.ProtocolVersion, "2025-06-18")
	}
	if got := cfg.Client.RequestTimeout(); got != 7*time.Second {
		t.Errorf("request timeout = %v, want 7s", got)
	}
	if got := cfg.Client.ProbeConnectTimeout(); got != 1500*time.Millisecond {
		t.Errorf("probe connect timeout = %v, want 1.5s", got)
	}
	if got := cfg.Client.ProbeReadTimeout(); got != 400*time.Millisecond {
		t.Errorf("probe read timeout = %v, want 400ms", got)
	}
	if got := cfg.Client.BackoffBase(); got != 300*time.Millisecond {
		t.Errorf("backoff base = %v, want 300ms", got)
	}
	if cfg.Client.Retries != 2 {
		t.Errorf("retries = %d, want 2", cfg.Client.Retries)
	}
	if cfg.Runner.CPUSeconds != 10 || cfg.Runner.MemoryMB != 512 {
		t.Errorf("runner limits = %d/%d, want 10/512", cfg.Runner.CPUSeconds, cfg.Runner.MemoryMB)
	}
	if cfg.Runner.MaxOutputBytes != 200*1024 {
		t.Errorf("max output = %d, want %d", cfg.Runner.MaxOutputBytes, 200*1024)
	}
	if cfg.Privacy.Level != "basic" {
		t.Errorf("privacy level = %q, want %q", cfg.Privacy.Level, "basic")
	}
	if cfg.Workspace.Path != ".workspace" {
		t.Errorf("workspace path = %q, want %q", cfg.Workspace.Path, ".workspace")
	}
}

func TestLoadAppliesDefaultsToUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpforge.yaml")
	yaml := `
client:
  request_timeout_sec: 3
  headers:
    Authorization: Bearer test-token
privacy:
  level: strict
catalog:
  path: /tmp/catalog.db
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Client.RequestTimeout(); got != 3*time.Second {
		t.Errorf("request timeout = %v, want 3s", got)
	}
	if cfg.Client.Headers["Authorization"] != "Bearer test-token" {
		t.Errorf("headers = %v, want Authorization set", cfg.Client.Headers)
	}
	if cfg.Privacy.Level != "strict" {
		t.Errorf("privacy level = %q, want %q", cfg.Privacy.Level, "strict")
	}
	if cfg.Catalog.Path != "/tmp/catalog.db" {
		t.Errorf("catalog path = %q", cfg.Catalog.Path)
	}
	// Unset fields still get defaults.
	if cfg.Client.Retries != 2 {
		t.Errorf("retries = %d, want default 2", cfg.Client.Retries)
	}
	if cfg.Runner.ServersDir != "servers" {
		t.Errorf("servers dir = %q, want default %q", cfg.Runner.ServersDir, "servers")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpforge.yaml")
	if err := os.WriteFile(path, []byte("client: [not a mapping"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestFindConfigExplicitMustExist(t *testing.T) {
	if _, err := FindConfig("/nonexistent/mcpforge.yaml"); err == nil {
		t.Error("expected an error for a missing explicit path")
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("FindConfig = %q, want %q", got, path)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected an error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	got := ReplaceLogLevelNames(nil, a)
	if got.Value.String() != "TRACE" {
		t.Errorf("trace level renders as %q, want %q", got.Value.String(), "TRACE")
	}

	other := slog.String("msg", "unchanged")
	if got := ReplaceLogLevelNames(nil, other); got.Value.String() != "unchanged" {
		t.Errorf("non-level attr modified: %v", got)
	}
}
