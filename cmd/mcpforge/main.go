// Mcpforge is a client-side toolkit for MCP servers.
//
// It detects which HTTP transport a server speaks, negotiates a
// JSON-RPC session, fetches tool schemas into a local catalog, invokes
// tools, and executes agent code in a resource-limited child process.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); every command also
// works without one, falling back to built-in defaults.
//
// Usage:
//
//	mcpforge probe <url>                 Detect the server's transport
//	mcpforge fetch <url> [name]          Fetch tool schemas (and catalog them)
//	mcpforge call <url> <tool> [json]    Invoke a tool with JSON arguments
//	mcpforge run [file]                  Execute agent code in the sandboxed runner
//	mcpforge search <query>              Find generated tool bindings
//	mcpforge servers                     List cataloged servers
//	mcpforge tools <server>              List cataloged tools for a server
//	mcpforge version                     Print version and build information
//	mcpforge -o json version             Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/davefern/mcpforge/internal/buildinfo"
	"github.com/davefern/mcpforge/internal/catalog"
	"github.com/davefern/mcpforge/internal/config"
	"github.com/davefern/mcpforge/internal/mcp"
	"github.com/davefern/mcpforge/internal/privacy"
	"github.com/davefern/mcpforge/internal/runner"
	"github.com/davefern/mcpforge/internal/search"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// command surface can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the mcpforge command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process, stdout receives command output, stderr receives logs,
// and args is os.Args[1:]. We parse arguments manually rather than with
// the flag package to avoid global state that interferes with parallel
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "probe":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: mcpforge probe <url>")
		}
		return runProbe(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0])
	case "fetch":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: mcpforge fetch <url> [name]")
		}
		name := ""
		if len(cmdArgs) > 1 {
			name = cmdArgs[1]
		}
		return runFetch(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0], name)
	case "call":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: mcpforge call <url> <tool> [json-args]")
		}
		rawArgs := "{}"
		if len(cmdArgs) > 2 {
			rawArgs = cmdArgs[2]
		}
		return runCall(ctx, stdout, stderr, configPath, cmdArgs[0], cmdArgs[1], rawArgs)
	case "run":
		file := ""
		if len(cmdArgs) > 0 {
			file = cmdArgs[0]
		}
		return runExec(ctx, stdout, stderr, configPath, file)
	case "search":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: mcpforge search <query>")
		}
		return runSearch(stdout, configPath, outputFmt, cmdArgs[0])
	case "servers":
		return runServers(stdout, configPath, outputFmt)
	case "tools":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: mcpforge tools <server>")
		}
		return runTools(stdout, configPath, outputFmt, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runProbe handles "mcpforge probe <url>". It runs transport detection
// once and reports the result. Probing is best-effort and never fails;
// an unreachable or unrecognizable server reports "unknown".
func runProbe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt, baseURL string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	prober := mcp.NewProber(mcp.ProberConfig{
		ConnectTimeout:  cfg.Client.ProbeConnectTimeout(),
		ReadTimeout:     cfg.Client.ProbeReadTimeout(),
		ProtocolVersion: cfg.Client.ProtocolVersion,
		Logger:          logger,
	})

	transport := prober.Detect(ctx, baseURL)

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		return enc.Encode(map[string]string{"url": baseURL, "transport": string(transport)})
	}
	fmt.Fprintln(stdout, transport)
	return nil
}

// runFetch handles "mcpforge fetch <url> [name]". It fetches the
// server's full tool list, prints it, and records it in the catalog
// when one is configured. The server's catalog name defaults to the
// URL's host.
func runFetch(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt, baseURL, name string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	prober := mcp.NewProber(mcp.ProberConfig{
		ConnectTimeout:  cfg.Client.ProbeConnectTimeout(),
		ReadTimeout:     cfg.Client.ProbeReadTimeout(),
		ProtocolVersion: cfg.Client.ProtocolVersion,
		Logger:          logger,
	})
	transport := prober.Detect(ctx, baseURL)
	logger.Info("transport detected", "url", baseURL, "transport", transport)

	tools, err := mcp.FetchSchema(ctx, baseURL, mcp.FetchOptions{
		Transport:       transport,
		Headers:         cfg.Client.Headers,
		ProtocolVersion: cfg.Client.ProtocolVersion,
		AttemptTimeout:  cfg.Client.FetchAttemptTimeout(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("fetch schema from %s: %w", baseURL, err)
	}

	if name == "" {
		name = serverName(baseURL)
	}

	if cfg.Catalog.Path != "" {
		store, err := catalog.NewStore(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("open catalog %s: %w", cfg.Catalog.Path, err)
		}
		defer store.Close()

		srv := catalog.Server{
			Name:            name,
			BaseURL:         baseURL,
			Transport:       transport,
			ProtocolVersion: cfg.Client.ProtocolVersion,
			FetchedAt:       time.Now(),
		}
		if err := store.SaveServer(srv, tools); err != nil {
			return fmt.Errorf("catalog save: %w", err)
		}
		logger.Info("catalog updated", "server", name, "tools", len(tools))
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}
	fmt.Fprintf(stdout, "%s (%s, %d tools)\n", name, transport, len(tools))
	for _, t := range tools {
		desc := t.Description
		if len(desc) > 72 {
			desc = desc[:69] + "..."
		}
		fmt.Fprintf(stdout, "  %-28s %s\n", t.Name, desc)
	}
	return nil
}

// runCall handles "mcpforge call <url> <tool> [json-args]". It stands
// up a full client (probe, initialize, session), invokes one tool, and
// prints the raw JSON result. PII scrubbing applies only to logs; the
// tool result is printed verbatim.
func runCall(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, baseURL, tool, rawArgs string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	var arguments map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
		return fmt.Errorf("parse tool arguments: %w", err)
	}

	client := mcp.NewClient(baseURL,
		mcp.WithClientLogger(logger),
		mcp.WithHeaders(cfg.Client.Headers),
		mcp.WithProtocolVersion(cfg.Client.ProtocolVersion),
		mcp.WithRequestTimeout(cfg.Client.RequestTimeout()),
		mcp.WithRetries(cfg.Client.Retries),
		mcp.WithBackoffBase(cfg.Client.BackoffBase()),
	)

	result, err := client.CallTool(ctx, tool, arguments)
	if err != nil {
		return fmt.Errorf("call %s: %w", tool, err)
	}

	var pretty any
	if err := json.Unmarshal(result, &pretty); err != nil {
		// Not JSON; print as-is.
		fmt.Fprintln(stdout, string(result))
		return nil
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

// runExec handles "mcpforge run [file]". Agent code comes from the
// named file, or stdin when no file is given. The code executes in a
// separate child process (mcpforge-runner) under resource limits; the
// child's JSON result is decoded and its captured output replayed to
// stdout and stderr.
func runExec(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, file string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	opts := runner.Options{
		File:           file,
		Interpreter:    cfg.Runner.Interpreter,
		ServersDir:     cfg.Runner.ServersDir,
		WorkspaceDir:   cfg.Workspace.Path,
		PrivacyLevel:   cfg.Privacy.Level,
		CPUSeconds:     uint64(cfg.Runner.CPUSeconds),
		MemoryMB:       uint64(cfg.Runner.MemoryMB),
		MaxFiles:       uint64(cfg.Runner.MaxFiles),
		MaxProcesses:   uint64(cfg.Runner.MaxProcesses),
		MaxOutputBytes: cfg.Runner.MaxOutputBytes,
		DisableNetwork: cfg.Runner.DisableNetwork,
		Seccomp:        cfg.Runner.Seccomp,
	}
	if cfg.Runner.Sandbox != "" {
		kind, err := runner.ParseSandboxKind(cfg.Runner.Sandbox)
		if err != nil {
			return err
		}
		opts.Sandbox = kind
	}
	if file == "" {
		code, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read code from stdin: %w", err)
		}
		opts.Code = string(code)
	}

	binary, err := runnerBinary()
	if err != nil {
		return err
	}

	r := runner.New(binary, runner.WithRunnerLogger(logger))
	result, err := r.Invoke(ctx, opts)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	io.WriteString(stdout, result.Stdout)
	io.WriteString(stderr, result.Stderr)
	if result.Status != runner.StatusSuccess {
		return fmt.Errorf("execution finished with status %s", result.Status)
	}
	return nil
}

// runSearch handles "mcpforge search <query>": finds generated tool
// bindings under the configured servers directory by name or glob
// pattern, without loading them.
func runSearch(stdout io.Writer, configPath, outputFmt, query string) error {
	cfg, _, err := setup(io.Discard, configPath)
	if err != nil {
		return err
	}

	refs, err := search.Search(query, cfg.Runner.ServersDir, search.DetailBasic)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(refs)
	}
	for _, ref := range refs {
		if ref.Summary != "" {
			fmt.Fprintf(stdout, "%-32s %s\n", ref.String(), ref.Summary)
		} else {
			fmt.Fprintln(stdout, ref.String())
		}
	}
	return nil
}

// runServers handles "mcpforge servers": lists every server recorded in
// the catalog with its transport and tool count.
func runServers(stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := setup(io.Discard, configPath)
	if err != nil {
		return err
	}
	if cfg.Catalog.Path == "" {
		return fmt.Errorf("no catalog configured (set catalog.path in config)")
	}

	store, err := catalog.NewStore(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", cfg.Catalog.Path, err)
	}
	defer store.Close()

	servers, err := store.Servers()
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(servers)
	}
	for _, s := range servers {
		fmt.Fprintf(stdout, "%-20s %-16s %3d tools  fetched %s\n",
			s.Name, s.Transport, s.ToolCount, s.FetchedAt.Format(time.RFC3339))
	}
	return nil
}

// runTools handles "mcpforge tools <server>": lists the cataloged tool
// definitions for one server.
func runTools(stdout io.Writer, configPath, outputFmt, server string) error {
	cfg, _, err := setup(io.Discard, configPath)
	if err != nil {
		return err
	}
	if cfg.Catalog.Path == "" {
		return fmt.Errorf("no catalog configured (set catalog.path in config)")
	}

	store, err := catalog.NewStore(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", cfg.Catalog.Path, err)
	}
	defer store.Close()

	tools, err := store.Tools(server)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		return fmt.Errorf("no tools cataloged for %q (try: mcpforge fetch <url> %s)", server, server)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}
	for _, t := range tools {
		fmt.Fprintf(stdout, "%s\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(stdout, "  %s\n", t.Description)
		}
		if len(t.InputSchema.Required) > 0 {
			fmt.Fprintf(stdout, "  required: %s\n", strings.Join(t.InputSchema.Required, ", "))
		}
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// mcpforge is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Mcpforge - MCP client toolkit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mcpforge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  probe <url>               Detect the server's transport")
	fmt.Fprintln(w, "  fetch <url> [name]        Fetch tool schemas (and catalog them)")
	fmt.Fprintln(w, "  call <url> <tool> [json]  Invoke a tool with JSON arguments")
	fmt.Fprintln(w, "  run [file]                Execute agent code in the sandboxed runner")
	fmt.Fprintln(w, "  search <query>            Find generated tool bindings by name or glob")
	fmt.Fprintln(w, "  servers                   List cataloged servers")
	fmt.Fprintln(w, "  tools <server>            List cataloged tools for a server")
	fmt.Fprintln(w, "  version                   Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./mcpforge.yaml, ~/.config/mcpforge/mcpforge.yaml, /etc/mcpforge/mcpforge.yaml")
	return nil
}

// setup loads configuration and builds the logger every subcommand
// shares. A missing config file is not an error unless the user named
// one explicitly: all defaults are serviceable. Logs go to stderr so
// stdout stays clean for command output.
func setup(stderr io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, err = config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
	}

	privLevel, err := privacy.ParseLevel(cfg.Privacy.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(stderr, level, privacy.NewScrubber(privLevel))

	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	}
	return cfg, logger, nil
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Otherwise [config.FindConfig] searches the default locations, and
// finding nothing falls back to [config.Default].
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger creates a structured logger that writes to w at the given
// level. Every record passes through the privacy scrubbing handler, so
// PII that reaches a log line is redacted before it is emitted.
func newLogger(w io.Writer, level slog.Level, scrubber *privacy.Scrubber) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	return slog.New(privacy.NewLogHandler(slog.NewTextHandler(w, opts), scrubber))
}

// serverName derives a catalog name from a server URL: the host, or
// the raw string when it does not parse.
func serverName(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Host
}

// runnerBinary locates the mcpforge-runner child binary: first next to
// the running executable, then on PATH.
func runnerBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "mcpforge-runner")
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("mcpforge-runner")
	if err != nil {
		return "", fmt.Errorf("mcpforge-runner binary not found (looked next to the executable and on PATH)")
	}
	return path, nil
}
