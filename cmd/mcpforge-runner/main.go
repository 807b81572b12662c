// Mcpforge-runner is the sandboxed execution child of mcpforge.
//
// It is not meant to be invoked by hand: the parent process (mcpforge
// run, or any embedder of internal/runner) spawns it with a flag set
// mirroring [runner.Options], feeds program text on stdin, and decodes
// a single JSON [runner.Result] from its stdout. Everything the program
// prints is captured into the result, never written through.
//
// The child constrains itself before any program text is read: an
// optional sandbox re-exec first (the process is replaced, nothing
// after it runs), then resource limits, then the optional seccomp
// filter. The interpreter subprocess inherits all of it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/davefern/mcpforge/internal/config"
	"github.com/davefern/mcpforge/internal/privacy"
	"github.com/davefern/mcpforge/internal/runner"
	"github.com/davefern/mcpforge/internal/workspace"
)

// childOptions mirrors the flag surface emitted by the parent's
// invocation builder, plus a few knobs only useful when running the
// child directly (interpreter override, -no-limits for tests).
type childOptions struct {
	file        string
	interpreter []string
	serversDir  string
	workspace   string
	privacy     string

	cpuSeconds   uint64
	memoryMB     uint64
	maxFiles     uint64
	maxProcesses uint64

	maxOutputBytes int

	disableNetwork bool
	seccomp        bool
	noLimits       bool
	sandbox        string
}

func main() {
	ctx := context.Background()

	code, err := childMain(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// childMain is the real entry point. It returns the process exit code
// derived from the execution result, or an error for failures that
// happen before any result can be produced (bad flags, unreadable
// program file, sandbox launch failure).
func childMain(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) (int, error) {
	opts, err := parseArgs(args)
	if err != nil {
		return 0, err
	}

	scrubLevel, err := privacy.ParseLevel(opts.privacy)
	if err != nil {
		return 0, err
	}
	scrubber := privacy.NewScrubber(scrubLevel)
	logger := newLogger(stderr, scrubber)

	// Sandbox re-exec happens before anything else touches the program
	// or the filesystem. The re-exec'd child sees the same argv minus
	// the -sandbox flag, so it falls through to normal execution.
	if opts.sandbox != "" {
		kind, err := runner.ParseSandboxKind(opts.sandbox)
		if err != nil {
			return 0, err
		}
		if kind != runner.SandboxNone {
			self, err := os.Executable()
			if err != nil {
				return 0, fmt.Errorf("resolve own executable: %w", err)
			}
			argv := append([]string{self}, stripSandboxFlag(args)...)
			// Replaces the process on success. Returning at all means
			// the sandbox could not be launched.
			err = runner.RelaunchSandboxed(kind, opts.workspace, argv, logger)
			return 0, fmt.Errorf("sandbox relaunch: %w", err)
		}
	}

	code, err := readProgram(stdin, opts.file)
	if err != nil {
		return 0, err
	}

	ws, err := workspace.New(opts.workspace, workspace.WithLogger(logger))
	if err != nil {
		return 0, fmt.Errorf("open workspace: %w", err)
	}

	var net runner.NetPolicy = runner.NewAllowNet()
	if opts.disableNetwork {
		net = runner.DenyNet{}
	}

	env := &runner.Env{
		ServersDir: opts.serversDir,
		Workspace:  ws,
		Logger:     logger,
		Scrubber:   scrubber,
		Net:        net,
	}

	engineOpts := []runner.EngineOption{
		runner.WithSeccomp(opts.seccomp),
		runner.WithEngineLogger(logger),
	}
	if opts.noLimits {
		engineOpts = append(engineOpts, runner.WithoutLimits())
	} else {
		limits := runner.DefaultLimits()
		if opts.cpuSeconds > 0 {
			limits.CPUSeconds = opts.cpuSeconds
		}
		if opts.memoryMB > 0 {
			limits.MemoryMB = opts.memoryMB
		}
		if opts.maxFiles > 0 {
			limits.MaxFiles = opts.maxFiles
		}
		if opts.maxProcesses > 0 {
			limits.MaxProcesses = opts.maxProcesses
		}
		engineOpts = append(engineOpts, runner.WithLimits(limits))
	}
	if opts.maxOutputBytes > 0 {
		engineOpts = append(engineOpts, runner.WithMaxOutput(opts.maxOutputBytes))
	}

	engine := runner.NewEngine(env, opts.interpreter, engineOpts...)

	// SIGINT and SIGTERM cancel the context; the engine reports the
	// outcome as interrupted and we still emit a complete result.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result := engine.Execute(ctx, code)

	if err := json.NewEncoder(stdout).Encode(result); err != nil {
		return 0, fmt.Errorf("encode result: %w", err)
	}
	return result.Status.ExitCode(), nil
}

// parseArgs parses the child's flags by hand, matching the parent's
// invocation builder one to one. Unknown flags are an error so drift
// between parent and child surfaces immediately.
func parseArgs(args []string) (childOptions, error) {
	opts := childOptions{
		interpreter:    []string{"python3", "-"},
		serversDir:     "servers",
		workspace:      ".workspace",
		privacy:        "basic",
		maxOutputBytes: runner.DefaultMaxOutputBytes,
	}

	// -interpreter repeats, one argv element per flag. The first
	// occurrence replaces the default instead of appending to it.
	interpreterSet := false

	next := func(i int, name string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", name)
		}
		return args[i+1], nil
	}
	parseUint := func(i int, name string) (uint64, error) {
		v, err := next(i, name)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("flag %s: %w", name, err)
		}
		return n, nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "-file":
			opts.file, err = next(i, "-file")
			i++
		case "-interpreter":
			var v string
			v, err = next(i, "-interpreter")
			if !interpreterSet {
				opts.interpreter = nil
				interpreterSet = true
			}
			opts.interpreter = append(opts.interpreter, v)
			i++
		case "-servers-dir":
			opts.serversDir, err = next(i, "-servers-dir")
			i++
		case "-workspace":
			opts.workspace, err = next(i, "-workspace")
			i++
		case "-privacy":
			opts.privacy, err = next(i, "-privacy")
			i++
		case "-cpu-seconds":
			opts.cpuSeconds, err = parseUint(i, "-cpu-seconds")
			i++
		case "-memory-mb":
			opts.memoryMB, err = parseUint(i, "-memory-mb")
			i++
		case "-max-files":
			opts.maxFiles, err = parseUint(i, "-max-files")
			i++
		case "-max-processes":
			opts.maxProcesses, err = parseUint(i, "-max-processes")
			i++
		case "-max-output-bytes":
			var n uint64
			n, err = parseUint(i, "-max-output-bytes")
			opts.maxOutputBytes = int(n)
			i++
		case "-disable-network":
			opts.disableNetwork = true
		case "-seccomp":
			opts.seccomp = true
		case "-no-limits":
			opts.noLimits = true
		case "-sandbox":
			opts.sandbox, err = next(i, "-sandbox")
			i++
		default:
			return opts, fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return opts, err
		}
	}

	return opts, nil
}

// stripSandboxFlag returns args without the -sandbox flag and its
// value, so the re-exec'd process runs the program instead of
// recursing into another sandbox launch.
func stripSandboxFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-sandbox" {
			i++ // skip the value too
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// readProgram returns the program text: the named file when -file was
// given, otherwise everything on stdin.
func readProgram(stdin io.Reader, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read program file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read program from stdin: %w", err)
	}
	return string(data), nil
}

// newLogger builds the child's diagnostic logger. It writes to stderr
// (stdout carries only the JSON result) and scrubs PII from every
// record before it is emitted.
func newLogger(w io.Writer, scrubber *privacy.Scrubber) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	return slog.New(privacy.NewLogHandler(slog.NewTextHandler(w, opts), scrubber))
}
