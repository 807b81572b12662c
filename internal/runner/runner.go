package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Options are the parameters of one runner invocation, mirroring the
// child binary's flags.
type Options struct {
	// Code is the program text, fed to the child on stdin. Ignored when
	// File is set.
	Code string

	// File names a program file for the child to read instead of stdin.
	File string

	// Interpreter is the command the child runs to execute the program,
	// e.g. ["python3", "-"]. Empty means the child's default.
	Interpreter []string

	ServersDir   string
	WorkspaceDir string

	// PrivacyLevel selects the child's scrubbing level ("basic" or
	// "strict"). Empty means the child's default.
	PrivacyLevel string

	CPUSeconds   uint64
	MemoryMB     uint64
	MaxFiles     uint64
	MaxProcesses uint64

	MaxOutputBytes int

	DisableNetwork bool
	Seccomp        bool
	Sandbox        SandboxKind
}

// Runner launches the execution child process and collects its result.
// The parent's only interaction with the child is launch, feed stdin,
// wait, and decode the result from the child's stdout.
type Runner struct {
	binary string
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger for invocation diagnostics.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner that spawns the given child binary.
func New(binary string, opts ...RunnerOption) *Runner {
	r := &Runner{binary: binary, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Invoke runs one program in a child process and returns its Result.
// Program failures come back inside the Result, not as an error; a
// returned error means the invocation itself failed, including the
// child being killed by a resource limit (*LimitViolationError).
func (r *Runner) Invoke(ctx context.Context, opts Options) (*Result, error) {
	args := r.buildArgs(opts)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	if opts.File == "" {
		cmd.Stdin = strings.NewReader(opts.Code)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("invoking runner child", "binary", r.binary, "args", args)
	runErr := cmd.Run()

	// The child emits a JSON result on stdout for every outcome it
	// survives long enough to report, including error and interrupted
	// exits. Only an OS kill leaves the stream empty or partial.
	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err == nil && result.Status != "" {
		return &result, nil
	}

	if runErr == nil {
		return nil, fmt.Errorf("runner child produced no result: %s", strings.TrimSpace(stderr.String()))
	}

	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		violation := &LimitViolationError{ExitCode: ee.ExitCode()}
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			violation.Signal = ws.Signal().String()
		}
		return nil, violation
	}
	return nil, fmt.Errorf("invoke runner child: %w", runErr)
}

func (r *Runner) buildArgs(opts Options) []string {
	var args []string
	if opts.File != "" {
		args = append(args, "-file", opts.File)
	}
	// One flag per argv element, so interpreter paths containing
	// spaces survive the trip through the child's command line.
	for _, word := range opts.Interpreter {
		args = append(args, "-interpreter", word)
	}
	if opts.ServersDir != "" {
		args = append(args, "-servers-dir", opts.ServersDir)
	}
	if opts.WorkspaceDir != "" {
		args = append(args, "-workspace", opts.WorkspaceDir)
	}
	if opts.PrivacyLevel != "" {
		args = append(args, "-privacy", opts.PrivacyLevel)
	}
	if opts.CPUSeconds > 0 {
		args = append(args, "-cpu-seconds", strconv.FormatUint(opts.CPUSeconds, 10))
	}
	if opts.MemoryMB > 0 {
		args = append(args, "-memory-mb", strconv.FormatUint(opts.MemoryMB, 10))
	}
	if opts.MaxFiles > 0 {
		args = append(args, "-max-files", strconv.FormatUint(opts.MaxFiles, 10))
	}
	if opts.MaxProcesses > 0 {
		args = append(args, "-max-processes", strconv.FormatUint(opts.MaxProcesses, 10))
	}
	if opts.MaxOutputBytes > 0 {
		args = append(args, "-max-output-bytes", strconv.Itoa(opts.MaxOutputBytes))
	}
	if opts.DisableNetwork {
		args = append(args, "-disable-network")
	}
	if opts.Seccomp {
		args = append(args, "-seccomp")
	}
	if opts.Sandbox != SandboxNone {
		args = append(args, "-sandbox", string(opts.Sandbox))
	}
	return args
}
