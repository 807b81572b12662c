package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Engine executes one program inside the already-constrained process.
// It is the child side of the runner: limits and filters apply to the
// Engine's own process and are inherited by the interpreter subprocess
// it spawns.
type Engine struct {
	env         *Env
	interpreter []string
	limits      ResourceLimits
	applyLimits bool
	seccomp     bool
	maxOutput   int
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLimits sets the resource ceilings applied before execution.
func WithLimits(l ResourceLimits) EngineOption {
	return func(e *Engine) { e.limits = l }
}

// WithoutLimits disables resource limit application. Unsafe outside
// tests.
func WithoutLimits() EngineOption {
	return func(e *Engine) { e.applyLimits = false }
}

// WithSeccomp enables the syscall deny-list filter.
func WithSeccomp(enabled bool) EngineOption {
	return func(e *Engine) { e.seccomp = enabled }
}

// WithMaxOutput bounds each captured stream in bytes.
func WithMaxOutput(n int) EngineOption {
	return func(e *Engine) { e.maxOutput = n }
}

// WithEngineLogger sets the logger for engine diagnostics.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine that feeds programs to the given
// interpreter command (the program text arrives on its stdin).
func NewEngine(env *Env, interpreter []string, opts ...EngineOption) *Engine {
	e := &Engine{
		env:         env,
		interpreter: interpreter,
		limits:      DefaultLimits(),
		applyLimits: true,
		maxOutput:   DefaultMaxOutputBytes,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one program to completion and returns its Result. Errors
// inside the program never propagate out as Go errors; every outcome,
// including catastrophic interpreter failure, is reported through the
// Result so the parent always receives a well-formed artifact.
func (e *Engine) Execute(ctx context.Context, code string) Result {
	if e.applyLimits {
		if err := e.limits.Apply(e.logger); err != nil {
			e.logger.Warn("could not apply all resource limits", "err", err)
		}
	}
	if e.seccomp {
		if err := EnableSeccomp(e.logger); err != nil {
			e.logger.Warn("could not enable seccomp filter", "err", err)
		}
	}

	stdout := NewCaptureBuffer(e.maxOutput)
	stderr := NewCaptureBuffer(e.maxOutput)

	cmd := exec.CommandContext(ctx, e.interpreter[0], e.interpreter[1:]...)
	cmd.Stdin = strings.NewReader(code)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = e.processEnv()

	runErr := cmd.Run()
	usage := snapshotUsage()

	result := Result{
		Status: StatusSuccess,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Usage:  usage,
	}

	switch {
	case runErr == nil:
		// success

	case interrupted(ctx, runErr):
		result.Status = StatusInterrupted
		if result.Stderr == "" {
			result.Stderr = "Execution interrupted"
		}

	default:
		result.Status = StatusError
		if result.Stderr == "" {
			result.Stderr = runErr.Error()
		}
	}

	e.logger.Debug("execution finished",
		"status", result.Status,
		"cpu_time", usage.CPUTime,
		"max_rss_kb", usage.MaxRSSKB,
	)
	return result
}

// interrupted reports whether runErr represents an external interrupt
// rather than a program failure.
func interrupted(ctx context.Context, runErr error) bool {
	if ctx.Err() != nil {
		return true
	}
	var ee *exec.ExitError
	if !errors.As(runErr, &ee) {
		return false
	}
	if ee.ExitCode() == ExitInterrupted {
		return true
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
		return ws.Signaled() && ws.Signal() == syscall.SIGINT
	}
	return false
}

// processEnv exposes the environment's paths to the interpreter so
// generated bindings can locate the servers directory and workspace.
func (e *Engine) processEnv() []string {
	env := os.Environ()
	if e.env != nil {
		if e.env.ServersDir != "" {
			env = append(env, "MCPFORGE_SERVERS_DIR="+e.env.ServersDir)
		}
		if e.env.Workspace != nil {
			env = append(env, "MCPFORGE_WORKSPACE="+e.env.Workspace.Root())
		}
		if _, deny := e.env.Net.(DenyNet); deny {
			env = append(env, "MCPFORGE_NO_NETWORK=1")
		}
	}
	return env
}
