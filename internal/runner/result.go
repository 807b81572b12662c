// Package runner executes agent-written code in a constrained child
// process: resource limits, optional syscall filtering and sandboxing,
// bounded output capture, and a structured result.
package runner

import "fmt"

// Status is the terminal outcome of one execution.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
)

// Exit codes used at the process boundary.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitInterrupted = 130
)

// ExitCode maps a status to its process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusError:
		return ExitError
	case StatusInterrupted:
		return ExitInterrupted
	default:
		return ExitSuccess
	}
}

// Usage is a resource-usage snapshot, collected once at the end of an
// execution regardless of outcome.
type Usage struct {
	// CPUTime is user plus system CPU seconds.
	CPUTime float64 `json:"cpu_time"`

	// MaxRSSKB is peak resident set size in kilobytes.
	MaxRSSKB int64 `json:"max_rss_kb"`

	// MajorFaults counts page faults that required I/O.
	MajorFaults int64 `json:"page_faults"`

	VoluntarySwitches   int64 `json:"voluntary_switches"`
	InvoluntarySwitches int64 `json:"involuntary_switches"`
}

// Result is the sole outcome artifact of one execution. It is created
// once per invocation and never mutated afterwards.
type Result struct {
	Status Status `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Usage  Usage  `json:"usage"`
}

// LimitViolationError reports a child process terminated by the OS for
// exceeding a resource ceiling. There is no structured result in this
// case; the only evidence is the abnormal exit.
type LimitViolationError struct {
	ExitCode int
	Signal   string
}

func (e *LimitViolationError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("execution killed by %s (resource limit exceeded)", e.Signal)
	}
	return fmt.Sprintf("execution terminated abnormally with exit code %d", e.ExitCode)
}
