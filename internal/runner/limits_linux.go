//go:build linux

package runner

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// Apply installs the limits on the current process. Child processes
// inherit them, so the interpreter subprocess is covered too.
func (l ResourceLimits) Apply(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	set := func(resource int, value uint64, name string) error {
		rl := unix.Rlimit{Cur: value, Max: value}
		if err := unix.Setrlimit(resource, &rl); err != nil {
			return fmt.Errorf("set %s limit: %w", name, err)
		}
		return nil
	}

	if err := set(unix.RLIMIT_CPU, l.CPUSeconds, "CPU"); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_AS, l.MemoryMB*1024*1024, "address space"); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NOFILE, l.MaxFiles, "open files"); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NPROC, l.MaxProcesses, "process count"); err != nil {
		return err
	}

	logger.Debug("resource limits applied",
		"cpu_seconds", l.CPUSeconds,
		"memory_mb", l.MemoryMB,
		"max_files", l.MaxFiles,
		"max_processes", l.MaxProcesses,
	)
	return nil
}

// snapshotUsage collects the resource usage of this process and its
// waited-for children. The interpreter subprocess has been waited on by
// the time this runs, so its usage is included.
func snapshotUsage() Usage {
	var self, children unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &self); err != nil {
		return Usage{}
	}
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &children); err != nil {
		return Usage{}
	}

	cpu := timevalSeconds(self.Utime) + timevalSeconds(self.Stime) +
		timevalSeconds(children.Utime) + timevalSeconds(children.Stime)

	maxRSS := self.Maxrss
	if children.Maxrss > maxRSS {
		maxRSS = children.Maxrss
	}

	return Usage{
		CPUTime:             cpu,
		MaxRSSKB:            maxRSS,
		MajorFaults:         self.Majflt + children.Majflt,
		VoluntarySwitches:   self.Nvcsw + children.Nvcsw,
		InvoluntarySwitches: self.Nivcsw + children.Nivcsw,
	}
}

func timevalSeconds(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}
