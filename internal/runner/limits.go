package runner

// ResourceLimits are OS-enforced ceilings applied to the execution
// process before any user code runs. They are never relaxed during
// execution; exceeding one terminates the process.
type ResourceLimits struct {
	// CPUSeconds caps total CPU time.
	CPUSeconds uint64

	// MemoryMB caps address space in megabytes.
	MemoryMB uint64

	// MaxFiles caps open file descriptors.
	MaxFiles uint64

	// MaxProcesses caps the process count for the executing user.
	MaxProcesses uint64
}

// DefaultLimits returns the standard execution ceilings.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		CPUSeconds:   10,
		MemoryMB:     512,
		MaxFiles:     64,
		MaxProcesses: 64,
	}
}
