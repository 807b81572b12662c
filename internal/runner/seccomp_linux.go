//go:build linux && (amd64 || arm64)

package runner

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// deniedSyscalls are killed when the seccomp filter is active. The
// filter is default-allow: everything not listed here proceeds, which
// keeps the interpreter's ordinary syscall surface working. Exec is
// deliberately not blocked so the interpreter can spawn subprocesses;
// use an external sandbox for stricter execution control.
var deniedSyscalls = []uint32{
	unix.SYS_SOCKET,
	unix.SYS_CONNECT,
	unix.SYS_BIND,
	unix.SYS_LISTEN,
	unix.SYS_ACCEPT,
	unix.SYS_ACCEPT4,
	unix.SYS_PTRACE,
	unix.SYS_PROCESS_VM_READV,
	unix.SYS_PROCESS_VM_WRITEV,
}

// seccomp_data layout: syscall number at offset 0, audit arch at 4.
const (
	seccompDataNrOffset   = 0
	seccompDataArchOffset = 4
)

// EnableSeccomp installs a default-allow deny-list syscall filter on
// the current thread and all threads and children created afterwards.
// It must run before the interpreter subprocess starts.
func EnableSeccomp(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	insns := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataArchOffset, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: seccompAuditArch, SkipTrue: 1},
		// Foreign architecture: the numbers below would mean different
		// syscalls, so the deny list does not apply.
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
		bpf.LoadAbsolute{Off: seccompDataNrOffset, Size: 4},
	}
	for _, nr := range deniedSyscalls {
		insns = append(insns,
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipFalse: 1},
			bpf.RetConstant{Val: unix.SECCOMP_RET_KILL_PROCESS},
		)
	}
	insns = append(insns, bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW})

	raw, err := bpf.Assemble(insns)
	if err != nil {
		return fmt.Errorf("assemble seccomp filter: %w", err)
	}

	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	// Filter installation without privileges requires no_new_privs.
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no_new_privs: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}

	logger.Debug("seccomp filter active", "denied_syscalls", len(deniedSyscalls))
	return nil
}

// SeccompSupported reports whether this build can install a filter.
func SeccompSupported() bool { return true }
