// Package syscall implements the kernel's system call surface: the
// number table the user ABI agrees on, and handlers wiring
// internal/task, internal/sched, internal/vmem, internal/fsys, and
// internal/pipe together behind internal/trap.Handler. Grounded on
// internal/monitor/image.go's Routine/SystemImage vector-table concept
// (a named entry point mapped into a trap table), generalized from
// LC-3's one-byte TRAP vector to RISC-V's a7-numbered syscall table.
package syscall

// Number is a syscall's entry in the a7-keyed dispatch table. Numbering
// follows spec.md §6's course-fixed table where the spec names an exact
// value (write=64, exit=93); the rest are assigned stable values in the
// same numeric neighborhood, matching original_source/user/src/
// syscall.rs.
type Number uint64

const (
	SysRead         Number = 63
	SysWrite        Number = 64
	SysExit         Number = 93
	SysYield        Number = 124
	SysSetPriority  Number = 140
	SysClockGetTime Number = 169
	SysFork         Number = 220
	SysExec         Number = 221
	SysWaitPID      Number = 260
	SysPipe         Number = 59
	SysClose        Number = 57
	SysOpen         Number = 56
	SysLink         Number = 37
	SysUnlink       Number = 35
	SysMmap         Number = 222
	SysMunmap       Number = 215
	SysSpawn        Number = 400
	SysDup          Number = 24
	SysTrace        Number = 410
)

func (n Number) String() string {
	switch n {
	case SysRead:
		return "read"
	case SysWrite:
		return "write"
	case SysExit:
		return "exit"
	case SysYield:
		return "sched_yield"
	case SysSetPriority:
		return "set_priority"
	case SysClockGetTime:
		return "clock_gettime"
	case SysFork:
		return "fork"
	case SysExec:
		return "exec"
	case SysWaitPID:
		return "waitpid"
	case SysPipe:
		return "pipe"
	case SysClose:
		return "close"
	case SysOpen:
		return "open"
	case SysLink:
		return "link"
	case SysUnlink:
		return "unlink"
	case SysMmap:
		return "mmap"
	case SysMunmap:
		return "munmap"
	case SysSpawn:
		return "spawn"
	case SysDup:
		return "dup"
	case SysTrace:
		return "trace"
	default:
		return "unknown"
	}
}
