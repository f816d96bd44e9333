package syscall

import (
	"github.com/ferrite-os/ferrite/internal/fsys"
	"github.com/ferrite-os/ferrite/internal/log"
	"github.com/ferrite-os/ferrite/internal/sched"
	"github.com/ferrite-os/ferrite/internal/task"
	"github.com/ferrite-os/ferrite/internal/trap"
)

// ImageLookup resolves a user-visible program name to its ELF bytes, for
// exec/spawn. The boot image manifest (internal/image) implements this.
type ImageLookup interface {
	Lookup(name string) ([]byte, bool)
}

// Clock reports the machine's current tick count, backing
// clock_gettime. firmware.CLINT.Now satisfies this.
type Clock func() uint64

// Kernel wires the process table, scheduler, and root filesystem together
// behind trap.Handler, playing the role elsie's vm.MMIO dispatch table
// plays for device traps: one small adapter so internal/trap never needs
// to import internal/task or internal/syscall directly.
type Kernel struct {
	Tasks  *task.Table
	Sched  *sched.Scheduler
	FS     *fsys.FileSystem
	Images ImageLookup
	Clock  Clock

	current *task.Task

	log *log.Logger
}

// New builds a Kernel around an already-constructed process table,
// scheduler, and root filesystem. clock may be nil, in which case
// clock_gettime always reports zero.
func New(tasks *task.Table, scheduler *sched.Scheduler, fs *fsys.FileSystem, images ImageLookup, clock Clock) *Kernel {
	return &Kernel{
		Tasks:  tasks,
		Sched:  scheduler,
		FS:     fs,
		Images: images,
		Clock:  clock,
		log:    log.DefaultLogger(),
	}
}

// SetCurrent records which task a subsequent Syscall/PageFault/
// IllegalInstruction/TimerInterrupt dispatch applies to; the run loop
// calls this right before invoking trap.Dispatch.
func (k *Kernel) SetCurrent(t *task.Task) { k.current = t }

var _ trap.Handler = (*Kernel)(nil)

// Syscall implements trap.Handler by reading the syscall number and
// argument registers out of ctx and routing to the matching handler
// method below.
func (k *Kernel) Syscall(ctx *trap.Context) trap.Result {
	t := k.current
	n := Number(ctx.SyscallNumber())

	k.log.Debug("syscall", "pid", t.PID, "num", n)

	var ret int64

	switch n {
	case SysWrite:
		ret = k.sysWrite(t, ctx)
	case SysRead:
		ret = k.sysRead(t, ctx)
	case SysExit:
		return k.sysExit(t, ctx)
	case SysYield:
		return k.sysYield(t)
	case SysSetPriority:
		ret = k.sysSetPriority(t, ctx)
	case SysFork:
		ret = k.sysFork(t)
	case SysExec:
		ret = k.sysExec(t, ctx)
	case SysSpawn:
		ret = k.sysSpawn(t, ctx)
	case SysWaitPID:
		ret = k.sysWaitPID(t, ctx)
	case SysPipe:
		ret = k.sysPipe(t, ctx)
	case SysClose:
		ret = k.sysClose(t, ctx)
	case SysOpen:
		ret = k.sysOpen(t, ctx)
	case SysLink:
		ret = k.sysLink(t, ctx)
	case SysUnlink:
		ret = k.sysUnlink(t, ctx)
	case SysDup:
		ret = k.sysDup(t, ctx)
	case SysMmap:
		ret = k.sysMmap(t, ctx)
	case SysMunmap:
		ret = k.sysMunmap(t, ctx)
	case SysClockGetTime:
		ret = k.sysClockGetTime(t, ctx)
	case SysTrace:
		ret = k.sysTrace(t, ctx)
	default:
		k.log.Error("unknown syscall", "num", uint64(n))
		ret = -1
	}

	ctx.SetReturn(ret)

	return trap.Result{Action: trap.Continue}
}

// PageFault terminates the faulting task with the kernel's chosen
// page-fault exit code, matching spec.md §7's "memory-protection faults
// → task terminated with a kernel-chosen non-zero exit code".
const PageFaultExitCode = -11

func (k *Kernel) PageFault(ctx *trap.Context, cause trap.Cause) trap.Result {
	k.log.Error("page fault", "pid", k.current.PID, "cause", cause, "sepc", ctx.Sepc)
	return trap.Result{Action: trap.Terminate, ExitCode: PageFaultExitCode}
}

// IllegalInstructionExitCode is the exit code a task receives for
// executing an illegal instruction.
const IllegalInstructionExitCode = -12

func (k *Kernel) IllegalInstruction(ctx *trap.Context) trap.Result {
	k.log.Error("illegal instruction", "pid", k.current.PID, "sepc", ctx.Sepc)
	return trap.Result{Action: trap.Terminate, ExitCode: IllegalInstructionExitCode}
}

// TimerInterrupt preempts the current task back onto the ready queue,
// matching spec.md §4.5's cooperative-plus-preemptive model.
func (k *Kernel) TimerInterrupt(ctx *trap.Context) trap.Result {
	return trap.Result{Action: trap.Yield}
}
