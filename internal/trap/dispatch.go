package trap

import (
	"fmt"

	"github.com/ferrite-os/ferrite/internal/log"
)

// Cause is a decoded scause value: the interrupt bit stripped off and
// checked separately, the low bits giving the exception/interrupt code.
type Cause uint64

const interruptBit = uint64(1) << 63

const (
	CauseUserEcall            Cause = 8
	CauseInstructionPageFault Cause = 12
	CauseLoadPageFault        Cause = 13
	CauseStorePageFault       Cause = 15
	CauseIllegalInstruction   Cause = 2
)

// SupervisorTimerInterrupt is the decoded cause for a CLINT-driven timer
// interrupt (interrupt bit set, code 5).
const SupervisorTimerInterrupt Cause = 5

// Decode splits a raw scause CSR value into its cause code and whether it
// represents an interrupt (vs. a synchronous exception).
func Decode(raw uint64) (cause Cause, isInterrupt bool) {
	return Cause(raw &^ interruptBit), raw&interruptBit != 0
}

func (c Cause) String() string {
	switch c {
	case CauseUserEcall:
		return "user ecall"
	case CauseInstructionPageFault:
		return "instruction page fault"
	case CauseLoadPageFault:
		return "load page fault"
	case CauseStorePageFault:
		return "store page fault"
	case CauseIllegalInstruction:
		return "illegal instruction"
	case SupervisorTimerInterrupt:
		return "supervisor timer"
	default:
		return fmt.Sprintf("cause(%d)", uint64(c))
	}
}

// Action tells the caller of Dispatch what should happen to the
// currently-running task next.
type Action int

const (
	// Continue means the task keeps running; Dispatch has already
	// advanced sepc and set any return value needed.
	Continue Action = iota
	// Yield means the scheduler should pick a new task to run, but this
	// one remains runnable (e.g. after a timer interrupt).
	Yield
	// Terminate means the task must be torn down; ExitCode on the
	// returned Result holds its exit status.
	Terminate
)

// Result is what Dispatch decides after handling one trap.
type Result struct {
	Action   Action
	ExitCode int
}

// Handler is implemented by the kernel layer (internal/syscall's Kernel,
// which drives internal/task) to resolve the effects a trap has: running
// a syscall, handling a page fault, or deciding an illegal instruction is
// fatal. Keeping this as an interface, rather than trap
// importing internal/task or internal/syscall directly, avoids a import
// cycle -- the same "device behind a narrow interface" shape as elsie's
// vm.MMIO.
type Handler interface {
	Syscall(ctx *Context) Result
	PageFault(ctx *Context, cause Cause) Result
	IllegalInstruction(ctx *Context) Result
	TimerInterrupt(ctx *Context) Result
}

// Dispatch routes one trap to the matching Handler method, in the same
// staged, logged style as elsie's vm.LC3.Step: decode the cause, execute
// the handler, and let the caller observe what happened.
func Dispatch(ctx *Context, scause, stval uint64, h Handler) Result {
	cause, isInterrupt := Decode(scause)
	logger := log.DefaultLogger()

	logger.Debug("trap", "cause", cause, "interrupt", isInterrupt, "stval", fmt.Sprintf("%#x", stval), "sepc", fmt.Sprintf("%#x", ctx.Sepc))

	if isInterrupt {
		switch cause {
		case SupervisorTimerInterrupt:
			return h.TimerInterrupt(ctx)
		default:
			logger.Error("unhandled interrupt", "cause", cause)
			return Result{Action: Terminate, ExitCode: -1}
		}
	}

	switch cause {
	case CauseUserEcall:
		ctx.AdvancePastEcall()
		return h.Syscall(ctx)
	case CauseInstructionPageFault, CauseLoadPageFault, CauseStorePageFault:
		return h.PageFault(ctx, cause)
	case CauseIllegalInstruction:
		return h.IllegalInstruction(ctx)
	default:
		logger.Error("unhandled trap", "cause", cause)
		return Result{Action: Terminate, ExitCode: -1}
	}
}
