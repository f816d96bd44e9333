package trap_test

import (
	"testing"

	"github.com/ferrite-os/ferrite/internal/trap"
)

type fakeHandler struct {
	syscalls  int
	faults    int
	illegal   int
	timerHits int
}

func (f *fakeHandler) Syscall(ctx *trap.Context) trap.Result {
	f.syscalls++
	ctx.SetReturn(42)

	return trap.Result{Action: trap.Continue}
}

func (f *fakeHandler) PageFault(ctx *trap.Context, cause trap.Cause) trap.Result {
	f.faults++
	return trap.Result{Action: trap.Terminate, ExitCode: -11}
}

func (f *fakeHandler) IllegalInstruction(ctx *trap.Context) trap.Result {
	f.illegal++
	return trap.Result{Action: trap.Terminate, ExitCode: -4}
}

func (f *fakeHandler) TimerInterrupt(ctx *trap.Context) trap.Result {
	f.timerHits++
	return trap.Result{Action: trap.Yield}
}

func TestDispatchSyscallAdvancesSepcAndSetsReturn(tt *testing.T) {
	tt.Parallel()

	ctx := trap.NewContext(0x1000, 0x2000, 0, 0, 0)
	h := &fakeHandler{}

	res := trap.Dispatch(ctx, uint64(trap.CauseUserEcall), 0, h)

	if res.Action != trap.Continue {
		tt.Fatalf("want Continue, got %v", res.Action)
	}

	if ctx.Sepc != 0x1004 {
		tt.Errorf("want sepc advanced to 0x1004, got %#x", ctx.Sepc)
	}

	if ctx.GPR[10] != 42 {
		tt.Errorf("want a0=42, got %d", ctx.GPR[10])
	}

	if h.syscalls != 1 {
		tt.Errorf("want 1 syscall dispatched, got %d", h.syscalls)
	}
}

func TestDispatchPageFaultTerminates(tt *testing.T) {
	tt.Parallel()

	ctx := trap.NewContext(0x1000, 0x2000, 0, 0, 0)
	h := &fakeHandler{}

	res := trap.Dispatch(ctx, uint64(trap.CauseStorePageFault), 0xdead0000, h)

	if res.Action != trap.Terminate || res.ExitCode != -11 {
		tt.Fatalf("want Terminate(-11), got %+v", res)
	}

	if h.faults != 1 {
		tt.Errorf("want 1 fault handled, got %d", h.faults)
	}
}

func TestDispatchTimerInterruptYields(tt *testing.T) {
	tt.Parallel()

	ctx := trap.NewContext(0x1000, 0x2000, 0, 0, 0)
	h := &fakeHandler{}

	raw := uint64(1)<<63 | uint64(trap.SupervisorTimerInterrupt)

	res := trap.Dispatch(ctx, raw, 0, h)

	if res.Action != trap.Yield {
		tt.Fatalf("want Yield, got %v", res.Action)
	}

	if h.timerHits != 1 {
		tt.Errorf("want 1 timer hit, got %d", h.timerHits)
	}
}

func TestContextEncodeDecodeRoundTrip(tt *testing.T) {
	tt.Parallel()

	ctx := trap.NewContext(0x1000, 0x2000, 0x8000_0000, 0x9000_0000, 0x1234)
	ctx.GPR[5] = 0xcafe

	buf := make([]byte, trap.Size)
	ctx.Encode(buf)

	got := trap.DecodeContext(buf)

	if got.Sepc != ctx.Sepc || got.GPR[2] != ctx.GPR[2] || got.GPR[5] != 0xcafe {
		tt.Fatalf("round trip mismatch: got %+v", got)
	}
}
