package syscall_test

import (
	"encoding/binary"
	"testing"

	"github.com/ferrite-os/ferrite/internal/blockdev"
	"github.com/ferrite-os/ferrite/internal/fsys"
	"github.com/ferrite-os/ferrite/internal/mem/pmm"
	"github.com/ferrite-os/ferrite/internal/sched"
	"github.com/ferrite-os/ferrite/internal/syscall"
	"github.com/ferrite-os/ferrite/internal/task"
	"github.com/ferrite-os/ferrite/internal/trap"
	"github.com/ferrite-os/ferrite/internal/vmem"
)

// buildELF assembles a minimal one-segment static ELF64 RISC-V image, just
// enough for vmem.FromELF (via debug/elf) to parse.
func buildELF(tt *testing.T, vaddr uint64, text []byte) []byte {
	tt.Helper()

	const ehdrSize = 64
	const phdrSize = 56

	buf := make([]byte, 0, ehdrSize+phdrSize+len(text))

	ehdr := make([]byte, ehdrSize)
	copy(ehdr[0:4], "\x7fELF")
	ehdr[4], ehdr[5], ehdr[6] = 2, 1, 1
	le16(ehdr[16:], 2)   // ET_EXEC
	le16(ehdr[18:], 243) // EM_RISCV
	le32(ehdr[20:], 1)
	le64(ehdr[24:], vaddr)
	le64(ehdr[32:], ehdrSize)
	le16(ehdr[52:], ehdrSize)
	le16(ehdr[54:], phdrSize)
	le16(ehdr[56:], 1)

	phdr := make([]byte, phdrSize)
	le32(phdr[0:], 1) // PT_LOAD
	le32(phdr[4:], 7) // PF_R|PF_W|PF_X
	le64(phdr[8:], ehdrSize+phdrSize)
	le64(phdr[16:], vaddr)
	le64(phdr[24:], vaddr)
	le64(phdr[32:], uint64(len(text)))
	le64(phdr[40:], uint64(len(text)))
	le64(phdr[48:], 4096)

	buf = append(buf, ehdr...)
	buf = append(buf, phdr...)
	buf = append(buf, text...)

	return buf
}

func le16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func le32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func le64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

type fakeImages map[string][]byte

func (f fakeImages) Lookup(name string) ([]byte, bool) {
	img, ok := f[name]
	return img, ok
}

type harness struct {
	tb     *task.Table
	sched  *sched.Scheduler
	kernel *syscall.Kernel
	init   *task.Task
}

func newHarness(tt *testing.T, images fakeImages) *harness {
	tt.Helper()
	return newHarnessWithClock(tt, images, nil)
}

func newHarnessWithClock(tt *testing.T, images fakeImages, clock syscall.Clock) *harness {
	tt.Helper()

	const base pmm.Frame = 0x9000_0

	alloc := pmm.New(base, base+16384)
	mem := pmm.NewMemory(base, 16384)

	trampoline, err := alloc.Alloc()
	if err != nil {
		tt.Fatalf("alloc trampoline: %s", err)
	}

	tb := task.NewTable(alloc, mem, trampoline)

	dev := blockdev.NewMemory(4096)

	fs, err := fsys.Create(dev, 4096, 1)
	if err != nil {
		tt.Fatalf("create fs: %s", err)
	}

	s := sched.New()
	k := syscall.New(tb, s, fs, images, clock)

	image := buildELF(tt, 0x1000, []byte{0x13, 0x00, 0x00, 0x00})

	init, err := tb.SpawnInit(image)
	if err != nil {
		tt.Fatalf("spawn init: %s", err)
	}

	return &harness{tb: tb, sched: s, kernel: k, init: init}
}

func TestPipeWriteReadRoundTrip(tt *testing.T) {
	tt.Parallel()

	h := newHarness(tt, nil)
	h.kernel.SetCurrent(h.init)

	r, w := task.NewPipe(64)
	readFD := len(h.init.Files)
	h.init.Files = append(h.init.Files, r)
	writeFD := len(h.init.Files)
	h.init.Files = append(h.init.Files, w)

	payload := []byte("hello, pipe")

	if _, err := w.Write(payload); err != nil {
		tt.Fatalf("write: %s", err)
	}

	out := make([]byte, len(payload))
	if _, err := r.Read(out); err != nil {
		tt.Fatalf("read: %s", err)
	}

	if string(out) != string(payload) {
		tt.Errorf("want %q, got %q", payload, out)
	}

	_ = readFD
	_ = writeFD
}

// TestPipeForkTransfersFullPayload exercises spec.md's S3 scenario:
// parent creates a pipe, forks; the child writes a 256-byte 0x00..0xFF
// payload to the write end in one call and closes it; the parent reads
// in a loop until it observes EOF, and the concatenation of every read
// equals the original payload.
func TestPipeForkTransfersFullPayload(tt *testing.T) {
	tt.Parallel()

	h := newHarness(tt, nil)

	r, w := task.NewPipe(256)
	h.init.Files = append(h.init.Files, r, w)

	child, err := h.tb.Fork(h.init)
	if err != nil {
		tt.Fatalf("fork: %s", err)
	}

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	childWrite := child.Files[len(child.Files)-1].(*task.PipeWriteFile)

	if n, err := childWrite.Write(payload); err != nil || n != len(payload) {
		tt.Fatalf("child write: n=%d err=%s", n, err)
	}

	childWrite.Close()

	var got []byte

	buf := make([]byte, 256)

	for {
		n, err := r.Read(buf)
		if err != nil {
			tt.Fatalf("parent read: %s", err)
		}

		if n == 0 {
			break
		}

		got = append(got, buf[:n]...)
	}

	if string(got) != string(payload) {
		tt.Errorf("want %v, got %v", payload, got)
	}
}

func TestForkExitWaitPID(tt *testing.T) {
	tt.Parallel()

	h := newHarness(tt, nil)

	child, err := h.tb.Fork(h.init)
	if err != nil {
		tt.Fatalf("fork: %s", err)
	}

	if err := h.tb.Exit(child, 42); err != nil {
		tt.Fatalf("exit: %s", err)
	}

	pid, code, err := h.tb.WaitPID(h.init, child.PID)
	if err != nil {
		tt.Fatalf("waitpid: %s", err)
	}

	if pid != child.PID || code != 42 {
		tt.Fatalf("want (%d, 42), got (%d, %d)", child.PID, pid, code)
	}

	if _, ok := h.tb.Get(child.PID); ok {
		tt.Errorf("want reaped child removed from the table")
	}
}

func TestMmapWriteReadMunmapRoundTrip(tt *testing.T) {
	tt.Parallel()

	h := newHarness(tt, nil)

	const addr = vmem.VirtAddr(0x1000_0000)
	const length = 4096

	if err := h.init.Space.Mmap(addr, length, vmem.ProtRead|vmem.ProtWrite); err != nil {
		tt.Fatalf("mmap: %s", err)
	}

	pattern := make([]byte, length)
	for i := range pattern {
		pattern[i] = byte(i)
	}

	if err := h.init.Space.CopyOut(addr, pattern); err != nil {
		tt.Fatalf("copy out: %s", err)
	}

	readBack := make([]byte, length)
	if err := h.init.Space.CopyIn(readBack, addr); err != nil {
		tt.Fatalf("copy in: %s", err)
	}

	for i := range pattern {
		if readBack[i] != pattern[i] {
			tt.Fatalf("mismatch at %d: want %d got %d", i, pattern[i], readBack[i])
		}
	}

	if err := h.init.Space.Munmap(addr, length); err != nil {
		tt.Fatalf("munmap: %s", err)
	}

	if err := h.init.Space.CopyIn(readBack[:1], addr); err == nil {
		tt.Errorf("want access to an unmapped region to fail after munmap")
	}
}

// TestPostMunmapAccessFaultsWithPageFaultExitCode covers the second half
// of spec.md's S4 scenario: after munmap, a load page fault delivered to
// the kernel terminates the task with the kernel's page-fault exit code.
func TestPostMunmapAccessFaultsWithPageFaultExitCode(tt *testing.T) {
	tt.Parallel()

	h := newHarness(tt, nil)
	h.kernel.SetCurrent(h.init)

	const addr = vmem.VirtAddr(0x1000_0000)
	const length = 4096

	if err := h.init.Space.Mmap(addr, length, vmem.ProtRead|vmem.ProtWrite); err != nil {
		tt.Fatalf("mmap: %s", err)
	}

	if err := h.init.Space.Munmap(addr, length); err != nil {
		tt.Fatalf("munmap: %s", err)
	}

	res := h.kernel.PageFault(h.init.TrapCx, trap.CauseLoadPageFault)

	if res.Action != trap.Terminate {
		tt.Fatalf("want Terminate, got %v", res.Action)
	}

	if res.ExitCode != syscall.PageFaultExitCode {
		tt.Errorf("want exit code %d, got %d", syscall.PageFaultExitCode, res.ExitCode)
	}
}

// TestClockGetTimeReportsTicksAsSecNsec covers spec.md's S5 scenario: a
// clock_gettime ecall writes a {sec, nsec} pair derived from the
// machine's tick count to the user-supplied buffer, at the simulator's
// fixed 10 MHz tick rate.
func TestClockGetTimeReportsTicksAsSecNsec(tt *testing.T) {
	tt.Parallel()

	const ticks = 25_000_000 // 2.5s worth of ticks at 10 MHz

	h := newHarnessWithClock(tt, nil, func() uint64 { return ticks })
	h.kernel.SetCurrent(h.init)

	const addr = vmem.VirtAddr(0x1000_0000)
	const length = 4096

	if err := h.init.Space.Mmap(addr, length, vmem.ProtRead|vmem.ProtWrite); err != nil {
		tt.Fatalf("mmap: %s", err)
	}

	ctx := h.init.TrapCx
	ctx.GPR[17] = uint64(syscall.SysClockGetTime) // a7
	ctx.GPR[11] = uint64(addr)                    // a1

	h.kernel.Syscall(ctx)

	if ret := int64(ctx.GPR[10]); ret != 0 {
		tt.Fatalf("want 0, got %d", ret)
	}

	var buf [16]byte
	if err := h.init.Space.CopyIn(buf[:], addr); err != nil {
		tt.Fatalf("copy in: %s", err)
	}

	sec := binary.LittleEndian.Uint64(buf[0:8])
	nsec := binary.LittleEndian.Uint64(buf[8:16])

	if sec != 2 || nsec != 500_000_000 {
		tt.Errorf("want (2, 500000000), got (%d, %d)", sec, nsec)
	}
}

func TestExecReplacesEntryPoint(tt *testing.T) {
	tt.Parallel()

	newImage := buildELF(tt, 0x2000, []byte{0x13, 0x00, 0x00, 0x00})
	h := newHarness(tt, fakeImages{"/bin/other": newImage})

	if err := h.tb.Exec(h.init, newImage); err != nil {
		tt.Fatalf("exec: %s", err)
	}

	if h.init.TrapCx.Sepc != 0x2000 {
		tt.Errorf("want new entry 0x2000, got %#x", h.init.TrapCx.Sepc)
	}
}
