package task_test

import (
	"errors"
	"testing"

	"github.com/ferrite-os/ferrite/internal/mem/pmm"
	"github.com/ferrite-os/ferrite/internal/task"
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
	le16(ehdr[16:], 2) // ET_EXEC
	le16(ehdr[18:], 243) // EM_RISCV
	le32(ehdr[20:], 1)
	le64(ehdr[24:], vaddr)
	le64(ehdr[32:], ehdrSize)
	le16(ehdr[52:], ehdrSize)
	le16(ehdr[54:], phdrSize)
	le16(ehdr[56:], 1)

	phdr := make([]byte, phdrSize)
	le32(phdr[0:], 1) // PT_LOAD
	le32(phdr[4:], 5) // PF_R|PF_X
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

func newTable(tt *testing.T) *task.Table {
	tt.Helper()

	const base pmm.Frame = 0x9000_0

	alloc := pmm.New(base, base+8192)
	mem := pmm.NewMemory(base, 8192)

	trampoline, err := alloc.Alloc()
	if err != nil {
		tt.Fatalf("alloc trampoline: %s", err)
	}

	return task.NewTable(alloc, mem, trampoline)
}

func TestSpawnInit(tt *testing.T) {
	tt.Parallel()

	tb := newTable(tt)
	image := buildELF(tt, 0x1000, []byte{0x13, 0x00, 0x00, 0x00})

	init, err := tb.SpawnInit(image)
	if err != nil {
		tt.Fatalf("spawn init: %s", err)
	}

	if init.PID != 1 {
		tt.Errorf("want PID 1, got %d", init.PID)
	}

	if init.TrapCx.Sepc != 0x1000 {
		tt.Errorf("want entry 0x1000, got %#x", init.TrapCx.Sepc)
	}
}

func TestForkSharesFilesAndSeparatesMemory(tt *testing.T) {
	tt.Parallel()

	tb := newTable(tt)
	image := buildELF(tt, 0x1000, []byte{0x13, 0x00, 0x00, 0x00})

	parent, err := tb.SpawnInit(image)
	if err != nil {
		tt.Fatalf("spawn init: %s", err)
	}

	r, w := task.NewPipe(pipeDefaultSize)
	parent.Files = append(parent.Files, r, w)

	child, err := tb.Fork(parent)
	if err != nil {
		tt.Fatalf("fork: %s", err)
	}

	if child.PID == parent.PID {
		tt.Fatalf("want distinct PIDs")
	}

	if len(child.Files) != len(parent.Files) {
		tt.Fatalf("want shared fd table length, got %d vs %d", len(child.Files), len(parent.Files))
	}

	if child.Files[len(child.Files)-1] != parent.Files[len(parent.Files)-1] {
		tt.Errorf("want fork to share the same FileHandle values")
	}

	if len(parent.Children) != 1 || parent.Children[0] != child.PID {
		tt.Errorf("want parent to record child PID, got %v", parent.Children)
	}
}

const pipeDefaultSize = 32

func TestWaitPIDNonBlockingThenReaped(tt *testing.T) {
	tt.Parallel()

	tb := newTable(tt)
	image := buildELF(tt, 0x1000, []byte{0x13, 0x00, 0x00, 0x00})

	parent, err := tb.SpawnInit(image)
	if err != nil {
		tt.Fatalf("spawn init: %s", err)
	}

	child, err := tb.Fork(parent)
	if err != nil {
		tt.Fatalf("fork: %s", err)
	}

	pid, _, err := tb.WaitPID(parent, child.PID)
	if err != nil {
		tt.Fatalf("waitpid: %s", err)
	}

	if pid != task.WaitNonBlocking {
		tt.Fatalf("want non-blocking sentinel before exit, got %d", pid)
	}

	if err := tb.Exit(child, 7); err != nil {
		tt.Fatalf("exit: %s", err)
	}

	gotPID, code, err := tb.WaitPID(parent, child.PID)
	if err != nil {
		tt.Fatalf("waitpid after exit: %s", err)
	}

	if gotPID != child.PID || code != 7 {
		tt.Fatalf("want (%d, 7), got (%d, %d)", child.PID, gotPID, code)
	}

	if _, _, err := tb.WaitPID(parent, child.PID); !errors.Is(err, task.ErrNoSuchChild) {
		tt.Fatalf("want ErrNoSuchChild once reaped, got %v", err)
	}
}
