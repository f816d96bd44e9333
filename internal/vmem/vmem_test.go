package vmem_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/ferrite-os/ferrite/internal/mem/pmm"
	"github.com/ferrite-os/ferrite/internal/vmem"
)

func newArena(tt *testing.T) (*pmm.Allocator, *pmm.Memory) {
	tt.Helper()

	const base pmm.Frame = 0x8000_0

	alloc := pmm.New(base, base+4096)
	mem := pmm.NewMemory(base, 4096)

	return alloc, mem
}

func TestPageTableMapTranslateUnmap(tt *testing.T) {
	tt.Parallel()

	alloc, mem := newArena(tt)

	pt, err := vmem.New(alloc, mem)
	if err != nil {
		tt.Fatalf("new: %s", err)
	}

	data, err := alloc.Alloc()
	if err != nil {
		tt.Fatalf("alloc: %s", err)
	}

	const vpn = 0x1234

	if err := pt.Map(vpn, data, vmem.FlagR|vmem.FlagW|vmem.FlagU); err != nil {
		tt.Fatalf("map: %s", err)
	}

	frame, flags, err := pt.Translate(vpn)
	if err != nil {
		tt.Fatalf("translate: %s", err)
	}

	if frame != data {
		tt.Errorf("want frame %v, got %v", data, frame)
	}

	if !flags.Has(vmem.FlagW) {
		tt.Errorf("want writable flag set")
	}

	if err := pt.Unmap(vpn); err != nil {
		tt.Fatalf("unmap: %s", err)
	}

	if _, _, err := pt.Translate(vpn); err == nil {
		tt.Errorf("want translate to fail after unmap")
	}
}

// buildELF assembles a minimal one-segment static ELF64 RISC-V image in
// memory, enough for debug/elf to parse back out.
func buildELF(tt *testing.T, vaddr uint64, text []byte) []byte {
	tt.Helper()

	const ehdrSize = 64
	const phdrSize = 56

	var buf bytes.Buffer

	ehdr := make([]byte, ehdrSize)
	copy(ehdr[0:4], "\x7fELF")
	ehdr[4] = 2 // ELFCLASS64
	ehdr[5] = 1 // little endian
	ehdr[6] = 1 // EV_CURRENT
	le16(ehdr[16:], uint16(elf.ET_EXEC))
	le16(ehdr[18:], uint16(elf.EM_RISCV))
	le32(ehdr[20:], 1)
	le64(ehdr[24:], vaddr) // e_entry
	le64(ehdr[32:], ehdrSize)
	le16(ehdr[52:], ehdrSize)
	le16(ehdr[54:], phdrSize)
	le16(ehdr[56:], 1)

	phdr := make([]byte, phdrSize)
	le32(phdr[0:], uint32(elf.PT_LOAD))
	le32(phdr[4:], uint32(elf.PF_R|elf.PF_X))
	le64(phdr[8:], ehdrSize+phdrSize) // p_offset
	le64(phdr[16:], vaddr)            // p_vaddr
	le64(phdr[24:], vaddr)            // p_paddr
	le64(phdr[32:], uint64(len(text)))
	le64(phdr[40:], uint64(len(text)))
	le64(phdr[48:], vmem.PageSize)

	buf.Write(ehdr)
	buf.Write(phdr)
	buf.Write(text)

	return buf.Bytes()
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

func TestFromELFMapsEntrySegment(tt *testing.T) {
	tt.Parallel()

	alloc, mem := newArena(tt)

	trampolineFrame, err := alloc.Alloc()
	if err != nil {
		tt.Fatalf("alloc trampoline: %s", err)
	}

	text := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 4) // a handful of NOPs
	image := buildELF(tt, 0x1000, text)

	as, entry, sp, err := vmem.FromELF(alloc, mem, trampolineFrame, image)
	if err != nil {
		tt.Fatalf("from elf: %s", err)
	}

	if entry != 0x1000 {
		tt.Errorf("want entry 0x1000, got %#x", entry)
	}

	if sp == 0 {
		tt.Errorf("want nonzero initial stack pointer")
	}

	got := make([]byte, len(text))
	if err := as.CopyIn(got, entry); err != nil {
		tt.Fatalf("copy in loaded text: %s", err)
	}

	if !bytes.Equal(got, text) {
		tt.Errorf("loaded segment mismatch: want %x, got %x", text, got)
	}
}

func TestMmapMunmapRoundTrip(tt *testing.T) {
	tt.Parallel()

	alloc, mem := newArena(tt)

	trampolineFrame, err := alloc.Alloc()
	if err != nil {
		tt.Fatalf("alloc trampoline: %s", err)
	}

	image := buildELF(tt, 0x1000, []byte{0x13, 0x00, 0x00, 0x00})

	as, _, _, err := vmem.FromELF(alloc, mem, trampolineFrame, image)
	if err != nil {
		tt.Fatalf("from elf: %s", err)
	}

	const mapAt = vmem.VirtAddr(0x4000_0000)

	if err := as.Mmap(mapAt, vmem.PageSize, vmem.ProtRead|vmem.ProtWrite); err != nil {
		tt.Fatalf("mmap: %s", err)
	}

	payload := []byte("hello, mmap")
	if err := as.CopyOut(mapAt, payload); err != nil {
		tt.Fatalf("copy out: %s", err)
	}

	got := make([]byte, len(payload))
	if err := as.CopyIn(got, mapAt); err != nil {
		tt.Fatalf("copy in: %s", err)
	}

	if !bytes.Equal(got, payload) {
		tt.Fatalf("mmap round trip mismatch: want %q, got %q", payload, got)
	}

	if err := as.Munmap(mapAt, vmem.PageSize); err != nil {
		tt.Fatalf("munmap: %s", err)
	}

	if err := as.CopyIn(got, mapAt); err == nil {
		tt.Errorf("want copy in to fail after munmap")
	}
}
