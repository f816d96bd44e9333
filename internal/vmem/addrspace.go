package vmem

import (
	"debug/elf"
	"fmt"

	"github.com/ferrite-os/ferrite/internal/log"
	"github.com/ferrite-os/ferrite/internal/mem/pmm"
)

// UserStackSize is the fixed size reserved for a task's initial user
// stack, one page of guard space below it.
const UserStackSize = 8 * PageSize

// AddressSpace is one task's (or the kernel's) view of memory: a page
// table plus the list of MapAreas that were used to populate it. It plays
// the role elsie's single flat Memory plays for the LC-3 simulator,
// generalized to Sv39's per-task paging (spec.md §4.3).
type AddressSpace struct {
	pageTable *PageTable
	areas     []*MapArea

	alloc *pmm.Allocator
	mem   *pmm.Memory

	// brk records the top of the user stack area set up by FromELF and is
	// carried across FromExisting; Mmap and Munmap neither read nor move
	// it, and sbrk-style growth isn't part of the syscall surface.
	brk VirtAddr

	log *log.Logger
}

func newEmpty(alloc *pmm.Allocator, mem *pmm.Memory) (*AddressSpace, error) {
	pt, err := New(alloc, mem)
	if err != nil {
		return nil, err
	}

	return &AddressSpace{
		pageTable: pt,
		alloc:     alloc,
		mem:       mem,
		log:       log.DefaultLogger(),
	}, nil
}

// mapTrampolineAndContext installs the two fixed high pages every address
// space carries: the trap trampoline (mapped onto the one trampoline
// frame every task shares, read/execute) and this task's private trap
// context page.
func (as *AddressSpace) mapTrampolineAndContext(trampolineFrame pmm.Frame) error {
	if err := as.pageTable.Map(TrampolineBase.VPNOf(), trampolineFrame, FlagR|FlagX); err != nil {
		return err
	}

	ctxArea := NewMapArea(TrapContextBase, TrapContextBase+PageSize, Framed, FlagR|FlagW)
	as.areas = append(as.areas, ctxArea)

	return ctxArea.mapInto(as.pageTable, as.alloc, as.mem)
}

// segFlags translates an ELF program header's R/W/X bits into Sv39 PTE
// flags, always adding FlagU since every ELF segment loaded this way
// belongs to a user-mode task.
func segFlags(f elf.ProgFlag) PTEFlags {
	flags := FlagU

	if f&elf.PF_R != 0 {
		flags |= FlagR
	}

	if f&elf.PF_W != 0 {
		flags |= FlagW
	}

	if f&elf.PF_X != 0 {
		flags |= FlagX
	}

	return flags
}

// FromELF builds a fresh user address space from a raw ELF image: one
// Framed MapArea per PT_LOAD segment, a guard page, a user stack, the
// trampoline, and the trap context page. It returns the space, the
// entry point, and the initial (top of) user stack pointer, matching
// spec.md §4.3's FromELF signature.
func FromELF(alloc *pmm.Allocator, mem *pmm.Memory, trampolineFrame pmm.Frame, image []byte) (as *AddressSpace, entry VirtAddr, userSP VirtAddr, err error) {
	as, err = newEmpty(alloc, mem)
	if err != nil {
		return nil, 0, 0, err
	}

	f, err := elf.NewFile(byteReaderAt(image))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: parse elf: %w", errPageTable, err)
	}

	maxVaddr := VirtAddr(0)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		start := VirtAddr(prog.Vaddr)
		memEnd := start + VirtAddr(prog.Memsz)

		area := NewMapArea(start, memEnd, Framed, segFlags(prog.Flags))
		if err := area.mapInto(as.pageTable, as.alloc, as.mem); err != nil {
			return nil, 0, 0, err
		}

		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, 0, 0, fmt.Errorf("%w: read segment: %w", errPageTable, err)
		}

		area.writeData(as.mem, data)
		as.areas = append(as.areas, area)

		if memEnd.Ceil() > maxVaddr.Ceil() {
			maxVaddr = memEnd
		}
	}

	// One untouched guard page, then the user stack growing down from its
	// top.
	stackBottom := maxVaddr.Ceil() + PageSize
	stackTop := stackBottom + UserStackSize

	stackArea := NewMapArea(stackBottom, stackTop, Framed, FlagU|FlagR|FlagW)
	if err := stackArea.mapInto(as.pageTable, as.alloc, as.mem); err != nil {
		return nil, 0, 0, err
	}

	as.areas = append(as.areas, stackArea)
	as.brk = stackTop

	if err := as.mapTrampolineAndContext(trampolineFrame); err != nil {
		return nil, 0, 0, err
	}

	return as, VirtAddr(f.Entry), stackTop, nil
}

// byteReaderAt adapts a byte slice to io.ReaderAt for debug/elf, which
// requires random-access reads to parse section/program headers.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("%w: offset out of range", errPageTable)
	}

	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("%w: short read", errPageTable)
	}

	return n, nil
}

// FromExisting clones src into a fresh address space with entirely
// separate physical frames, implementing fork's full (non-copy-on-write)
// duplication (spec.md §4.6, §9).
func FromExisting(src *AddressSpace, trampolineFrame pmm.Frame) (*AddressSpace, error) {
	as, err := newEmpty(src.alloc, src.mem)
	if err != nil {
		return nil, err
	}

	as.brk = src.brk

	for _, area := range src.areas {
		if area.vpnStart == TrapContextBase.VPNOf() {
			continue // re-created by mapTrampolineAndContext below.
		}

		clone := area.clone()
		if err := clone.mapInto(as.pageTable, as.alloc, as.mem); err != nil {
			return nil, err
		}

		for vpn := area.vpnStart; vpn < area.vpnEnd; vpn++ {
			srcFrame, _, terr := src.pageTable.Translate(vpn)
			if terr != nil {
				continue
			}

			dstFrame, _, derr := as.pageTable.Translate(vpn)
			if derr != nil {
				return nil, derr
			}

			var page [PageSize]byte
			src.mem.ReadAt(srcFrame, page[:], 0)
			as.mem.WriteAt(dstFrame, page[:], 0)
		}

		as.areas = append(as.areas, clone)
	}

	if err := as.mapTrampolineAndContext(trampolineFrame); err != nil {
		return nil, err
	}

	return as, nil
}

// Destroy releases every frame this address space owns: each area's data
// frames, then the page table's own node frames.
func (as *AddressSpace) Destroy() error {
	for _, area := range as.areas {
		if err := area.unmapFrom(as.pageTable, as.alloc); err != nil {
			return err
		}
	}

	as.areas = nil

	return as.pageTable.Destroy()
}

// Root returns the frame backing the root page table node, the value
// destined for `satp`.
func (as *AddressSpace) Root() pmm.Frame { return as.pageTable.Root() }

// Translate resolves the physical frame and flags backing a virtual page
// number, without modifying the page table.
func (as *AddressSpace) Translate(vpn uint64) (pmm.Frame, PTEFlags, error) {
	return as.pageTable.Translate(vpn)
}
