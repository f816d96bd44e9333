package vmem

import "fmt"

// Prot mirrors the low three bits of the mmap syscall's `port` argument in
// the original (and Linux's PROT_READ/WRITE/EXEC): bit 0 readable, bit 1
// writable, bit 2 executable.
type Prot uint8

const (
	ProtRead  Prot = 1 << 0
	ProtWrite Prot = 1 << 1
	ProtExec  Prot = 1 << 2
)

func (p Prot) pteFlags() PTEFlags {
	flags := FlagU

	if p&ProtRead != 0 {
		flags |= FlagR
	}

	if p&ProtWrite != 0 {
		flags |= FlagW
	}

	if p&ProtExec != 0 {
		flags |= FlagX
	}

	return flags
}

// ErrBadMapping covers every mmap/munmap precondition failure: misaligned
// addresses, zero or invalid protection, or overlap with an existing
// area -- one error so the syscall layer can uniformly translate it to
// -1, matching the original sys_mmap/sys_munmap's "return -1 on any bad
// input" contract.
var ErrBadMapping = fmt.Errorf("%w: bad mapping request", errPageTable)

func (as *AddressSpace) overlaps(vpnStart, vpnEnd uint64) bool {
	for _, a := range as.areas {
		if vpnStart < a.vpnEnd && a.vpnStart < vpnEnd {
			return true
		}
	}

	return false
}

// Mmap adds a new Framed mapping of the given length (rounded up to a
// whole number of pages) starting at start, which must itself be
// page-aligned and must not overlap any existing area. Prot must include
// at least one readable/writable/executable bit.
func (as *AddressSpace) Mmap(start VirtAddr, length int, prot Prot) error {
	if uint64(start)%PageSize != 0 {
		return fmt.Errorf("%w: start %#x not page-aligned", ErrBadMapping, start)
	}

	if length <= 0 || prot&(ProtRead|ProtWrite|ProtExec) == 0 {
		return fmt.Errorf("%w: length %d prot %#x", ErrBadMapping, length, prot)
	}

	end := start + VirtAddr(length)

	if as.overlaps(start.VPNOf(), end.Ceil().VPNOf()) {
		return fmt.Errorf("%w: overlaps existing mapping", ErrBadMapping)
	}

	area := NewMapArea(start, end, Framed, prot.pteFlags())
	if err := area.mapInto(as.pageTable, as.alloc, as.mem); err != nil {
		return err
	}

	as.areas = append(as.areas, area)

	return nil
}

// Munmap removes the mapping covering exactly [start, start+length),
// returning its frames to the allocator. It fails if no single existing
// area matches that exact range, matching the original sys_munmap, which
// never supports partial unmaps.
func (as *AddressSpace) Munmap(start VirtAddr, length int) error {
	if uint64(start)%PageSize != 0 || length <= 0 {
		return fmt.Errorf("%w: start %#x length %d", ErrBadMapping, start, length)
	}

	vpnStart := start.VPNOf()
	vpnEnd := (start + VirtAddr(length)).Ceil().VPNOf()

	for i, a := range as.areas {
		if a.vpnStart == vpnStart && a.vpnEnd == vpnEnd {
			if err := a.unmapFrom(as.pageTable, as.alloc); err != nil {
				return err
			}

			as.areas = append(as.areas[:i], as.areas[i+1:]...)

			return nil
		}
	}

	return fmt.Errorf("%w: no exact mapping at %#x len %d", ErrBadMapping, start, length)
}
