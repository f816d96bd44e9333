package vmem

import (
	"github.com/ferrite-os/ferrite/internal/mem/pmm"
)

// MapType distinguishes a region that gets a freshly allocated physical
// frame for every page when it is mapped (Framed -- user segments,
// stacks, mmap regions) from one
// that maps a virtual page directly onto the identical physical frame
// (Identical -- used for the kernel's own view of physical memory).
type MapType int

const (
	Framed MapType = iota
	Identical
)

// MapArea is a contiguous run of virtual pages sharing one MapType and
// one set of permission flags, the same grouping elsie's vm package
// doesn't need (LC-3 has no paging) but every Sv39 address space does --
// grounded on spec.md §4.3's AddressSpace/MapArea split.
type MapArea struct {
	vpnStart uint64
	vpnEnd   uint64 // exclusive
	mapType  MapType
	flags    PTEFlags

	// frames holds the Framed-type physical backing, keyed by vpn, so it
	// can be returned to the allocator when the area is unmapped.
	frames map[uint64]pmm.Frame
}

// NewMapArea creates an area spanning [start, end), with end rounded up
// to the next page boundary.
func NewMapArea(start, end VirtAddr, mapType MapType, flags PTEFlags) *MapArea {
	return &MapArea{
		vpnStart: start.Floor().VPNOf(),
		vpnEnd:   end.Ceil().VPNOf(),
		mapType:  mapType,
		flags:    flags,
		frames:   make(map[uint64]pmm.Frame),
	}
}

// Contains reports whether vpn falls within this area.
func (a *MapArea) Contains(vpn uint64) bool {
	return vpn >= a.vpnStart && vpn < a.vpnEnd
}

// mapInto installs every page of the area into pt, allocating fresh frames
// for Framed areas from alloc.
func (a *MapArea) mapInto(pt *PageTable, alloc *pmm.Allocator, mem *pmm.Memory) error {
	for vpn := a.vpnStart; vpn < a.vpnEnd; vpn++ {
		var frame pmm.Frame

		switch a.mapType {
		case Identical:
			frame = pmm.Frame(vpn)
		default:
			f, err := alloc.Alloc()
			if err != nil {
				return err
			}

			mem.Zero(f)
			frame = f
			a.frames[vpn] = frame
		}

		if err := pt.Map(vpn, frame, a.flags); err != nil {
			return err
		}
	}

	return nil
}

// unmapFrom removes every page of the area from pt and returns any
// Framed-type physical frames to alloc.
func (a *MapArea) unmapFrom(pt *PageTable, alloc *pmm.Allocator) error {
	for vpn := a.vpnStart; vpn < a.vpnEnd; vpn++ {
		if err := pt.Unmap(vpn); err != nil {
			return err
		}

		if frame, ok := a.frames[vpn]; ok {
			if err := alloc.Dealloc(frame); err != nil {
				return err
			}

			delete(a.frames, vpn)
		}
	}

	return nil
}

// writeData copies data into the area's pages starting at its first page,
// used to load ELF segment contents. data must not exceed the area's
// span.
func (a *MapArea) writeData(mem *pmm.Memory, data []byte) {
	off := 0

	for vpn := a.vpnStart; vpn < a.vpnEnd && off < len(data); vpn++ {
		frame, ok := a.frames[vpn]
		if !ok {
			frame = pmm.Frame(vpn)
		}

		n := PageSize
		if remain := len(data) - off; n > remain {
			n = remain
		}

		mem.WriteAt(frame, data[off:off+n], 0)
		off += n
	}
}

// clone returns a deep copy of the area sharing no physical frames with
// the original, used by AddressSpace.FromExisting to implement fork's
// copy-on-fork semantics (spec.md §4.6 treats fork as an eager full copy,
// not copy-on-write, matching the original's implementation).
func (a *MapArea) clone() *MapArea {
	return &MapArea{
		vpnStart: a.vpnStart,
		vpnEnd:   a.vpnEnd,
		mapType:  a.mapType,
		flags:    a.flags,
		frames:   make(map[uint64]pmm.Frame),
	}
}
