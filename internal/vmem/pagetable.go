package vmem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ferrite-os/ferrite/internal/log"
	"github.com/ferrite-os/ferrite/internal/mem/pmm"
)

var errPageTable = errors.New("vmem")

// ErrAccessControl is returned when a translation exists but its flags
// forbid the requested access -- the vmem analogue of elsie's
// ErrAccessControl in vm/mem.go.
var ErrAccessControl = fmt.Errorf("%w: access control", errPageTable)

// ErrUnmapped is returned when no valid leaf entry covers a virtual page.
var ErrUnmapped = fmt.Errorf("%w: unmapped page", errPageTable)

// ErrAlreadyMapped guards against silently clobbering an existing
// mapping.
var ErrAlreadyMapped = fmt.Errorf("%w: already mapped", errPageTable)

const entriesPerNode = PageSize / 8 // 8 bytes per Sv39 PTE.

// PageTable is a three-level Sv39 radix tree of page table nodes, each
// backed by one physical frame drawn from a pmm.Allocator.
type PageTable struct {
	root  pmm.Frame
	alloc *pmm.Allocator
	mem   *pmm.Memory

	// frames tracks every node frame this table owns (root plus interior
	// nodes), so Destroy can return them all to the allocator -- mirrors
	// the original's FrameTracker ownership list on PageTable.
	frames []pmm.Frame

	log *log.Logger
}

// New allocates a fresh, empty root node and returns the page table that
// owns it.
func New(alloc *pmm.Allocator, mem *pmm.Memory) (*PageTable, error) {
	root, err := alloc.Alloc()
	if err != nil {
		return nil, err
	}

	mem.Zero(root)

	return &PageTable{
		root:   root,
		alloc:  alloc,
		mem:    mem,
		frames: []pmm.Frame{root},
		log:    log.DefaultLogger(),
	}, nil
}

// Root returns the physical frame of the root node, the value a real
// `satp` CSR would hold.
func (pt *PageTable) Root() pmm.Frame { return pt.root }

func (pt *PageTable) readEntry(node pmm.Frame, idx int) pte {
	page := pt.mem.Page(node)
	off := idx * 8

	return pte(binary.LittleEndian.Uint64(page[off : off+8]))
}

func (pt *PageTable) writeEntry(node pmm.Frame, idx int, p pte) {
	page := pt.mem.Page(node)
	off := idx * 8

	binary.LittleEndian.PutUint64(page[off:off+8], uint64(p))
}

// walk descends the three levels for vpn, allocating interior nodes along
// the way when create is true. It returns the node frame and index of the
// leaf-level slot.
func (pt *PageTable) walk(vpn uint64, create bool) (node pmm.Frame, idx int, err error) {
	node = pt.root

	for level := levels - 1; level > 0; level-- {
		idx = int((vpn >> uint(level*vpnBits)) & ((1 << vpnBits) - 1))

		entry := pt.readEntry(node, idx)
		if entry.valid() {
			node = entry.frame()
			continue
		}

		if !create {
			return 0, 0, ErrUnmapped
		}

		child, allocErr := pt.alloc.Alloc()
		if allocErr != nil {
			return 0, 0, allocErr
		}

		pt.mem.Zero(child)
		pt.writeEntry(node, idx, newPTE(child, FlagV))
		pt.frames = append(pt.frames, child)

		node = child
	}

	idx = int(vpn & ((1 << vpnBits) - 1))

	return node, idx, nil
}

// Map installs a leaf mapping from vpn to frame with the given flags,
// which must include at least one of R/W/X. FlagV is added automatically.
func (pt *PageTable) Map(vpn uint64, frame pmm.Frame, flags PTEFlags) error {
	node, idx, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}

	if pt.readEntry(node, idx).valid() {
		return fmt.Errorf("%w: vpn %#x", ErrAlreadyMapped, vpn)
	}

	pt.writeEntry(node, idx, newPTE(frame, flags|FlagV))

	return nil
}

// Unmap clears the leaf mapping for vpn.
func (pt *PageTable) Unmap(vpn uint64) error {
	node, idx, err := pt.walk(vpn, false)
	if err != nil {
		return err
	}

	entry := pt.readEntry(node, idx)
	if !entry.valid() {
		return fmt.Errorf("%w: vpn %#x", ErrUnmapped, vpn)
	}

	pt.writeEntry(node, idx, pte(0))

	return nil
}

// Translate looks up the leaf entry covering vpn without modifying
// anything.
func (pt *PageTable) Translate(vpn uint64) (frame pmm.Frame, flags PTEFlags, err error) {
	node, idx, err := pt.walk(vpn, false)
	if err != nil {
		return 0, 0, err
	}

	entry := pt.readEntry(node, idx)
	if !entry.valid() {
		return 0, 0, fmt.Errorf("%w: vpn %#x", ErrUnmapped, vpn)
	}

	return entry.frame(), entry.flags(), nil
}

// Destroy returns every node frame this table owns to the allocator. Leaf
// data frames belong to the owning MapAreas, not the PageTable, and must
// be freed separately (see AddressSpace.Destroy).
func (pt *PageTable) Destroy() error {
	for _, f := range pt.frames {
		if err := pt.alloc.Dealloc(f); err != nil {
			return err
		}
	}

	pt.frames = nil

	return nil
}
