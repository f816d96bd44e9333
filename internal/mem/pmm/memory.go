package pmm

import "fmt"

// Memory is the simulated physical RAM backing the frames an Allocator
// hands out. It is a flat byte array indexed by frame number, the same
// role elsie's PhysicalMemory array plays for the LC-3's logical address
// space (vm/mem.go), scaled up from 16-bit words to 4 KiB pages.
type Memory struct {
	base  Frame
	pages [][PageSize]byte
}

// NewMemory allocates backing storage for frames [base, base+n).
func NewMemory(base Frame, n int) *Memory {
	return &Memory{
		base:  base,
		pages: make([][PageSize]byte, n),
	}
}

func (m *Memory) index(f Frame) int {
	if f < m.base || int(f-m.base) >= len(m.pages) {
		panic(fmt.Errorf("pmm: frame out of range: %s", f))
	}

	return int(f - m.base)
}

// Page returns a mutable view of the frame's bytes.
func (m *Memory) Page(f Frame) *[PageSize]byte {
	return &m.pages[m.index(f)]
}

// Zero clears a frame's contents. Allocator.Alloc does not, so a caller
// that needs a clean frame calls Zero after allocating it.
func (m *Memory) Zero(f Frame) {
	*m.Page(f) = [PageSize]byte{}
}

// ReadAt copies len(dst) bytes starting at byte offset off within the frame.
func (m *Memory) ReadAt(f Frame, dst []byte, off int) {
	copy(dst, m.Page(f)[off:])
}

// WriteAt copies src into the frame starting at byte offset off.
func (m *Memory) WriteAt(f Frame, src []byte, off int) {
	copy(m.Page(f)[off:], src)
}
