package vmem

import "github.com/ferrite-os/ferrite/internal/mem/pmm"

// PTEFlags are the low, hardware-defined bits of an Sv39 page table entry.
type PTEFlags uint8

const (
	FlagV PTEFlags = 1 << 0 // Valid
	FlagR PTEFlags = 1 << 1 // Readable
	FlagW PTEFlags = 1 << 2 // Writable
	FlagX PTEFlags = 1 << 3 // Executable
	FlagU PTEFlags = 1 << 4 // User-mode accessible
	FlagG PTEFlags = 1 << 5 // Global
	FlagA PTEFlags = 1 << 6 // Accessed
	FlagD PTEFlags = 1 << 7 // Dirty
)

func (f PTEFlags) Has(bit PTEFlags) bool { return f&bit != 0 }

// pte is one raw Sv39 page table entry: a 44-bit PPN shifted up 10 bits,
// with the flag byte in the low 8 bits (bits 8-9 are reserved-for-software
// and unused here).
type pte uint64

const ppnShift = 10

func newPTE(frame pmm.Frame, flags PTEFlags) pte {
	return pte(uint64(frame)<<ppnShift | uint64(flags))
}

func (p pte) flags() PTEFlags  { return PTEFlags(p & 0xff) }
func (p pte) valid() bool      { return p.flags().Has(FlagV) }
func (p pte) leaf() bool       { f := p.flags(); return f.Has(FlagR) || f.Has(FlagW) || f.Has(FlagX) }
func (p pte) frame() pmm.Frame { return pmm.Frame(uint64(p) >> ppnShift) }
