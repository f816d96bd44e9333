// Package pmm implements the kernel's physical frame allocator: a bump
// pointer over a contiguous region, backed by a free list once frames
// start getting recycled.
package pmm

import (
	"errors"
	"fmt"

	"github.com/ferrite-os/ferrite/internal/log"
)

// PageSize is the size, in bytes, of a single physical frame.
const PageSize = 4096

// Frame identifies a physical page by its physical page number (PPN).
type Frame uint64

func (f Frame) String() string {
	return fmt.Sprintf("PPN(%#x)", uint64(f))
}

// Addr returns the physical byte address of the frame.
func (f Frame) Addr() uintptr {
	return uintptr(f) * PageSize
}

var (
	errAlloc = errors.New("pmm")

	// ErrExhausted is returned when the allocator has no frames left to give.
	ErrExhausted = fmt.Errorf("%w: exhausted", errAlloc)

	// ErrDoubleFree indicates a frame was deallocated twice; this is a kernel
	// invariant violation and is always fatal.
	ErrDoubleFree = fmt.Errorf("%w: double free", errAlloc)

	// ErrOutOfRange is returned when a frame outside the managed region is
	// deallocated.
	ErrOutOfRange = fmt.Errorf("%w: out of range", errAlloc)
)

// Allocator manages a contiguous physical range [base, end) of frames. It is
// a singleton constructed once during kernel init (see spec.md §9,
// "global mutable state") and, per the single-hart concurrency model, is
// mutated only by kernel code that runs with interrupts masked -- no lock is
// held here, matching §5.
type Allocator struct {
	base Frame // First managed frame (ekernel).
	end  Frame // One past the last managed frame (MEMORY_END).

	highwater Frame          // Next frame never yet allocated.
	free      []Frame        // Recycled frames available for reuse.
	allocated map[Frame]bool // Tracks live allocations, to detect double-free.

	log *log.Logger
}

// New creates an Allocator managing the frames in [base, end).
func New(base, end Frame) *Allocator {
	return &Allocator{
		base:      base,
		end:       end,
		highwater: base,
		allocated: make(map[Frame]bool),
		log:       log.DefaultLogger(),
	}
}

// Total returns the number of frames under management.
func (a *Allocator) Total() int {
	return int(a.end - a.base)
}

// Used returns the number of frames currently allocated.
func (a *Allocator) Used() int {
	return len(a.allocated)
}

// Free returns the number of frames available for allocation, whether from
// the free list or never yet touched by the high-water mark.
func (a *Allocator) Free() int {
	return a.Total() - a.Used()
}

// Alloc returns a single frame, or ErrExhausted if none remain.
//
// Alloc does not clear the frame's contents: the allocator itself has no
// memory to zero (it is a bookkeeping structure over an address range
// owned by the caller), so zeroing is the caller's responsibility via
// Memory.Zero.
func (a *Allocator) Alloc() (Frame, error) {
	var f Frame

	if n := len(a.free); n > 0 {
		f = a.free[n-1]
		a.free = a.free[:n-1]
	} else if a.highwater < a.end {
		f = a.highwater
		a.highwater++
	} else {
		return 0, ErrExhausted
	}

	a.allocated[f] = true

	a.log.Debug("frame allocated", "frame", f, "used", a.Used(), "free", a.Free())

	return f, nil
}

// AllocRange allocates n contiguous frames, or returns ErrExhausted without
// taking any. Since the allocator does not guarantee contiguity from its
// free list, this only ever succeeds by advancing the high-water mark.
func (a *Allocator) AllocRange(n int) ([]Frame, error) {
	if n < 0 || int(a.end-a.highwater) < n {
		return nil, ErrExhausted
	}

	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		f := a.highwater
		a.highwater++
		a.allocated[f] = true
		frames = append(frames, f)
	}

	return frames, nil
}

// Dealloc returns a frame to the free list. Double-free and out-of-range
// frees are kernel invariant violations (spec.md §7) and panic after
// logging a diagnostic.
func (a *Allocator) Dealloc(f Frame) error {
	if f < a.base || f >= a.highwater {
		a.log.Error("frame dealloc out of range", "frame", f)
		panic(fmt.Errorf("%w: %s", ErrOutOfRange, f))
	}

	if !a.allocated[f] {
		a.log.Error("frame double free", "frame", f)
		panic(fmt.Errorf("%w: %s", ErrDoubleFree, f))
	}

	delete(a.allocated, f)
	a.free = append(a.free, f)

	a.log.Debug("frame freed", "frame", f, "used", a.Used(), "free", a.Free())

	return nil
}
