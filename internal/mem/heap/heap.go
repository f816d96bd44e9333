// Package heap implements the kernel's dynamic allocator: a buddy-style
// allocator over a fixed arena, handing out addresses that do not come
// from the host Go runtime's garbage collector. No other kernel package
// allocates from it: page-table nodes take whole frames from
// internal/mem/pmm, and task control blocks are ordinary Go values.
//
// It is translated from the buddy allocator in the original
// rCore-Tutorial's tg-kernel-alloc crate (a GlobalAlloc impl over a
// customizable_buddy::BuddyAllocator). Go gives user code no hook to
// intercept the runtime's own allocator, so there is no equivalent of
// overriding #[global_allocator]; instead this is an explicit value type
// the kernel calls directly wherever it needs memory outside the Go heap.
package heap

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ferrite-os/ferrite/internal/log"
)

var (
	errHeap = errors.New("heap")

	// ErrExhausted is returned when no free block of the requested order exists.
	ErrExhausted = fmt.Errorf("%w: exhausted", errHeap)

	// ErrInvalidSize is returned for a zero or over-large allocation request.
	ErrInvalidSize = fmt.Errorf("%w: invalid size", errHeap)

	// ErrNotAllocated is a kernel invariant violation: freeing a block that
	// was never (or is no longer) allocated.
	ErrNotAllocated = fmt.Errorf("%w: not allocated", errHeap)
)

// minOrder is the smallest block size exponent the allocator will hand out:
// 2^minOrder bytes, large enough to hold a pointer-sized header-free block.
const minOrder = 4 // 16 bytes

// Allocator is a buddy allocator over a single contiguous arena. Blocks are
// powers of two in size; freeing a block attempts to merge it with its
// buddy, recursively, the same as the original's BuddyAllocator.
type Allocator struct {
	base     uintptr
	size     uintptr
	maxOrder int

	// freeLists[k] holds the offsets (from base) of free blocks of size
	// 2^(minOrder+k).
	freeLists [][]uintptr

	// allocated tracks the order of each live allocation, keyed by offset,
	// so Free can find the block's size without the caller repeating it.
	allocated map[uintptr]int

	log *log.Logger
}

// Init creates a buddy allocator over an arena of the given size starting at
// base. size is rounded up to the next power of two internally; the caller
// must ensure the backing bytes are reserved (via pmm or a static array) and
// outlive the allocator.
func Init(base, size uintptr) *Allocator {
	order := orderFor(size)
	if order < minOrder {
		order = minOrder
	}

	maxOrder := order - minOrder

	a := &Allocator{
		base:      base,
		size:      uintptr(1) << order,
		maxOrder:  maxOrder,
		freeLists: make([][]uintptr, maxOrder+1),
		allocated: make(map[uintptr]int),
		log:       log.DefaultLogger(),
	}

	a.freeLists[maxOrder] = []uintptr{0}

	return a
}

func orderFor(size uintptr) int {
	if size <= 1 {
		return 0
	}

	return bits.Len64(uint64(size - 1))
}

// Alloc reserves a block of at least size bytes, aligned to its own size
// (the buddy invariant), and returns its address. It returns ErrExhausted if
// no block of a sufficient order can be split out of the free lists.
func (a *Allocator) Alloc(size uintptr) (uintptr, error) {
	if size == 0 || size > a.size {
		return 0, ErrInvalidSize
	}

	order := orderFor(size)
	if order < minOrder {
		order = minOrder
	}

	k := order - minOrder
	if k > a.maxOrder {
		return 0, ErrInvalidSize
	}

	offset, err := a.take(k)
	if err != nil {
		return 0, err
	}

	a.allocated[offset] = k

	addr := a.base + offset

	a.log.Debug("heap alloc", "addr", fmt.Sprintf("%#x", addr), "size", uintptr(1)<<order)

	return addr, nil
}

// take finds or creates a free block at order k, splitting a larger block if
// necessary.
func (a *Allocator) take(k int) (uintptr, error) {
	if k > a.maxOrder {
		return 0, ErrExhausted
	}

	if n := len(a.freeLists[k]); n > 0 {
		offset := a.freeLists[k][n-1]
		a.freeLists[k] = a.freeLists[k][:n-1]

		return offset, nil
	}

	parent, err := a.take(k + 1)
	if err != nil {
		return 0, err
	}

	buddySize := uintptr(1) << (minOrder + k)
	buddy := parent + buddySize

	a.freeLists[k] = append(a.freeLists[k], buddy)

	return parent, nil
}

// Free releases a block previously returned by Alloc, merging with its
// buddy when possible. Freeing an address that was not allocated is a
// kernel invariant violation, matching the double-free policy used
// elsewhere (spec.md §7): it panics after logging.
func (a *Allocator) Free(addr uintptr) {
	offset := addr - a.base

	k, ok := a.allocated[offset]
	if !ok {
		a.log.Error("heap free of unallocated block", "addr", fmt.Sprintf("%#x", addr))
		panic(fmt.Errorf("%w: %#x", ErrNotAllocated, addr))
	}

	delete(a.allocated, offset)
	a.free(offset, k)

	a.log.Debug("heap freed", "addr", fmt.Sprintf("%#x", addr))
}

func (a *Allocator) free(offset uintptr, k int) {
	for k < a.maxOrder {
		buddySize := uintptr(1) << (minOrder + k)
		buddy := offset ^ buddySize

		list := a.freeLists[k]
		idx := -1

		for i, o := range list {
			if o == buddy {
				idx = i
				break
			}
		}

		if idx < 0 {
			break
		}

		// Merge with the buddy and try the next order up.
		a.freeLists[k] = append(list[:idx], list[idx+1:]...)
		offset &^= buddySize
		k++
	}

	a.freeLists[k] = append(a.freeLists[k], offset)
}
