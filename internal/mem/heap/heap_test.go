package heap_test

import (
	"testing"

	"github.com/ferrite-os/ferrite/internal/mem/heap"
)

func TestAllocFree(tt *testing.T) {
	tt.Parallel()

	a := heap.Init(0x9000_0000, 4096)

	p1, err := a.Alloc(64)
	if err != nil {
		tt.Fatalf("alloc: %s", err)
	}

	p2, err := a.Alloc(64)
	if err != nil {
		tt.Fatalf("alloc: %s", err)
	}

	if p1 == p2 {
		tt.Fatalf("expected distinct addresses, got %#x twice", p1)
	}

	a.Free(p1)
	a.Free(p2)

	// After freeing everything, the whole arena should be allocatable again
	// as one block (buddies should have merged back together).
	p3, err := a.Alloc(4096)
	if err != nil {
		tt.Fatalf("alloc after merge: %s", err)
	}

	if p3 != 0x9000_0000 {
		tt.Errorf("want merged block at base, got %#x", p3)
	}
}

func TestExhausted(tt *testing.T) {
	tt.Parallel()

	a := heap.Init(0, 64)

	if _, err := a.Alloc(64); err != nil {
		tt.Fatalf("alloc: %s", err)
	}

	if _, err := a.Alloc(16); err == nil {
		tt.Errorf("expected exhaustion, arena is fully allocated")
	}
}

func TestFreeUnallocatedPanics(tt *testing.T) {
	tt.Parallel()

	a := heap.Init(0, 256)

	defer func() {
		if r := recover(); r == nil {
			tt.Errorf("expected panic freeing an unallocated address")
		}
	}()

	a.Free(0x40)
}
