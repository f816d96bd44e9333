// Package vmem implements the kernel's Sv39 virtual memory: three-level
// page tables, per-task address spaces assembled from ELF images or cloned
// across a fork, and the mmap/munmap/copy-in/copy-out surface the syscall
// layer drives. It plays the role the teacher's internal/vm.Memory plays
// for the LC-3 simulator -- a narrow, access-checked gateway onto physical
// storage -- generalized from a flat 16-bit logical space to Sv39's
// paged 39-bit one.
package vmem

// PageSize is the Sv39 page size.
const PageSize = 4096

// pageBits is log2(PageSize).
const pageBits = 12

// vpnBits is the width of one VPN segment (9 bits per Sv39 level).
const vpnBits = 9

// levels is the number of page-table levels Sv39 walks.
const levels = 3

// VirtAddr is a 39-bit (sign-extended in real hardware, but this
// simulator only ever sees the canonical low half) virtual address.
type VirtAddr uint64

// VPN returns the level'th virtual page number segment (0 = leaf level).
func (v VirtAddr) VPN(level int) uint64 {
	shift := pageBits + level*vpnBits
	return (uint64(v) >> shift) & ((1 << vpnBits) - 1)
}

// PageOffset returns the address's offset within its page.
func (v VirtAddr) PageOffset() uint64 {
	return uint64(v) & (PageSize - 1)
}

// Floor rounds down to the containing page's base address.
func (v VirtAddr) Floor() VirtAddr {
	return VirtAddr(uint64(v) &^ (PageSize - 1))
}

// Ceil rounds up to the next page boundary.
func (v VirtAddr) Ceil() VirtAddr {
	return VirtAddr((uint64(v) + PageSize - 1) &^ (PageSize - 1))
}

// VPNOf returns the page number (address with the offset bits shifted
// out) -- the unit MapArea and PageTable actually key on.
func (v VirtAddr) VPNOf() uint64 {
	return uint64(v) >> pageBits
}

// PhysAddr is a physical address, identity-mapped to pmm.Frame*PageSize
// plus an offset.
type PhysAddr uint64

func (p PhysAddr) PageOffset() uint64 { return uint64(p) & (PageSize - 1) }

// Region constants for the kernel half of every address space, mirroring
// elsie's single block of named region constants in vm/mem.go.
const (
	// TrampolineBase is the fixed top-of-address-space page every address
	// space maps the trap trampoline code at, so `sret`/`sepc` continue to
	// point at valid code across the U-mode/S-mode switch.
	TrampolineBase VirtAddr = (1 << 39) - PageSize

	// TrapContextBase sits one page below the trampoline and holds the
	// task's saved trap.Context while it runs in user mode.
	TrapContextBase VirtAddr = TrampolineBase - PageSize
)
