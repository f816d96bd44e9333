// Package trap implements the kernel's trap/exception entry point: the
// saved register context that crosses the user/supervisor boundary, and
// the scause-keyed dispatch table that routes a trap to the right
// handler. It generalizes elsie's vm.LC3.Step staged instruction cycle
// (Fetch/Decode/Execute/Writeback, each logged) from a fixed fetch-decode
// loop to RISC-V's single-entry-point, cause-keyed trap handling.
package trap

import "encoding/binary"

// Context is the saved register window a task resumes from, equivalent to
// the original's TrapContext. Real RISC-V hardware/firmware would save
// this in a trampoline page written in assembly; this simulator has no
// such page to assemble, so the kernel reads and writes this plain struct
// directly, and Encode/DecodeContext below serialize it (the one
// deliberate semantic translation from the original's hand-built context
// switch).
type Context struct {
	GPR [32]uint64 // x0-x31; x0 is always zero and never written back.

	Sstatus uint64
	Sepc    uint64

	// KernelSatp and KernelSP let the trap handler, running with the
	// task's user page table still active in spirit, switch back to the
	// kernel's own address space and stack before dispatch.
	KernelSatp uint64
	KernelSP   uint64

	// TrapHandler is the kernel entry point to resume at after the next
	// trap; carried in the context so a freshly execed task's first trap
	// lands in the right place without extra bookkeeping.
	TrapHandler uint64
}

// Size is the encoded byte length of a Context, sized to fit within a
// single page with room to spare.
const Size = (32 + 5) * 8

// NewContext builds the initial context for a task about to start
// executing at entry with the given user stack pointer.
func NewContext(entry, userSP, kernelSatp, kernelSP, trapHandler uint64) *Context {
	ctx := &Context{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	ctx.GPR[2] = userSP // sp

	return ctx
}

// Encode serializes the context into buf (which must be at least Size
// bytes), the layout used when a context is written into a task's trap
// context page.
func (c *Context) Encode(buf []byte) {
	for i, v := range c.GPR {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], v)
	}

	off := 32 * 8
	binary.LittleEndian.PutUint64(buf[off:off+8], c.Sstatus)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], c.Sepc)
	binary.LittleEndian.PutUint64(buf[off+16:off+24], c.KernelSatp)
	binary.LittleEndian.PutUint64(buf[off+24:off+32], c.KernelSP)
	binary.LittleEndian.PutUint64(buf[off+32:off+40], c.TrapHandler)
}

// DecodeContext populates a context from a byte buffer written by Encode.
func DecodeContext(buf []byte) *Context {
	c := &Context{}

	for i := range c.GPR {
		c.GPR[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}

	off := 32 * 8
	c.Sstatus = binary.LittleEndian.Uint64(buf[off : off+8])
	c.Sepc = binary.LittleEndian.Uint64(buf[off+8 : off+16])
	c.KernelSatp = binary.LittleEndian.Uint64(buf[off+16 : off+24])
	c.KernelSP = binary.LittleEndian.Uint64(buf[off+24 : off+32])
	c.TrapHandler = binary.LittleEndian.Uint64(buf[off+32 : off+40])

	return c
}

// Arg returns the i'th syscall argument register (a0-a5, i.e. x10-x15).
func (c *Context) Arg(i int) uint64 { return c.GPR[10+i] }

// SyscallNumber returns the value in a7 (x17), the syscall number
// register per the RISC-V Linux-style calling convention the original
// uses.
func (c *Context) SyscallNumber() uint64 { return c.GPR[17] }

// SetReturn stores a syscall's return value in a0 (x10).
func (c *Context) SetReturn(v int64) { c.GPR[10] = uint64(v) }

// AdvancePastEcall moves sepc past the 4-byte ecall instruction, so
// resuming execution continues with the next instruction rather than
// looping on the same ecall.
func (c *Context) AdvancePastEcall() { c.Sepc += 4 }
