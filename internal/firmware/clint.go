package firmware

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// CLINT models just enough of the core-local interruptor to support
// `set_timer`: an 8-byte mtimecmp register and a free-running tick
// counter the kernel polls to detect an elapsed deadline, standing in
// for the real mtime/mtimecmp comparator hardware.
type CLINT struct {
	mu sync.Mutex

	mtimecmp uint64
	ticks    uint64
}

// NewCLINT creates a timer with mtimecmp parked at its maximum value, so
// no interrupt is pending until the kernel calls SetTimer.
func NewCLINT() *CLINT {
	return &CLINT{mtimecmp: ^uint64(0)}
}

func (c *CLINT) name() string { return "clint" }

func (c *CLINT) Load(offset uint64) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if offset >= 8 {
		return 0, fmt.Errorf("%w: clint offset %d", ErrNoDevice, offset)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], c.mtimecmp)

	return buf[offset], nil
}

func (c *CLINT) Store(offset uint64, v byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if offset >= 8 {
		return fmt.Errorf("%w: clint offset %d", ErrNoDevice, offset)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], c.mtimecmp)
	buf[offset] = v
	c.mtimecmp = binary.LittleEndian.Uint64(buf[:])

	return nil
}

// SetTimer is the SBI TIMER extension's direct effect: arm mtimecmp for
// the given absolute tick.
func (c *CLINT) SetTimer(deadline uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mtimecmp = deadline
}

// Tick advances the free-running counter by one and reports whether the
// armed deadline has now been reached, the condition the kernel's run
// loop uses to raise a supervisor timer interrupt.
func (c *CLINT) Tick() (expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ticks++

	return c.ticks >= c.mtimecmp
}

// Now returns the current tick count, backing the clock_gettime syscall.
func (c *CLINT) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ticks
}
