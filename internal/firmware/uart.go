package firmware

import (
	"fmt"
	"runtime"
	"sync"
)

// UART register offsets, relative to its base address, matching the
// original's handful of 16550 registers (original_source/sbi/src/
// msbi.rs's THR/LSR).
const (
	regTHR = 0 // Transmit Holding Register (write) / Receive Buffer (read).
	regLSR = 5 // Line Status Register.

	lsrDataReady   = 1 << 0
	lsrTransmitter = 1 << 5 // THRE: transmitter holding register empty.
)

// UART16550 is a minimal single-byte-at-a-time serial console: writes
// go to Output, reads are non-blocking and pull from an input queue fed
// by Feed (the host console bridge calls Feed as keystrokes arrive).
type UART16550 struct {
	mu sync.Mutex

	Output func(b byte)
	input  []byte
}

// NewUART16550 creates a console device that calls output for every
// byte the kernel transmits.
func NewUART16550(output func(b byte)) *UART16550 {
	return &UART16550{Output: output}
}

func (u *UART16550) name() string { return "uart16550" }

// Feed appends host-supplied input bytes to the UART's receive queue.
func (u *UART16550) Feed(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.input = append(u.input, b)
}

func (u *UART16550) Load(offset uint64) (byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case regTHR:
		if len(u.input) == 0 {
			return 0, nil
		}

		b := u.input[0]
		u.input = u.input[1:]

		return b, nil
	case regLSR:
		status := byte(lsrTransmitter)
		if len(u.input) > 0 {
			status |= lsrDataReady
		}

		return status, nil
	default:
		return 0, fmt.Errorf("%w: uart offset %d", ErrNoDevice, offset)
	}
}

func (u *UART16550) Store(offset uint64, v byte) error {
	switch offset {
	case regTHR:
		if u.Output != nil {
			u.Output(v)
		}

		return nil
	default:
		return fmt.Errorf("%w: uart offset %d", ErrNoDevice, offset)
	}
}

// GetChar is the synchronous, SBI-legacy-console read: it blocks the
// calling goroutine until a byte is available, matching the original's
// handle_console_getchar busy-loop (`loop { if let Some(c) = ... }`).
func (u *UART16550) GetChar() byte {
	for {
		u.mu.Lock()

		if len(u.input) > 0 {
			b := u.input[0]
			u.input = u.input[1:]
			u.mu.Unlock()

			return b
		}

		u.mu.Unlock()
		runtime.Gosched()
	}
}
