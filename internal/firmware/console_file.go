package firmware

// ConsoleFile adapts a UART16550 to the kernel's FileHandle capability
// (Readable/Writable/Read/Write), so a task's stdio descriptors can be
// wired directly to the simulated console rather than left closed.
// Structurally satisfies internal/task.FileHandle without importing it,
// the same narrow-interface-over-a-device shape as the rest of this
// package.
type ConsoleFile struct {
	uart *UART16550
}

// NewConsoleFile wraps uart as a readable/writable file handle.
func NewConsoleFile(uart *UART16550) *ConsoleFile {
	return &ConsoleFile{uart: uart}
}

func (c *ConsoleFile) Readable() bool { return true }
func (c *ConsoleFile) Writable() bool { return true }

// Read blocks for exactly one byte via the UART's synchronous
// console_getchar semantics, then returns it; len(buf)==0 is a no-op.
func (c *ConsoleFile) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	buf[0] = c.uart.GetChar()

	return 1, nil
}

// Write transmits every byte of buf through the UART's THR register,
// one at a time, matching the original's byte-at-a-time console_putchar.
func (c *ConsoleFile) Write(buf []byte) (int, error) {
	for _, b := range buf {
		if err := c.uart.Store(regTHR, b); err != nil {
			return 0, err
		}
	}

	return len(buf), nil
}
