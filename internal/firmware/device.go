// Package firmware implements the M-Mode micro-firmware spec.md §4.1
// describes: a UART 16550 console, a CLINT timer, the virt platform's
// test-finisher shutdown device, and the SBI ecall surface the kernel
// consumes to reach them. Grounded on elsie's vm.MMIO: a table indexed
// by address, each entry a narrow device interface rather than a
// concrete register type, so Machine.Load/Store never needs to know
// which device backs which address beyond the table lookup.
package firmware

import (
	"errors"
	"fmt"
)

// Device is the narrow interface every memory-mapped device behind
// Machine implements: single-byte load/store, the granularity the UART
// and virt-test-finisher actually use (the CLINT's 64-bit mtimecmp is
// assembled from eight of these).
type Device interface {
	Load(offset uint64) (byte, error)
	Store(offset uint64, v byte) error
	name() string
}

var errDevice = errors.New("firmware")

// ErrNoDevice is returned by Machine.Load/Store for any address outside
// every mapped device's range.
var ErrNoDevice = fmt.Errorf("%w: no device at address", errDevice)
