package firmware

import (
	"encoding/binary"
	"fmt"

	"github.com/ferrite-os/ferrite/internal/log"
)

// Physical addresses of the virt platform's fixed devices, named per
// spec.md §6.
const (
	UARTBase          uint64 = 0x1000_0000
	CLINTMtimecmpBase uint64 = 0x0200_4000
	VirtTestBase      uint64 = 0x0010_0000
)

// Machine is the M-Mode firmware's view of physical memory: a small
// table of devices by base address, grounded on elsie's vm.MMIO (a
// table indexed by logical address, each entry a narrow device
// interface rather than a concrete register type).
type Machine struct {
	UART     *UART16550
	CLINT    *CLINT
	Finisher *VirtTestFinisher

	devices map[uint64]Device
	sizes   map[uint64]uint64

	log *log.Logger
}

// NewMachine builds a Machine with its three fixed devices already
// mapped at their spec.md §6 addresses.
func NewMachine(uartOutput func(b byte), onExit func(code uint32)) *Machine {
	uart := NewUART16550(uartOutput)
	clint := NewCLINT()
	finisher := NewVirtTestFinisher(onExit)

	return &Machine{
		UART:     uart,
		CLINT:    clint,
		Finisher: finisher,
		devices: map[uint64]Device{
			UARTBase:          uart,
			CLINTMtimecmpBase: clint,
			VirtTestBase:      finisher,
		},
		sizes: map[uint64]uint64{
			UARTBase:          8,
			CLINTMtimecmpBase: 8,
			VirtTestBase:      4,
		},
		log: log.DefaultLogger(),
	}
}

func (m *Machine) resolve(addr uint64) (Device, uint64, error) {
	for base, size := range m.sizes {
		if addr >= base && addr < base+size {
			return m.devices[base], addr - base, nil
		}
	}

	return nil, 0, fmt.Errorf("%w: %#x", ErrNoDevice, addr)
}

// Load reads one byte from the device mapped at addr.
func (m *Machine) Load(addr uint64) (byte, error) {
	dev, offset, err := m.resolve(addr)
	if err != nil {
		return 0, err
	}

	v, err := dev.Load(offset)

	m.log.Debug("mmio load", "addr", fmt.Sprintf("%#x", addr), "device", dev.name(), "value", v)

	return v, err
}

// Store writes one byte to the device mapped at addr.
func (m *Machine) Store(addr uint64, v byte) error {
	dev, offset, err := m.resolve(addr)
	if err != nil {
		return err
	}

	m.log.Debug("mmio store", "addr", fmt.Sprintf("%#x", addr), "device", dev.name(), "value", v)

	return dev.Store(offset, v)
}

// Shutdown halts the machine by writing a whole exit code to the
// test-finisher in one step, the firmware-level effect of handle_
// system_reset in the original (which always performs a single 32-bit
// store).
func (m *Machine) Shutdown(code uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], code)

	for i, b := range buf {
		_ = m.Finisher.Store(uint64(i), b)
	}
}
