package firmware

import (
	"encoding/binary"
	"fmt"
)

// Virt test-finisher exit codes: write one of these to the device to
// stop the simulated machine, matching the original's EXIT_SUCCESS/
// EXIT_RESET and spec.md §6.
const (
	ExitSuccess uint32 = 0x5555
	ExitReset   uint32 = 0x3333
)

// VirtTestFinisher is the virt platform's `test` device: any 4-byte
// write to it halts the machine, interpreting the written value as an
// exit code for the host test harness.
type VirtTestFinisher struct {
	buf [4]byte

	// OnExit is called once a full 4-byte code has been written, with
	// the code that was written.
	OnExit func(code uint32)
}

func NewVirtTestFinisher(onExit func(code uint32)) *VirtTestFinisher {
	return &VirtTestFinisher{OnExit: onExit}
}

func (f *VirtTestFinisher) name() string { return "virt-test-finisher" }

func (f *VirtTestFinisher) Load(offset uint64) (byte, error) {
	if offset >= 4 {
		return 0, fmt.Errorf("%w: finisher offset %d", ErrNoDevice, offset)
	}

	return f.buf[offset], nil
}

func (f *VirtTestFinisher) Store(offset uint64, v byte) error {
	if offset >= 4 {
		return fmt.Errorf("%w: finisher offset %d", ErrNoDevice, offset)
	}

	f.buf[offset] = v

	if offset == 3 && f.OnExit != nil {
		f.OnExit(binary.LittleEndian.Uint32(f.buf[:]))
	}

	return nil
}
