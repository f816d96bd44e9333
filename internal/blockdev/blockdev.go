// Package blockdev defines the kernel's block device interface and two
// implementations: an in-memory backing (for tests and RAM disks) and a
// file-backed one (for the boot CLI's --disk flag). Both speak in
// 512-byte sectors, synchronous, with "out of range" as the only error --
// matching spec.md §6 exactly.
package blockdev

import (
	"errors"
	"fmt"
	"os"
)

// SectorSize is the fixed sector size every Device speaks in.
const SectorSize = 512

// Device is a synchronous, sector-addressed block device. The only error
// condition is an out-of-range sector index, which is fatal to the caller
// (spec.md §6).
type Device interface {
	// ReadSector fills buf (which must be exactly SectorSize bytes) with
	// the contents of the sector at idx.
	ReadSector(idx uint64, buf []byte) error

	// WriteSector writes buf (exactly SectorSize bytes) to the sector at
	// idx.
	WriteSector(idx uint64, buf []byte) error

	// Sectors returns the total number of addressable sectors.
	Sectors() uint64
}

var (
	errDevice = errors.New("blockdev")

	// ErrOutOfRange is returned for any sector index at or beyond Sectors().
	ErrOutOfRange = fmt.Errorf("%w: out of range", errDevice)

	// ErrBadSize is returned when a caller passes a buffer that isn't
	// exactly SectorSize bytes.
	ErrBadSize = fmt.Errorf("%w: bad buffer size", errDevice)
)

// Memory is an in-memory block device, useful for tests and ephemeral RAM
// disks.
type Memory struct {
	sectors [][SectorSize]byte
}

// NewMemory creates a Memory device with the given number of sectors, all
// zeroed.
func NewMemory(sectors uint64) *Memory {
	return &Memory{sectors: make([][SectorSize]byte, sectors)}
}

func (m *Memory) Sectors() uint64 { return uint64(len(m.sectors)) }

func (m *Memory) ReadSector(idx uint64, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}

	if idx >= m.Sectors() {
		return fmt.Errorf("%w: sector %d", ErrOutOfRange, idx)
	}

	copy(buf, m.sectors[idx][:])

	return nil
}

func (m *Memory) WriteSector(idx uint64, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}

	if idx >= m.Sectors() {
		return fmt.Errorf("%w: sector %d", ErrOutOfRange, idx)
	}

	copy(m.sectors[idx][:], buf)

	return nil
}

// File is a block device backed by a host file, used by the `ferrite boot
// --disk=path` CLI flag.
type File struct {
	f       *os.File
	sectors uint64
}

// OpenFile opens (or creates, truncating to the given sector count if it
// didn't already exist at that size) a file-backed block device.
func OpenFile(path string, sectors uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	size := int64(sectors) * SectorSize

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		size = info.Size()
		sectors = uint64(size) / SectorSize
	}

	return &File{f: f, sectors: sectors}, nil
}

func (d *File) Sectors() uint64 { return d.sectors }

func (d *File) ReadSector(idx uint64, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}

	if idx >= d.sectors {
		return fmt.Errorf("%w: sector %d", ErrOutOfRange, idx)
	}

	_, err := d.f.ReadAt(buf, int64(idx)*SectorSize)

	return err
}

func (d *File) WriteSector(idx uint64, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}

	if idx >= d.sectors {
		return fmt.Errorf("%w: sector %d", ErrOutOfRange, idx)
	}

	_, err := d.f.WriteAt(buf, int64(idx)*SectorSize)

	return err
}

// Close releases the underlying file handle.
func (d *File) Close() error {
	return d.f.Close()
}

func checkBuf(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("%w: %d", ErrBadSize, len(buf))
	}

	return nil
}
