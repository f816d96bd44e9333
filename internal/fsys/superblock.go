package fsys

import (
	"encoding/binary"
	"fmt"

	"github.com/ferrite-os/ferrite/internal/blockdev"
)

// magicNumber identifies a formatted easy-fs volume, carried over verbatim
// from the original's EFS_MAGIC so that images built by either toolchain
// are recognisable.
const magicNumber uint32 = 0x3b800001

// superBlock occupies block 0 of every volume and records the on-disk
// layout chosen at Create time: one bitmap-and-area pair for inodes, one
// for data.
type superBlock struct {
	magic             uint32
	totalBlocks       uint32
	inodeBitmapBlocks uint32
	inodeAreaBlocks   uint32
	dataBitmapBlocks  uint32
	dataAreaBlocks    uint32
}

func (s *superBlock) valid() bool { return s.magic == magicNumber }

func (s *superBlock) encode(data *[blockdev.SectorSize]byte) {
	binary.LittleEndian.PutUint32(data[0:4], s.magic)
	binary.LittleEndian.PutUint32(data[4:8], s.totalBlocks)
	binary.LittleEndian.PutUint32(data[8:12], s.inodeBitmapBlocks)
	binary.LittleEndian.PutUint32(data[12:16], s.inodeAreaBlocks)
	binary.LittleEndian.PutUint32(data[16:20], s.dataBitmapBlocks)
	binary.LittleEndian.PutUint32(data[20:24], s.dataAreaBlocks)
}

func decodeSuperBlock(data *[blockdev.SectorSize]byte) *superBlock {
	return &superBlock{
		magic:             binary.LittleEndian.Uint32(data[0:4]),
		totalBlocks:       binary.LittleEndian.Uint32(data[4:8]),
		inodeBitmapBlocks: binary.LittleEndian.Uint32(data[8:12]),
		inodeAreaBlocks:   binary.LittleEndian.Uint32(data[12:16]),
		dataBitmapBlocks:  binary.LittleEndian.Uint32(data[16:20]),
		dataAreaBlocks:    binary.LittleEndian.Uint32(data[20:24]),
	}
}

// inodeBitmapStart and the three methods below return the starting block
// index of each region.
func (s *superBlock) inodeBitmapStart() uint64 { return 1 }
func (s *superBlock) inodeAreaStart() uint64 {
	return s.inodeBitmapStart() + uint64(s.inodeBitmapBlocks)
}

func (s *superBlock) dataBitmapStart() uint64 {
	return s.inodeAreaStart() + uint64(s.inodeAreaBlocks)
}

func (s *superBlock) dataAreaStart() uint64 {
	return s.dataBitmapStart() + uint64(s.dataBitmapBlocks)
}

func (s *superBlock) String() string {
	return fmt.Sprintf(
		"easy-fs volume: %d blocks, %d inodes (%d bitmap blk), %d data blocks (%d bitmap blk)",
		s.totalBlocks, s.inodeAreaBlocks*inodesPerBlock, s.inodeBitmapBlocks,
		s.dataAreaBlocks, s.dataBitmapBlocks,
	)
}
