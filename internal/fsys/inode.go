package fsys

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ferrite-os/ferrite/internal/blockdev"
)

// diskInodeSize is the fixed on-disk footprint of every inode, chosen so
// four fit per 512-byte block, matching the original easy-fs layout.
const diskInodeSize = 128

// inodesPerBlock follows directly from diskInodeSize and the sector size.
const inodesPerBlock = blockdev.SectorSize / diskInodeSize

// directBound is the number of direct data-block pointers an inode carries
// before falling back to its single indirect block.
const directBound = 28

// indirectEntries is the number of uint32 block pointers a single indirect
// block can hold.
const indirectEntries = blockdev.SectorSize / 4

// MaxFileSize is the largest file directBound direct pointers plus one
// indirect block can address.
const MaxFileSize = (directBound + indirectEntries) * blockdev.SectorSize

// InodeType distinguishes a plain file from a directory, mirroring the
// original's DiskInodeType enum.
type InodeType uint8

const (
	TypeFile InodeType = iota
	TypeDirectory
)

// diskInode is the in-memory image of one on-disk inode record.
type diskInode struct {
	size     uint32
	direct   [directBound]uint32
	indirect uint32
	kind     InodeType
}

func (d *diskInode) isDir() bool { return d.kind == TypeDirectory }

// dataBlocks returns how many data blocks this inode currently occupies.
func (d *diskInode) dataBlocks() uint32 {
	return blocksNeeded(d.size)
}

func blocksNeeded(size uint32) uint32 {
	return (size + blockdev.SectorSize - 1) / blockdev.SectorSize
}

// totalBlocks returns data blocks plus the indirect block itself, if one is
// needed.
func (d *diskInode) totalBlocks() uint32 {
	n := d.dataBlocks()
	if n > directBound {
		return n + 1
	}

	return n
}

func (d *diskInode) encode(data *[diskInodeSize]byte) {
	binary.LittleEndian.PutUint32(data[0:4], d.size)

	for i, ptr := range d.direct {
		off := 4 + i*4
		binary.LittleEndian.PutUint32(data[off:off+4], ptr)
	}

	indirectOff := 4 + directBound*4
	binary.LittleEndian.PutUint32(data[indirectOff:indirectOff+4], d.indirect)
	data[indirectOff+4] = byte(d.kind)
}

func decodeDiskInode(data *[diskInodeSize]byte) *diskInode {
	d := &diskInode{}
	d.size = binary.LittleEndian.Uint32(data[0:4])

	for i := range d.direct {
		off := 4 + i*4
		d.direct[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	indirectOff := 4 + directBound*4
	d.indirect = binary.LittleEndian.Uint32(data[indirectOff : indirectOff+4])
	d.kind = InodeType(data[indirectOff+4])

	return d
}

var errInode = errors.New("fsys")

// ErrNotFound indicates a lookup (by name, or by reading past a
// directory's entries) found nothing.
var ErrNotFound = fmt.Errorf("%w: not found", errInode)

// ErrNotDirectory and ErrIsDirectory gate directory-only and file-only
// operations.
var (
	ErrNotDirectory = fmt.Errorf("%w: not a directory", errInode)
	ErrIsDirectory  = fmt.Errorf("%w: is a directory", errInode)
)

// blockAt resolves the idx'th data block of this inode, reading the
// indirect block when idx falls beyond directBound. fs is needed to reach
// the block cache.
func (fs *FileSystem) blockAt(d *diskInode, idx uint32) (uint32, error) {
	if idx < directBound {
		return d.direct[idx], nil
	}

	idx -= directBound

	buf := make([]byte, blockdev.SectorSize)
	if err := fs.cache.Read(uint64(d.indirect), buf); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[idx*4 : idx*4+4]), nil
}
