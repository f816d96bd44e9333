// Package fsys implements easy-fs, the single-directory block filesystem
// described in spec.md §4.8: a superblock, an inode bitmap and area, a data
// bitmap and area, fixed 28-direct-plus-1-indirect inodes, and 32-byte
// directory entries in the root. It is ported from the original
// rCore-Tutorial's easy-fs crate (tg-easy-fs/src/{bitmap,layout,efs,
// vfs}.rs) onto this project's internal/blockdev.Device, with the buffer
// cache in cache.go replacing its BlockCache/BLOCK_CACHE_MANAGER.
package fsys

import (
	"fmt"
	"sync"

	"github.com/ferrite-os/ferrite/internal/blockdev"
	"github.com/ferrite-os/ferrite/internal/log"
)

// rootInodeID is the fixed inode number of the filesystem root directory.
const rootInodeID = 0

// FileSystem is a mounted easy-fs volume.
type FileSystem struct {
	mu sync.Mutex

	dev   blockdev.Device
	cache *Cache
	super *superBlock

	inodeBitmap *bitmap
	dataBitmap  *bitmap

	log *log.Logger
}

// Create formats dev as a fresh easy-fs volume: totalBlocks sectors total,
// with inodeBitmapBlocks worth of bitmap driving the inode area sized to
// match. The remainder (less the superblock and inode region) becomes the
// data area, with its own bitmap sized at a 1-bitmap-block-per-4096-data
// -blocks ratio, exactly as EasyFileSystem::create does.
func Create(dev blockdev.Device, totalBlocks uint32, inodeBitmapBlocks uint32) (*FileSystem, error) {
	cache := NewCache(dev)

	inodeBitmapMax := inodeBitmapBlocks * bitsPerBlock
	inodeAreaBlocks := (inodeBitmapMax + inodesPerBlock - 1) / inodesPerBlock

	usedBlocks := 1 + inodeBitmapBlocks + inodeAreaBlocks
	if usedBlocks >= totalBlocks {
		return nil, fmt.Errorf("%w: volume too small for inode region", errInode)
	}

	remaining := totalBlocks - usedBlocks
	dataBitmapBlocks := (remaining + bitsPerBlock) / (bitsPerBlock + 1)
	if dataBitmapBlocks == 0 {
		dataBitmapBlocks = 1
	}

	dataAreaBlocks := remaining - dataBitmapBlocks

	super := &superBlock{
		magic:             magicNumber,
		totalBlocks:       totalBlocks,
		inodeBitmapBlocks: inodeBitmapBlocks,
		inodeAreaBlocks:   inodeAreaBlocks,
		dataBitmapBlocks:  dataBitmapBlocks,
		dataAreaBlocks:    dataAreaBlocks,
	}

	fs := &FileSystem{
		dev:         dev,
		cache:       cache,
		super:       super,
		inodeBitmap: newBitmap(cache, super.inodeBitmapStart(), inodeBitmapBlocks),
		dataBitmap:  newBitmap(cache, super.dataBitmapStart(), dataBitmapBlocks),
		log:         log.DefaultLogger(),
	}

	// Zero every block the superblock claims so bitmap scans start clean.
	zero := make([]byte, blockdev.SectorSize)
	for i := uint64(0); i < uint64(totalBlocks); i++ {
		if err := dev.WriteSector(i, zero); err != nil {
			return nil, err
		}
	}

	if err := cache.Modify(0, func(data *[blockdev.SectorSize]byte) { super.encode(data) }); err != nil {
		return nil, err
	}

	id, ok, err := fs.inodeBitmap.alloc()
	if err != nil {
		return nil, err
	}

	if !ok || id != rootInodeID {
		return nil, fmt.Errorf("%w: root inode allocation mismatch", errInode)
	}

	root := &diskInode{kind: TypeDirectory}
	if err := fs.writeDiskInode(rootInodeID, root); err != nil {
		return nil, err
	}

	if err := cache.Sync(); err != nil {
		return nil, err
	}

	fs.log.Info("formatted volume", "blocks", totalBlocks, "inodes", inodeAreaBlocks*inodesPerBlock)

	return fs, nil
}

// Open mounts an already-formatted volume, validating its magic number.
func Open(dev blockdev.Device) (*FileSystem, error) {
	cache := NewCache(dev)

	var buf [blockdev.SectorSize]byte
	if err := cache.Read(0, buf[:]); err != nil {
		return nil, err
	}

	super := decodeSuperBlock(&buf)
	if !super.valid() {
		return nil, fmt.Errorf("%w: bad magic %#x", errInode, super.magic)
	}

	fs := &FileSystem{
		dev:         dev,
		cache:       cache,
		super:       super,
		inodeBitmap: newBitmap(cache, super.inodeBitmapStart(), super.inodeBitmapBlocks),
		dataBitmap:  newBitmap(cache, super.dataBitmapStart(), super.dataBitmapBlocks),
		log:         log.DefaultLogger(),
	}

	return fs, nil
}

// Root returns the handle for the filesystem's single directory.
func (fs *FileSystem) Root() *Inode {
	return &Inode{fs: fs, id: rootInodeID}
}

// Sync flushes every dirty cached block to the underlying device.
func (fs *FileSystem) Sync() error {
	return fs.cache.Sync()
}

func (fs *FileSystem) inodePos(id uint32) (block uint64, offset int) {
	block = fs.super.inodeAreaStart() + uint64(id/inodesPerBlock)
	offset = int(id%inodesPerBlock) * diskInodeSize

	return block, offset
}

func (fs *FileSystem) readDiskInode(id uint32) (*diskInode, error) {
	block, offset := fs.inodePos(id)

	var page [blockdev.SectorSize]byte
	if err := fs.cache.Read(block, page[:]); err != nil {
		return nil, err
	}

	var inodeBuf [diskInodeSize]byte
	copy(inodeBuf[:], page[offset:offset+diskInodeSize])

	return decodeDiskInode(&inodeBuf), nil
}

func (fs *FileSystem) writeDiskInode(id uint32, d *diskInode) error {
	block, offset := fs.inodePos(id)

	return fs.cache.Modify(block, func(data *[blockdev.SectorSize]byte) {
		var inodeBuf [diskInodeSize]byte
		d.encode(&inodeBuf)
		copy(data[offset:offset+diskInodeSize], inodeBuf[:])
	})
}

// allocDataBlock allocates one data block and returns its absolute block
// index, zeroing it.
func (fs *FileSystem) allocDataBlock() (uint32, error) {
	pos, ok, err := fs.dataBitmap.alloc()
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, fmt.Errorf("%w: data blocks exhausted", errInode)
	}

	abs := uint32(fs.super.dataAreaStart()) + pos

	err = fs.cache.Modify(uint64(abs), func(data *[blockdev.SectorSize]byte) {
		for i := range data {
			data[i] = 0
		}
	})
	if err != nil {
		return 0, err
	}

	return abs, nil
}

func (fs *FileSystem) deallocDataBlock(abs uint32) error {
	pos := abs - uint32(fs.super.dataAreaStart())
	return fs.dataBitmap.dealloc(pos)
}
