package fsys

import (
	"fmt"

	"github.com/ferrite-os/ferrite/internal/blockdev"
)

// Inode is a handle to one easy-fs inode: either the filesystem's single
// directory (see Root) or a plain file reachable from it.
type Inode struct {
	fs *FileSystem
	id uint32
}

// ID returns the inode number, used by the task package's fd table to key
// open files without holding a live *Inode across a fork.
func (n *Inode) ID() uint32 { return n.id }

// IsDir reports whether this inode is the root directory.
func (n *Inode) IsDir() bool {
	d, err := n.fs.readDiskInode(n.id)
	if err != nil {
		return false
	}

	return d.isDir()
}

// Size returns the file's current byte length.
func (n *Inode) Size() (int, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	d, err := n.fs.readDiskInode(n.id)
	if err != nil {
		return 0, err
	}

	return int(d.size), nil
}

// ReadAt reads into buf starting at the given byte offset, returning the
// number of bytes copied (fewer than len(buf) at end-of-file, matching
// io.ReaderAt's contract loosely -- callers treat 0 as EOF rather than
// requiring io.EOF, consistent with spec.md §4.8's syscall-facing
// semantics).
func (n *Inode) ReadAt(offset int, buf []byte) (int, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	d, err := n.fs.readDiskInode(n.id)
	if err != nil {
		return 0, err
	}

	if offset >= int(d.size) {
		return 0, nil
	}

	end := offset + len(buf)
	if end > int(d.size) {
		end = int(d.size)
	}

	total := 0

	for total < end-offset {
		curOff := offset + total
		blockIdx := curOff / blockdev.SectorSize
		inBlock := curOff % blockdev.SectorSize

		want := blockdev.SectorSize - inBlock
		if remain := end - curOff; want > remain {
			want = remain
		}

		abs, err := n.fs.blockAt(d, uint32(blockIdx))
		if err != nil {
			return total, err
		}

		var page [blockdev.SectorSize]byte
		if err := n.fs.cache.Read(uint64(abs), page[:]); err != nil {
			return total, err
		}

		copy(buf[total:total+want], page[inBlock:inBlock+want])

		total += want
	}

	return total, nil
}

// WriteAt writes buf at the given byte offset, growing the file (and
// allocating data blocks, and the indirect block if needed) as required.
func (n *Inode) WriteAt(offset int, buf []byte) (int, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	d, err := n.fs.readDiskInode(n.id)
	if err != nil {
		return 0, err
	}

	end := offset + len(buf)
	if end > int(d.size) {
		if err := n.growTo(d, uint32(end)); err != nil {
			return 0, err
		}
	}

	total := 0

	for total < len(buf) {
		curOff := offset + total
		blockIdx := curOff / blockdev.SectorSize
		inBlock := curOff % blockdev.SectorSize

		want := blockdev.SectorSize - inBlock
		if remain := len(buf) - total; want > remain {
			want = remain
		}

		abs, err := n.fs.blockAt(d, uint32(blockIdx))
		if err != nil {
			return total, err
		}

		werr := n.fs.cache.Modify(uint64(abs), func(page *[blockdev.SectorSize]byte) {
			copy(page[inBlock:inBlock+want], buf[total:total+want])
		})
		if werr != nil {
			return total, werr
		}

		total += want
	}

	return total, nil
}

// growTo extends d (already read) to newSize bytes, allocating data blocks
// (and the indirect block, once needed) and persisting the updated inode.
func (n *Inode) growTo(d *diskInode, newSize uint32) error {
	if newSize > MaxFileSize {
		return fmt.Errorf("%w: %d exceeds max file size %d", errInode, newSize, MaxFileSize)
	}

	oldBlocks := d.dataBlocks()
	d.size = newSize
	newBlocks := d.dataBlocks()

	if newBlocks > directBound && d.indirect == 0 {
		abs, err := n.fs.allocDataBlock()
		if err != nil {
			return err
		}

		d.indirect = abs
	}

	for i := oldBlocks; i < newBlocks; i++ {
		abs, err := n.fs.allocDataBlock()
		if err != nil {
			return err
		}

		if i < directBound {
			d.direct[i] = abs
			continue
		}

		entryIdx := i - directBound
		if err := n.fs.cache.Modify(uint64(d.indirect), func(page *[blockdev.SectorSize]byte) {
			putUint32(page, int(entryIdx)*4, abs)
		}); err != nil {
			return err
		}
	}

	return n.fs.writeDiskInode(n.id, d)
}

// Clear truncates the file to zero length, releasing every data block (and
// the indirect block, if one was allocated) back to the data bitmap.
func (n *Inode) Clear() error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	d, err := n.fs.readDiskInode(n.id)
	if err != nil {
		return err
	}

	blocks := d.dataBlocks()

	for i := uint32(0); i < blocks && i < directBound; i++ {
		if d.direct[i] == 0 {
			continue
		}

		if err := n.fs.deallocDataBlock(d.direct[i]); err != nil {
			return err
		}

		d.direct[i] = 0
	}

	if d.indirect != 0 {
		for i := directBound; i < int(blocks); i++ {
			entryIdx := i - directBound

			var page [blockdev.SectorSize]byte
			if err := n.fs.cache.Read(uint64(d.indirect), page[:]); err != nil {
				return err
			}

			abs := getUint32(page[:], entryIdx*4)
			if abs != 0 {
				if err := n.fs.deallocDataBlock(abs); err != nil {
					return err
				}
			}
		}

		if err := n.fs.deallocDataBlock(d.indirect); err != nil {
			return err
		}

		d.indirect = 0
	}

	d.size = 0

	return n.fs.writeDiskInode(n.id, d)
}

// Truncate resizes the file to exactly newSize bytes, freeing any data
// blocks (and the indirect block, if it becomes unnecessary) beyond the
// new length. It's used by directory entry removal to shrink the root's
// data without discarding the rest of its entries, unlike Clear.
func (n *Inode) Truncate(newSize int) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()

	d, err := n.fs.readDiskInode(n.id)
	if err != nil {
		return err
	}

	if uint32(newSize) >= d.size {
		if uint32(newSize) == d.size {
			return nil
		}

		return n.growTo(d, uint32(newSize))
	}

	oldBlocks := d.dataBlocks()
	d.size = uint32(newSize)
	newBlocks := d.dataBlocks()

	for i := newBlocks; i < oldBlocks && i < directBound; i++ {
		if d.direct[i] != 0 {
			if err := n.fs.deallocDataBlock(d.direct[i]); err != nil {
				return err
			}

			d.direct[i] = 0
		}
	}

	if d.indirect != 0 {
		for i := max(newBlocks, directBound); i < oldBlocks; i++ {
			entryIdx := i - directBound

			var page [blockdev.SectorSize]byte
			if err := n.fs.cache.Read(uint64(d.indirect), page[:]); err != nil {
				return err
			}

			abs := getUint32(page[:], int(entryIdx)*4)
			if abs != 0 {
				if err := n.fs.deallocDataBlock(abs); err != nil {
					return err
				}
			}
		}

		if newBlocks <= directBound {
			if err := n.fs.deallocDataBlock(d.indirect); err != nil {
				return err
			}

			d.indirect = 0
		}
	}

	return n.fs.writeDiskInode(n.id, d)
}

func putUint32(page *[blockdev.SectorSize]byte, off int, v uint32) {
	page[off] = byte(v)
	page[off+1] = byte(v >> 8)
	page[off+2] = byte(v >> 16)
	page[off+3] = byte(v >> 24)
}

func getUint32(page []byte, off int) uint32 {
	return uint32(page[off]) | uint32(page[off+1])<<8 | uint32(page[off+2])<<16 | uint32(page[off+3])<<24
}
