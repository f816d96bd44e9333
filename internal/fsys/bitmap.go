package fsys

import "github.com/ferrite-os/ferrite/internal/blockdev"

// bitsPerBlock is the number of allocation units a single bitmap block can
// track.
const bitsPerBlock = blockdev.SectorSize * 8

// bitmap manages a contiguous run of blocks, starting at startBlock, each
// block holding bitsPerBlock bits. It is used twice over: once for the
// inode bitmap, once for the data bitmap, matching the original easy-fs's
// generic Bitmap<T> split.
type bitmap struct {
	cache      *Cache
	startBlock uint64
	blocks     uint32
}

func newBitmap(cache *Cache, startBlock uint64, blocks uint32) *bitmap {
	return &bitmap{cache: cache, startBlock: startBlock, blocks: blocks}
}

// alloc finds the first clear bit, sets it, and returns its global bit
// position. It returns ok=false if every bit in the range is set.
func (b *bitmap) alloc() (pos uint32, ok bool, err error) {
	for blk := uint32(0); blk < b.blocks; blk++ {
		found := false

		err = b.cache.Modify(b.startBlock+uint64(blk), func(data *[blockdev.SectorSize]byte) {
			for byteIdx := 0; byteIdx < len(data); byteIdx++ {
				if data[byteIdx] == 0xff {
					continue
				}

				for bit := 0; bit < 8; bit++ {
					mask := byte(1 << uint(bit))
					if data[byteIdx]&mask != 0 {
						continue
					}

					data[byteIdx] |= mask
					pos = blk*bitsPerBlock + uint32(byteIdx)*8 + uint32(bit)
					found = true

					return
				}
			}
		})
		if err != nil {
			return 0, false, err
		}

		if found {
			return pos, true, nil
		}
	}

	return 0, false, nil
}

// dealloc clears the bit at the given global position.
func (b *bitmap) dealloc(pos uint32) error {
	blk := pos / bitsPerBlock
	bit := pos % bitsPerBlock
	byteIdx := bit / 8
	bitIdx := bit % 8

	return b.cache.Modify(b.startBlock+uint64(blk), func(data *[blockdev.SectorSize]byte) {
		data[byteIdx] &^= 1 << bitIdx
	})
}

// maximum returns the total number of allocation units this bitmap covers.
func (b *bitmap) maximum() uint32 {
	return b.blocks * bitsPerBlock
}
