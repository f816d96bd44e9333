package fsys

import "encoding/binary"

// nameLimit is the longest filename a directory entry can hold, one byte
// short of its fixed name field to leave room for a NUL terminator.
const nameLimit = 27

// dirEntrySize is the fixed size of one directory entry: a name field plus
// a trailing inode number.
const dirEntrySize = nameLimit + 1 + 4

// dirEntry is one fixed-size (name, inode) pairing within the root
// directory's data blocks.
type dirEntry struct {
	name    string
	inodeID uint32
}

func (e *dirEntry) encode(buf []byte) {
	for i := range buf[:nameLimit+1] {
		buf[i] = 0
	}

	copy(buf[:nameLimit], e.name)
	binary.LittleEndian.PutUint32(buf[nameLimit+1:dirEntrySize], e.inodeID)
}

func decodeDirEntry(buf []byte) dirEntry {
	end := 0
	for end < nameLimit && buf[end] != 0 {
		end++
	}

	return dirEntry{
		name:    string(buf[:end]),
		inodeID: binary.LittleEndian.Uint32(buf[nameLimit+1 : dirEntrySize]),
	}
}
