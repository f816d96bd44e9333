package task

import (
	"fmt"

	"github.com/ferrite-os/ferrite/internal/fsys"
	"github.com/ferrite-os/ferrite/internal/pipe"
)

// FileHandle is the common capability every open file descriptor offers,
// whether it's backed by an inode or a pipe end -- elsie's "no
// inheritance needed, common capability interface" design note, applied
// to file objects instead of memory-mapped devices. Grounded directly on
// the original's FileHandle (tg-easy-fs/src/file.rs), whose read/write
// return the same (count, would-block, EOF) shape regardless of kind.
type FileHandle interface {
	Readable() bool
	Writable() bool
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// ErrWouldBlock mirrors pipe.ErrWouldBlock at the fd-table layer so
// callers never need to import internal/pipe just to check for it.
var ErrWouldBlock = pipe.ErrWouldBlock

// InodeFile is a FileHandle backed by an fsys.Inode, tracking its own
// read/write cursor the way the original's FileHandle.offset Cell does.
type InodeFile struct {
	inode    *fsys.Inode
	readable bool
	writable bool
	offset   int
}

// NewInodeFile wraps inode as an open file descriptor with the given
// access mode.
func NewInodeFile(inode *fsys.Inode, readable, writable bool) *InodeFile {
	return &InodeFile{inode: inode, readable: readable, writable: writable}
}

func (f *InodeFile) Readable() bool { return f.readable }
func (f *InodeFile) Writable() bool { return f.writable }

// Read copies from the current offset, which it advances by the amount
// read; a read at or past end-of-file returns (0, nil), matching the
// original's "inode read returns 0 once exhausted" contract.
func (f *InodeFile) Read(buf []byte) (int, error) {
	if !f.readable {
		return 0, fmt.Errorf("%w: not opened for reading", errFile)
	}

	n, err := f.inode.ReadAt(f.offset, buf)
	if err != nil {
		return 0, err
	}

	f.offset += n

	return n, nil
}

func (f *InodeFile) Write(buf []byte) (int, error) {
	if !f.writable {
		return 0, fmt.Errorf("%w: not opened for writing", errFile)
	}

	n, err := f.inode.WriteAt(f.offset, buf)
	if err != nil {
		return 0, err
	}

	f.offset += n

	return n, nil
}

// PipeReadFile and PipeWriteFile adapt a pipe.Ring's two ends to
// FileHandle, translating pipe.ErrWouldBlock identically on both.
type PipeReadFile struct{ ring *pipe.Ring }
type PipeWriteFile struct {
	ring *pipe.Ring
	end  *pipe.WriteEnd
}

func NewPipe(size int) (*PipeReadFile, *PipeWriteFile) {
	r := pipe.New(size)
	we := r.NewWriteEnd()

	return &PipeReadFile{ring: r}, &PipeWriteFile{ring: r, end: we}
}

func (p *PipeReadFile) Readable() bool             { return true }
func (p *PipeReadFile) Writable() bool              { return false }
func (p *PipeReadFile) Read(buf []byte) (int, error) { return p.ring.Read(buf) }
func (p *PipeReadFile) Write(buf []byte) (int, error) {
	return 0, fmt.Errorf("%w: pipe read end is not writable", errFile)
}

func (p *PipeWriteFile) Readable() bool { return false }
func (p *PipeWriteFile) Writable() bool { return true }
func (p *PipeWriteFile) Read(buf []byte) (int, error) {
	return 0, fmt.Errorf("%w: pipe write end is not readable", errFile)
}
func (p *PipeWriteFile) Write(buf []byte) (int, error) { return p.ring.Write(buf) }

// Close severs this end from the ring; for the write end this is what
// lets a blocked reader observe EOF once every writer has closed.
func (p *PipeWriteFile) Close() { p.ring.CloseWrite() }
