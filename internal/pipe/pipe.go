// Package pipe implements the kernel's anonymous pipe: a fixed-size ring
// buffer shared between a read end and a write end, ported line-for-line
// from the original rCore-Tutorial's PipeRingBuffer (tg-easy-fs/src/
// pipe.rs), with the Rust Weak<FileHandle> back-reference replaced by
// Go's weak.Pointer.
package pipe

import (
	"errors"
	"sync"
	"weak"

	"github.com/ferrite-os/ferrite/internal/log"
)

// DefaultSize is the ring buffer capacity used when callers don't care,
// matching spec.md §4.9 and resolving the §9 Open Question about its size
// by making it a constructor parameter instead of a fixed constant.
const DefaultSize = 32

// Status mirrors the three ring-buffer states from the original
// implementation: a buffer that is neither full nor empty is merely
// "Normal", and read/write availability is derived from head/tail alone in
// that case.
type Status int

const (
	Empty Status = iota
	Normal
	Full
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case Full:
		return "full"
	default:
		return "normal"
	}
}

// ErrWouldBlock is returned by Read when no data is available but a writer
// is still open, or by Write when the buffer is full. Per spec.md §4.9 the
// syscall layer translates this into -2 and the scheduler yields.
var ErrWouldBlock = errors.New("pipe: would block")

// WriteEnd is the handle type a Ring holds a weak reference to, so that the
// pipe can detect when the last writer has gone away. Ring.NewWriteEnd
// creates it, and the task layer's pipe write-end file holds it.
type WriteEnd struct {
	ring *Ring
}

// Ring is a fixed-capacity circular byte buffer connecting a pipe's read and
// write ends.
type Ring struct {
	mu sync.Mutex

	buf    []byte
	head   int
	tail   int
	status Status

	writeEnd weak.Pointer[WriteEnd]

	log *log.Logger
}

// New creates a ring buffer of the given capacity. Use DefaultSize absent
// other requirements.
func New(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}

	return &Ring{
		buf:    make([]byte, size),
		status: Empty,
		log:    log.DefaultLogger(),
	}
}

// NewWriteEnd creates the write-end handle for this ring and records a weak
// reference to it. Once the returned value (and every copy of it) is
// garbage collected, or CloseWrite is called, subsequent reads observe
// EOF rather than would-block.
func (r *Ring) NewWriteEnd() *WriteEnd {
	r.mu.Lock()
	defer r.mu.Unlock()

	we := &WriteEnd{ring: r}
	r.writeEnd = weak.Make(we)

	return we
}

// CloseWrite explicitly severs the write end, independent of garbage
// collection -- this is what a process's fd-table teardown calls on exit
// (spec.md §5, "fd table first... wakes blocked readers").
func (r *Ring) CloseWrite() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writeEnd = weak.Pointer[WriteEnd]{}
}

// allWriteEndsClosed reports whether the write end has been explicitly
// closed or collected. Caller must hold r.mu.
func (r *Ring) allWriteEndsClosed() bool {
	return r.writeEnd.Value() == nil
}

// availableRead returns the number of unread bytes. Caller must hold r.mu.
func (r *Ring) availableRead() int {
	if r.status == Empty {
		return 0
	} else if r.tail > r.head {
		return r.tail - r.head
	}

	return r.tail + len(r.buf) - r.head
}

// availableWrite returns free capacity. Caller must hold r.mu.
func (r *Ring) availableWrite() int {
	if r.status == Full {
		return 0
	}

	return len(r.buf) - r.availableRead()
}

// Read copies up to len(p) bytes into p. It returns (n, nil) for any
// n > 0 it manages to read immediately; (0, nil) for EOF (no data and no
// writer remains); or (0, ErrWouldBlock) if no data is available but a
// writer might still produce some.
func (r *Ring) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	avail := r.availableRead()
	if avail == 0 {
		if r.allWriteEndsClosed() {
			return 0, nil
		}

		return 0, ErrWouldBlock
	}

	n := avail
	if n > len(p) {
		n = len(p)
	}

	for i := 0; i < n; i++ {
		p[i] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
	}

	if r.head == r.tail {
		r.status = Empty
	} else {
		r.status = Normal
	}

	r.log.Debug("pipe read", "n", n, "avail_read", r.availableRead())

	return n, nil
}

// Write copies up to len(p) bytes from p into the ring. It returns (n, nil)
// for any n > 0 it manages to write; (0, ErrWouldBlock) if the buffer is
// full.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	avail := r.availableWrite()
	if avail == 0 {
		return 0, ErrWouldBlock
	}

	n := avail
	if n > len(p) {
		n = len(p)
	}

	for i := 0; i < n; i++ {
		r.buf[r.tail] = p[i]
		r.tail = (r.tail + 1) % len(r.buf)
	}

	if r.head == r.tail {
		r.status = Full
	} else {
		r.status = Normal
	}

	r.log.Debug("pipe write", "n", n, "avail_write", r.availableWrite())

	return n, nil
}

// Cap returns the ring's total capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// AvailableRead returns the number of bytes immediately readable. Exposed
// for invariant checks (spec.md §8, invariant 3): AvailableRead() +
// AvailableWrite() == Cap() whenever the pipe isn't in a boundary state.
func (r *Ring) AvailableRead() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.availableRead()
}

// AvailableWrite returns the number of bytes immediately writable.
func (r *Ring) AvailableWrite() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.availableWrite()
}
