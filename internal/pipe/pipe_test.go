package pipe_test

import (
	"errors"
	"testing"

	"github.com/ferrite-os/ferrite/internal/pipe"
)

func TestRoundTrip(tt *testing.T) {
	tt.Parallel()

	r := pipe.New(pipe.DefaultSize)
	r.NewWriteEnd()

	msg := make([]byte, 256)
	for i := range msg {
		msg[i] = byte(i)
	}

	var got []byte

	for off := 0; off < len(msg); {
		n, err := r.Write(msg[off:min(off+37, len(msg))])
		if errors.Is(err, pipe.ErrWouldBlock) {
			buf := make([]byte, 64)
			rn, _ := r.Read(buf)
			got = append(got, buf[:rn]...)

			continue
		} else if err != nil {
			tt.Fatalf("write: %s", err)
		}

		off += n
	}

	r.CloseWrite()

	for {
		buf := make([]byte, 64)

		n, err := r.Read(buf)
		if err != nil {
			tt.Fatalf("read: %s", err)
		}

		if n == 0 {
			break
		}

		got = append(got, buf[:n]...)
	}

	if len(got) != len(msg) {
		tt.Fatalf("length mismatch: want %d, got %d", len(msg), len(got))
	}

	for i := range msg {
		if got[i] != msg[i] {
			tt.Fatalf("byte %d mismatch: want %#x, got %#x", i, msg[i], got[i])
		}
	}
}

func TestWouldBlockThenEOF(tt *testing.T) {
	tt.Parallel()

	r := pipe.New(4)
	we := r.NewWriteEnd()

	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, pipe.ErrWouldBlock) {
		tt.Fatalf("want ErrWouldBlock on empty buffer with open writer, got %v", err)
	}

	_ = we
	r.CloseWrite()

	n, err := r.Read(make([]byte, 1))
	if err != nil {
		tt.Fatalf("read after close: %s", err)
	}

	if n != 0 {
		tt.Fatalf("want EOF (n=0), got n=%d", n)
	}
}

func TestFullWrite(tt *testing.T) {
	tt.Parallel()

	r := pipe.New(4)
	r.NewWriteEnd()

	n, err := r.Write([]byte{1, 2, 3, 4, 5})
	if err != nil {
		tt.Fatalf("write: %s", err)
	}

	if n != 4 {
		tt.Fatalf("want partial write of 4, got %d", n)
	}

	if _, err := r.Write([]byte{9}); !errors.Is(err, pipe.ErrWouldBlock) {
		tt.Fatalf("want ErrWouldBlock on full buffer, got %v", err)
	}
}

func TestAvailableInvariant(tt *testing.T) {
	tt.Parallel()

	r := pipe.New(32)
	r.NewWriteEnd()

	_, _ = r.Write([]byte("hello"))

	buf := make([]byte, 2)
	n, _ := r.Read(buf)

	if n != 2 {
		tt.Fatalf("want 2 bytes read, got %d", n)
	}

	// available_read + available_write should always equal capacity.
	if got := r.AvailableRead() + r.AvailableWrite(); got != r.Cap() {
		tt.Fatalf("available invariant broken: got %d, want %d", got, r.Cap())
	}
}
