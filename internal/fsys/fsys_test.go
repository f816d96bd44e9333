package fsys_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ferrite-os/ferrite/internal/blockdev"
	"github.com/ferrite-os/ferrite/internal/fsys"
)

func freshVolume(tt *testing.T) *fsys.FileSystem {
	tt.Helper()

	dev := blockdev.NewMemory(4096)

	fs, err := fsys.Create(dev, 4096, 1)
	if err != nil {
		tt.Fatalf("create: %s", err)
	}

	return fs
}

func TestCreateFindLs(tt *testing.T) {
	tt.Parallel()

	fs := freshVolume(tt)
	root := fs.Root()

	if _, err := root.Create("hello.txt"); err != nil {
		tt.Fatalf("create: %s", err)
	}

	if _, err := root.Create("world.txt"); err != nil {
		tt.Fatalf("create: %s", err)
	}

	names, err := root.Ls()
	if err != nil {
		tt.Fatalf("ls: %s", err)
	}

	if len(names) != 2 {
		tt.Fatalf("want 2 entries, got %d: %v", len(names), names)
	}

	if _, err := root.Find("hello.txt"); err != nil {
		tt.Fatalf("find hello.txt: %s", err)
	}

	if _, err := root.Find("missing"); !errors.Is(err, fsys.ErrNotFound) {
		tt.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestReadWriteRoundTrip(tt *testing.T) {
	tt.Parallel()

	fs := freshVolume(tt)
	root := fs.Root()

	f, err := root.Create("data.bin")
	if err != nil {
		tt.Fatalf("create: %s", err)
	}

	// Larger than one block and larger than the direct-pointer region, to
	// exercise the indirect block path.
	want := bytes.Repeat([]byte("0123456789abcdef"), 2000)

	n, err := f.WriteAt(0, want)
	if err != nil {
		tt.Fatalf("write: %s", err)
	}

	if n != len(want) {
		tt.Fatalf("short write: %d of %d", n, len(want))
	}

	got := make([]byte, len(want))

	n, err = f.ReadAt(0, got)
	if err != nil {
		tt.Fatalf("read: %s", err)
	}

	if n != len(want) {
		tt.Fatalf("short read: %d of %d", n, len(want))
	}

	if !bytes.Equal(got, want) {
		tt.Fatalf("round trip mismatch")
	}

	size, err := f.Size()
	if err != nil {
		tt.Fatalf("size: %s", err)
	}

	if size != len(want) {
		tt.Fatalf("want size %d, got %d", len(want), size)
	}
}

func TestLinkAndUnlink(tt *testing.T) {
	tt.Parallel()

	fs := freshVolume(tt)
	root := fs.Root()

	f, err := root.Create("a.txt")
	if err != nil {
		tt.Fatalf("create: %s", err)
	}

	if _, err := f.WriteAt(0, []byte("payload")); err != nil {
		tt.Fatalf("write: %s", err)
	}

	if err := root.Link("b.txt", f); err != nil {
		tt.Fatalf("link: %s", err)
	}

	names, err := root.Ls()
	if err != nil {
		tt.Fatalf("ls: %s", err)
	}

	if len(names) != 2 {
		tt.Fatalf("want 2 entries after link, got %d", len(names))
	}

	if err := root.Unlink("a.txt"); err != nil {
		tt.Fatalf("unlink a.txt: %s", err)
	}

	// b.txt still references the same inode: its data must survive.
	b, err := root.Find("b.txt")
	if err != nil {
		tt.Fatalf("find b.txt: %s", err)
	}

	buf := make([]byte, len("payload"))
	if _, err := b.ReadAt(0, buf); err != nil {
		tt.Fatalf("read b.txt after unlinking a.txt: %s", err)
	}

	if string(buf) != "payload" {
		tt.Fatalf("want surviving payload, got %q", buf)
	}

	if err := root.Unlink("b.txt"); err != nil {
		tt.Fatalf("unlink b.txt: %s", err)
	}

	names, err = root.Ls()
	if err != nil {
		tt.Fatalf("ls: %s", err)
	}

	if len(names) != 0 {
		tt.Fatalf("want empty directory, got %v", names)
	}
}

func TestReopenPersistsData(tt *testing.T) {
	tt.Parallel()

	dev := blockdev.NewMemory(4096)

	fs, err := fsys.Create(dev, 4096, 1)
	if err != nil {
		tt.Fatalf("create: %s", err)
	}

	f, err := fs.Root().Create("persist.txt")
	if err != nil {
		tt.Fatalf("create: %s", err)
	}

	if _, err := f.WriteAt(0, []byte("durable")); err != nil {
		tt.Fatalf("write: %s", err)
	}

	if err := fs.Sync(); err != nil {
		tt.Fatalf("sync: %s", err)
	}

	reopened, err := fsys.Open(dev)
	if err != nil {
		tt.Fatalf("open: %s", err)
	}

	found, err := reopened.Root().Find("persist.txt")
	if err != nil {
		tt.Fatalf("find after reopen: %s", err)
	}

	buf := make([]byte, len("durable"))
	if _, err := found.ReadAt(0, buf); err != nil {
		tt.Fatalf("read after reopen: %s", err)
	}

	if string(buf) != "durable" {
		tt.Fatalf("want durable payload, got %q", buf)
	}
}
