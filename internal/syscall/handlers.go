package syscall

import (
	"encoding/binary"
	"errors"

	"github.com/ferrite-os/ferrite/internal/fsys"
	"github.com/ferrite-os/ferrite/internal/sched"
	"github.com/ferrite-os/ferrite/internal/task"
	"github.com/ferrite-os/ferrite/internal/trap"
	"github.com/ferrite-os/ferrite/internal/vmem"
)

// fdLookup returns t's open FileHandle at fd, or (nil, false) for any
// out-of-range or closed slot.
func fdLookup(t *task.Task, fd int) (task.FileHandle, bool) {
	if fd < 0 || fd >= len(t.Files) || t.Files[fd] == nil {
		return nil, false
	}

	return t.Files[fd], true
}

// installFD places f in the lowest closed slot of t.Files, growing the
// table if every slot is in use, matching the original's "reuse a closed
// fd, else push" descriptor allocation.
func installFD(t *task.Task, f task.FileHandle) int {
	for i, existing := range t.Files {
		if existing == nil {
			t.Files[i] = f
			return i
		}
	}

	t.Files = append(t.Files, f)

	return len(t.Files) - 1
}

const (
	readWriteBufCap = 1024
	translateFault  = -14 // EFAULT-ish sentinel for a bad user pointer.
)

func (k *Kernel) sysWrite(t *task.Task, ctx *trap.Context) int64 {
	fd := int(ctx.Arg(0))
	uaddr := vmem.VirtAddr(ctx.Arg(1))
	length := int(ctx.Arg(2))

	f, ok := fdLookup(t, fd)
	if !ok || !f.Writable() {
		return -1
	}

	buf := make([]byte, min(length, readWriteBufCap))
	if err := t.Space.CopyIn(buf, uaddr); err != nil {
		return translateFault
	}

	n, err := f.Write(buf)
	if errors.Is(err, task.ErrWouldBlock) {
		return -2
	}

	if err != nil {
		return -1
	}

	return int64(n)
}

func (k *Kernel) sysRead(t *task.Task, ctx *trap.Context) int64 {
	fd := int(ctx.Arg(0))
	uaddr := vmem.VirtAddr(ctx.Arg(1))
	length := int(ctx.Arg(2))

	f, ok := fdLookup(t, fd)
	if !ok || !f.Readable() {
		return -1
	}

	buf := make([]byte, min(length, readWriteBufCap))

	n, err := f.Read(buf)
	if errors.Is(err, task.ErrWouldBlock) {
		return -2
	}

	if err != nil {
		return -1
	}

	if n > 0 {
		if err := t.Space.CopyOut(uaddr, buf[:n]); err != nil {
			return translateFault
		}
	}

	return int64(n)
}

func (k *Kernel) sysExit(t *task.Task, ctx *trap.Context) trap.Result {
	code := int(int64(ctx.Arg(0)))

	if err := k.Tasks.Exit(t, code); err != nil {
		k.log.Error("exit", "pid", t.PID, "err", err)
	}

	return trap.Result{Action: trap.Terminate, ExitCode: code}
}

func (k *Kernel) sysYield(t *task.Task) trap.Result {
	k.Sched.Yield(t)
	return trap.Result{Action: trap.Yield}
}

func (k *Kernel) sysSetPriority(t *task.Task, ctx *trap.Context) int64 {
	priority := int(ctx.Arg(0))

	if err := sched.SetPriority(t, priority); err != nil {
		return -1
	}

	return int64(priority)
}

func (k *Kernel) sysFork(t *task.Task) int64 {
	child, err := k.Tasks.Fork(t)
	if err != nil {
		k.log.Error("fork", "pid", t.PID, "err", err)
		return -1
	}

	// The child resumes as if fork() returned 0 to it; the parent's own
	// return value (the child PID) is set by the caller via ctx.SetReturn.
	child.TrapCx.SetReturn(0)
	k.Sched.Enqueue(child)

	return int64(child.PID)
}

func (k *Kernel) readImagePath(t *task.Task, ctx *trap.Context, argIdx int) (string, []byte, bool) {
	path, err := t.Space.CopyInString(vmem.VirtAddr(ctx.Arg(argIdx)))
	if err != nil {
		return "", nil, false
	}

	image, ok := k.Images.Lookup(path)

	return path, image, ok
}

func (k *Kernel) sysExec(t *task.Task, ctx *trap.Context) int64 {
	_, image, ok := k.readImagePath(t, ctx, 0)
	if !ok {
		return -1
	}

	if err := k.Tasks.Exec(t, image); err != nil {
		k.log.Error("exec", "pid", t.PID, "err", err)
		return -1
	}

	return 0
}

func (k *Kernel) sysSpawn(t *task.Task, ctx *trap.Context) int64 {
	_, image, ok := k.readImagePath(t, ctx, 0)
	if !ok {
		return -1
	}

	child, err := k.Tasks.Spawn(t, image)
	if err != nil {
		k.log.Error("spawn", "pid", t.PID, "err", err)
		return -1
	}

	k.Sched.Enqueue(child)

	return int64(child.PID)
}

func (k *Kernel) sysWaitPID(t *task.Task, ctx *trap.Context) int64 {
	pid := int(int64(ctx.Arg(0)))
	statusAddr := vmem.VirtAddr(ctx.Arg(1))

	reaped, code, err := k.Tasks.WaitPID(t, pid)
	if errors.Is(err, task.ErrNoSuchChild) {
		return -1
	}

	if err != nil {
		return -1
	}

	if reaped == task.WaitNonBlocking {
		return task.WaitNonBlocking
	}

	if statusAddr != 0 {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], uint32(code))

		if err := t.Space.CopyOut(statusAddr, word[:]); err != nil {
			return translateFault
		}
	}

	return int64(reaped)
}

func (k *Kernel) sysPipe(t *task.Task, ctx *trap.Context) int64 {
	fdAddr := vmem.VirtAddr(ctx.Arg(0))

	r, w := task.NewPipe(pipeSize)
	readFD := installFD(t, r)
	writeFD := installFD(t, w)

	var fds [8]byte
	binary.LittleEndian.PutUint32(fds[0:4], uint32(readFD))
	binary.LittleEndian.PutUint32(fds[4:8], uint32(writeFD))

	if err := t.Space.CopyOut(fdAddr, fds[:]); err != nil {
		return translateFault
	}

	return 0
}

// pipeSize is the default pipe ring-buffer capacity, matching spec.md
// §4.9's 32-byte default (the Open Question it resolves by parametrizing
// the constructor instead).
const pipeSize = 32

func (k *Kernel) sysClose(t *task.Task, ctx *trap.Context) int64 {
	fd := int(ctx.Arg(0))

	if _, ok := fdLookup(t, fd); !ok {
		return -1
	}

	if w, ok := t.Files[fd].(*task.PipeWriteFile); ok {
		w.Close()
	}

	t.Files[fd] = nil

	return 0
}

func (k *Kernel) sysOpen(t *task.Task, ctx *trap.Context) int64 {
	path, err := t.Space.CopyInString(vmem.VirtAddr(ctx.Arg(0)))
	if err != nil {
		return translateFault
	}

	flags := ctx.Arg(1)
	const (
		openRead  = 0
		openWrite = 1 << 0
		openRDWR  = 1 << 1
		openCreat = 1 << 9
		openTrunc = 1 << 10
	)

	readable := flags&openWrite == 0 || flags&openRDWR != 0 || flags&openCreat != 0
	writable := flags&openWrite != 0 || flags&openRDWR != 0 || flags&openCreat != 0

	root := k.FS.Root()

	inode, ferr := root.Find(path)
	if ferr != nil {
		if !errors.Is(ferr, fsys.ErrNotFound) || flags&openCreat == 0 {
			return -1
		}

		inode, ferr = root.Create(path)
		if ferr != nil {
			return -1
		}
	} else if flags&openCreat != 0 || flags&openTrunc != 0 {
		if err := inode.Truncate(0); err != nil {
			return -1
		}
	}

	fd := installFD(t, task.NewInodeFile(inode, readable, writable))

	return int64(fd)
}

func (k *Kernel) sysLink(t *task.Task, ctx *trap.Context) int64 {
	oldPath, err := t.Space.CopyInString(vmem.VirtAddr(ctx.Arg(0)))
	if err != nil {
		return translateFault
	}

	newPath, err := t.Space.CopyInString(vmem.VirtAddr(ctx.Arg(1)))
	if err != nil {
		return translateFault
	}

	root := k.FS.Root()

	target, ferr := root.Find(oldPath)
	if ferr != nil {
		return -1
	}

	if err := root.Link(newPath, target); err != nil {
		return -1
	}

	return 0
}

func (k *Kernel) sysUnlink(t *task.Task, ctx *trap.Context) int64 {
	path, err := t.Space.CopyInString(vmem.VirtAddr(ctx.Arg(0)))
	if err != nil {
		return translateFault
	}

	if err := k.FS.Root().Unlink(path); err != nil {
		return -1
	}

	return 0
}

func (k *Kernel) sysDup(t *task.Task, ctx *trap.Context) int64 {
	fd := int(ctx.Arg(0))

	f, ok := fdLookup(t, fd)
	if !ok {
		return -1
	}

	return int64(installFD(t, f))
}

func (k *Kernel) sysMmap(t *task.Task, ctx *trap.Context) int64 {
	start := vmem.VirtAddr(ctx.Arg(0))
	length := int(ctx.Arg(1))
	prot := vmem.Prot(ctx.Arg(2))

	if err := t.Space.Mmap(start, length, prot); err != nil {
		return -1
	}

	return 0
}

func (k *Kernel) sysMunmap(t *task.Task, ctx *trap.Context) int64 {
	start := vmem.VirtAddr(ctx.Arg(0))
	length := int(ctx.Arg(1))

	if err := t.Space.Munmap(start, length); err != nil {
		return -1
	}

	return 0
}

// clockFreqHz is the simulated CLINT tick rate clock_gettime assumes when
// converting ticks to a {sec, nsec} pair, matching the virt platform's
// conventional 10 MHz mtime frequency.
const clockFreqHz = 10_000_000

// sysClockGetTime reports the machine's elapsed ticks as a {sec, nsec}
// pair, since the simulator has no real hardware clock; callers only ever
// use it to measure elapsed time (spec.md S5). The clock id in a0 is
// ignored -- there is only one clock source, the CLINT tick counter.
func (k *Kernel) sysClockGetTime(t *task.Task, ctx *trap.Context) int64 {
	uaddr := vmem.VirtAddr(ctx.Arg(1))

	var ticks uint64
	if k.Clock != nil {
		ticks = k.Clock()
	}

	sec := ticks / clockFreqHz
	nsec := (ticks % clockFreqHz) * (1_000_000_000 / clockFreqHz)

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], sec)
	binary.LittleEndian.PutUint64(buf[8:16], nsec)

	if err := t.Space.CopyOut(uaddr, buf[:]); err != nil {
		return translateFault
	}

	return 0
}

func (k *Kernel) sysTrace(t *task.Task, ctx *trap.Context) int64 {
	k.log.Info("trace", "pid", t.PID, "a0", ctx.Arg(0), "a1", ctx.Arg(1))
	return 0
}
