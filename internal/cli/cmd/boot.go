package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ferrite-os/ferrite/internal/blockdev"
	"github.com/ferrite-os/ferrite/internal/cli"
	"github.com/ferrite-os/ferrite/internal/console"
	"github.com/ferrite-os/ferrite/internal/firmware"
	"github.com/ferrite-os/ferrite/internal/fsys"
	"github.com/ferrite-os/ferrite/internal/image"
	"github.com/ferrite-os/ferrite/internal/log"
	"github.com/ferrite-os/ferrite/internal/mem/pmm"
	"github.com/ferrite-os/ferrite/internal/sched"
	"github.com/ferrite-os/ferrite/internal/syscall"
	"github.com/ferrite-os/ferrite/internal/task"
	"github.com/ferrite-os/ferrite/internal/trap"
)

// initProgram is the name boot looks up in the image manifest for the
// first task, matching the original's fixed initproc entry point.
const initProgram = "/bin/initproc"

// defaultSectors sizes an in-memory disk when --disk is not given.
const defaultSectors = 4096

// frameCount sizes the physical memory arena the kernel's allocator
// draws from when running under this harness rather than real hardware.
const frameCount = 4096

func Boot() cli.Command {
	return &booter{}
}

type booter struct {
	disk     string
	manifest string
	logLevel slog.Level
}

func (booter) Description() string {
	return "boot the kernel against a disk image and program manifest"
}

func (booter) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `boot [--disk=path] [--manifest=path]

Boots the kernel: brings up the simulated M-Mode firmware (UART, CLINT,
virt test finisher), mounts (or formats) the block-backed filesystem, and
spawns the manifest's init program as PID 1. Runs until the test finisher
fires a shutdown, the console disconnects, or the process is interrupted.`)

	return err
}

func (bt *booter) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	fs.StringVar(&bt.disk, "disk", "", "path to a file-backed disk image (default: an ephemeral in-memory disk)")
	fs.StringVar(&bt.manifest, "manifest", "", "path to an image manifest produced by `ferrite image pack` (default: no programs, firmware only)")
	fs.Func("loglevel", "set log `level`", func(s string) error {
		return bt.logLevel.UnmarshalText([]byte(s))
	})

	return fs
}

func (bt *booter) Run(ctx context.Context, _ []string, stdout io.Writer, logger *log.Logger) int {
	log.LogLevel.Set(bt.logLevel)

	dev, closeDev, err := bt.openDisk()
	if err != nil {
		logger.Error("disk", "err", err)
		return 1
	}
	defer closeDev()

	volume, err := bt.mountOrFormat(dev, logger)
	if err != nil {
		logger.Error("filesystem", "err", err)
		return 1
	}

	lookup, err := bt.loadManifest()
	if err != nil {
		logger.Error("manifest", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	const base pmm.Frame = 0x9_0000
	alloc := pmm.New(base, base+frameCount)
	mem := pmm.NewMemory(base, frameCount)

	trampoline, err := alloc.Alloc()
	if err != nil {
		logger.Error("trampoline frame", "err", err)
		return 1
	}

	tasks := task.NewTable(alloc, mem, trampoline)
	scheduler := sched.New()

	machine := firmware.NewMachine(func(b byte) {
		_, _ = fmt.Fprintf(stdout, "%c", b)
	}, func(code uint32) {
		logger.Info("virt test finisher fired", "code", code)
		cancel(fmt.Errorf("shutdown: code %#x", code))
	})

	termCtx, cons, restore, err := console.WithTerminal(ctx, machine.UART)

	switch {
	case err == nil:
		ctx = termCtx
		defer restore()

		logger.Debug("console attached", "writer", cons.Writer() != nil)
	case errors.Is(err, console.ErrNoTTY):
		logger.Debug("no controlling tty, UART output only")
	default:
		logger.Error("console", "err", err)
		return 1
	}

	kernel := syscall.New(tasks, scheduler, volume, lookup, machine.CLINT.Now)

	if lookup != nil {
		img, ok := lookup.Lookup(initProgram)
		if !ok {
			logger.Error("manifest missing init program", "program", initProgram)
			return 1
		}

		init, err := tasks.SpawnInit(img)
		if err != nil {
			logger.Error("spawn init", "err", err)
			return 1
		}

		stdio := firmware.NewConsoleFile(machine.UART)
		init.Files[0] = stdio
		init.Files[1] = stdio
		init.Files[2] = stdio

		kernel.SetCurrent(init)
		scheduler.Enqueue(init)

		logger.Info("spawned init", "pid", init.PID)
	} else {
		logger.Info("no manifest given, running firmware with no programs")
	}

	return bt.runLoop(ctx, machine, scheduler, kernel, logger)
}

// runLoop drives the stride scheduler against simulated CLINT timer
// interrupts, the same staged dispatch loop elsie's vm.LC3.Run uses for
// its fetch-decode-execute cycle, generalized here to trap causes instead
// of opcodes. There is no instruction-set interpreter in this harness: a
// task's only observable behavior is the syscalls it's driven through
// externally (by tests, or eventually a real CPU front-end); this loop's
// job is to demonstrate the scheduler and firmware staying alive and
// cooperating under preemption until shutdown.
func (bt *booter) runLoop(ctx context.Context, machine *firmware.Machine, scheduler *sched.Scheduler, kernel *syscall.Kernel, logger *log.Logger) int {
	const tick = 20 * time.Millisecond

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	machine.CLINT.SetTimer(1)

	for {
		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			if errors.Is(cause, context.Canceled) {
				logger.Info("boot loop stopped")
				return 0
			}

			logger.Info("boot loop shutdown", "cause", cause)

			return 0
		case <-ticker.C:
			if !machine.CLINT.Tick() {
				continue
			}

			machine.CLINT.SetTimer(machine.CLINT.Now() + 1)

			current, ok := scheduler.Next()
			if !ok {
				continue
			}

			kernel.SetCurrent(current)

			res := trap.Dispatch(current.TrapCx, uint64(trap.SupervisorTimerInterrupt)|1<<63, 0, kernel)

			switch res.Action {
			case trap.Yield:
				scheduler.Yield(current)
			case trap.Terminate:
				logger.Info("task terminated", "pid", current.PID, "code", res.ExitCode)
			case trap.Continue:
				scheduler.Yield(current)
			}
		}
	}
}

func (bt *booter) openDisk() (blockdev.Device, func(), error) {
	if bt.disk == "" {
		return blockdev.NewMemory(defaultSectors), func() {}, nil
	}

	f, err := blockdev.OpenFile(bt.disk, defaultSectors)
	if err != nil {
		return nil, nil, err
	}

	return f, func() { _ = f.Close() }, nil
}

func (bt *booter) mountOrFormat(dev blockdev.Device, logger *log.Logger) (*fsys.FileSystem, error) {
	volume, err := fsys.Open(dev)
	if err == nil {
		logger.Debug("mounted existing volume")
		return volume, nil
	}

	logger.Debug("formatting fresh volume", "err", err)

	const totalBlocks = defaultSectors
	const inodeBitmapBlocks = 1

	return fsys.Create(dev, totalBlocks, inodeBitmapBlocks)
}

// loadManifest reads a manifest produced by `ferrite image pack`: the
// manifest text at path, and its companion blob at path+".img".  Returns
// a nil lookup (not an error) when no --manifest flag was given.
func (bt *booter) loadManifest() (*image.Lookup, error) {
	if bt.manifest == "" {
		return nil, nil
	}

	text, err := os.ReadFile(bt.manifest)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(bt.manifest + ".img")
	if err != nil {
		return nil, err
	}

	var manifest image.Manifest
	if err := manifest.UnmarshalText(text); err != nil {
		return nil, err
	}

	return &image.Lookup{Manifest: &manifest, Blob: blob}, nil
}
