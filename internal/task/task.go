// Package task implements the kernel's process abstraction: the task
// control block, its fork/exec/spawn/exit/waitpid lifecycle, and the
// PID-keyed process table that resolves parent/child links without a
// language-level cyclic reference. It follows elsie's vm.LC3
// "assemble-from-smaller-parts" constructor style, generalized from one
// fixed machine to many concurrent address spaces.
package task

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ferrite-os/ferrite/internal/log"
	"github.com/ferrite-os/ferrite/internal/mem/pmm"
	"github.com/ferrite-os/ferrite/internal/trap"
	"github.com/ferrite-os/ferrite/internal/vmem"
)

var errFile = errors.New("task")

// Status is a task's scheduling state.
type Status int

const (
	Ready Status = iota
	Running
	Zombie
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// DefaultPriority is the priority assigned to a task that doesn't request
// one explicitly, matching the original's initial TCB priority.
const DefaultPriority = 16

// Task is one process's control block.
type Task struct {
	mu sync.Mutex

	PID       int
	ParentPID int // -1 for the root task.
	Children  []int

	Status   Status
	ExitCode int

	Priority int
	Pass     uint64
	Stride   uint64

	Space *vmem.AddressSpace
	TrapCx *trap.Context

	// Files is the descriptor table; a nil entry is a closed fd, matching
	// the original's FileHandle table where exit() leaves the slot empty
	// rather than shrinking the vector.
	Files []FileHandle

	log *log.Logger
}

// TrapContextFrame returns the physical frame backing this task's trap
// context page, found by translating TrapContextBase through the task's
// page table on each call.
func (t *Task) TrapContextFrame() (pmm.Frame, error) {
	frame, _, err := t.Space.Translate(vmem.TrapContextBase.VPNOf())
	return frame, err
}

func newStdioFiles() []FileHandle {
	return []FileHandle{nil, nil, nil}
}

// Table is the PID-keyed process table: the "arena of tasks by PID"
// strategy spec.md calls for instead of a language-level weak parent
// pointer (see SPEC_FULL.md §9/§3).
type Table struct {
	mu     sync.Mutex
	nextPID int
	tasks  map[int]*Task

	alloc           *pmm.Allocator
	mem             *pmm.Memory
	trampolineFrame pmm.Frame

	log *log.Logger
}

// NewTable creates an empty process table over the given physical memory
// arena. trampolineFrame is the fixed physical page every address space
// maps its trap trampoline code at.
func NewTable(alloc *pmm.Allocator, mem *pmm.Memory, trampolineFrame pmm.Frame) *Table {
	return &Table{
		nextPID:         1,
		tasks:           make(map[int]*Task),
		alloc:           alloc,
		mem:             mem,
		trampolineFrame: trampolineFrame,
		log:             log.DefaultLogger(),
	}
}

func (tb *Table) allocPID() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	pid := tb.nextPID
	tb.nextPID++

	return pid
}

// Get returns the task for pid, if it's still in the table.
func (tb *Table) Get(pid int) (*Task, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	t, ok := tb.tasks[pid]

	return t, ok
}

func (tb *Table) insert(t *Task) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tasks[t.PID] = t
}

// Remove deletes pid from the table, used once a zombie has been reaped.
func (tb *Table) Remove(pid int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	delete(tb.tasks, pid)
}

// SpawnInit creates the first task in the system (PID 1, no parent) from
// an ELF image, the root of every later fork/spawn tree.
func (tb *Table) SpawnInit(image []byte) (*Task, error) {
	space, entry, sp, err := vmem.FromELF(tb.alloc, tb.mem, tb.trampolineFrame, image)
	if err != nil {
		return nil, fmt.Errorf("%w: spawn init: %w", errFile, err)
	}

	t := &Task{
		PID:       tb.allocPID(),
		ParentPID: -1,
		Status:    Ready,
		Priority:  DefaultPriority,
		Space:     space,
		TrapCx:    trap.NewContext(uint64(entry), uint64(sp), 0, 0, 0),
		Files:     newStdioFiles(),
		log:       log.DefaultLogger(),
	}

	tb.insert(t)

	return t, nil
}

// Fork duplicates parent into a new child task with its own, fully
// separate copy of the address space (spec.md §9: eager copy, not
// copy-on-write) and a shared-reference copy of the open file table.
// The child's a0 return value is left at whatever Fork leaves it; the
// caller (the fork syscall handler) sets it to 0 before the child first
// resumes, and returns the child's PID in the parent's own a0.
func (tb *Table) Fork(parent *Task) (*Task, error) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	space, err := vmem.FromExisting(parent.Space, tb.trampolineFrame)
	if err != nil {
		return nil, err
	}

	childCx := *parent.TrapCx
	files := make([]FileHandle, len(parent.Files))
	copy(files, parent.Files)

	child := &Task{
		PID:       tb.allocPID(),
		ParentPID: parent.PID,
		Status:    Ready,
		Priority:  parent.Priority,
		Space:     space,
		TrapCx:    &childCx,
		Files:     files,
		log:       log.DefaultLogger(),
	}

	parent.Children = append(parent.Children, child.PID)
	tb.insert(child)

	return child, nil
}

// Exec replaces t's address space and trap context in place with a fresh
// ELF image, keeping its PID, parent/child links, and open file table
// intact -- matching the original's sys_exec, which has no close-on-exec
// semantics.
func (tb *Table) Exec(t *Task, image []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.Space.Destroy(); err != nil {
		return err
	}

	space, entry, sp, err := vmem.FromELF(tb.alloc, tb.mem, tb.trampolineFrame, image)
	if err != nil {
		return err
	}

	t.Space = space
	t.TrapCx = trap.NewContext(uint64(entry), uint64(sp), 0, 0, 0)

	return nil
}

// Spawn atomically creates a brand-new child of parent running image,
// the original's sys_spawn -- cheaper than Fork followed by Exec because
// it never clones the parent's address space just to discard it.
func (tb *Table) Spawn(parent *Task, image []byte) (*Task, error) {
	space, entry, sp, err := vmem.FromELF(tb.alloc, tb.mem, tb.trampolineFrame, image)
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	files := make([]FileHandle, len(parent.Files))
	copy(files, parent.Files)
	parent.mu.Unlock()

	child := &Task{
		PID:       tb.allocPID(),
		ParentPID: parent.PID,
		Status:    Ready,
		Priority:  DefaultPriority,
		Space:     space,
		TrapCx:    trap.NewContext(uint64(entry), uint64(sp), 0, 0, 0),
		Files:     files,
		log:       log.DefaultLogger(),
	}

	parent.mu.Lock()
	parent.Children = append(parent.Children, child.PID)
	parent.mu.Unlock()

	tb.insert(child)

	return child, nil
}

// Exit marks t a zombie, releases its address space's physical frames
// (the TCB itself survives until a waitpid reaps it), and reparents its
// children to init (PID 1), matching the original's exit_current_and_run_next.
func (tb *Table) Exit(t *Task, code int) error {
	t.mu.Lock()

	t.Status = Zombie
	t.ExitCode = code

	children := t.Children
	t.Children = nil

	err := t.Space.Destroy()

	t.mu.Unlock()

	if err != nil {
		return err
	}

	for _, cpid := range children {
		if c, ok := tb.Get(cpid); ok {
			c.mu.Lock()
			c.ParentPID = 1
			c.mu.Unlock()

			if initTask, ok := tb.Get(1); ok && initTask != t {
				initTask.mu.Lock()
				initTask.Children = append(initTask.Children, cpid)
				initTask.mu.Unlock()
			}
		}
	}

	return nil
}

// ErrNoSuchChild is returned by WaitPID when pid isn't (or is no longer)
// one of the caller's children.
var ErrNoSuchChild = fmt.Errorf("%w: no such child", errFile)

// WaitNonBlocking is the sentinel return value for a still-running target
// child, implementing spec.md §9's Open Question resolution: waitpid
// never blocks the caller; the user-mode library is expected to retry
// after a sched_yield.
const WaitNonBlocking = -2

// WaitPID implements the non-blocking waitpid contract: pid == -1 means
// "any child". It returns (WaitNonBlocking, 0, nil) if a matching child
// exists but hasn't exited yet, (0, 0, ErrNoSuchChild) if pid names no
// child of parent, or (reapedPID, exitCode, nil) once a zombie is found
// and removed from the table.
func (tb *Table) WaitPID(parent *Task, pid int) (int, int, error) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	found := false

	for i, cpid := range parent.Children {
		if pid != -1 && cpid != pid {
			continue
		}

		found = true

		child, ok := tb.Get(cpid)
		if !ok {
			continue
		}

		child.mu.Lock()
		if child.Status != Zombie {
			child.mu.Unlock()
			continue
		}

		exitCode := child.ExitCode
		child.mu.Unlock()

		parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
		tb.Remove(cpid)

		return cpid, exitCode, nil
	}

	if !found {
		return 0, 0, ErrNoSuchChild
	}

	return WaitNonBlocking, 0, nil
}
