// Package sched implements the kernel's stride scheduler: every ready
// task carries a pass value (BigStride/priority) and the scheduler always
// runs whichever ready task has accumulated the least total stride so
// far, so higher-priority tasks (lower pass per tick) get picked more
// often without starving lower-priority ones. Grounded on
// original_source/user/src/bin/ch5_stride.rs (five children at
// priorities 2/4/8/16/32) and its TaskControlBlockInner stride/pass
// ordering, expressed over stdlib container/heap instead of Rust's
// BinaryHeap<Reverse<...>>.
package sched

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/ferrite-os/ferrite/internal/log"
	"github.com/ferrite-os/ferrite/internal/task"
)

// BigStride is the fixed numerator every task's pass is computed from:
// pass = BigStride / priority. Matches the original's BIG_STRIDE.
const BigStride = 100_000

// MinPriority is the lowest priority set_priority will accept; stride
// scheduling is undefined (pass could overflow toward zero) below it.
const MinPriority = 2

var (
	errSched = errors.New("sched")

	// ErrBadPriority is returned by SetPriority for any value below
	// MinPriority.
	ErrBadPriority = fmt.Errorf("%w: priority must be >= %d", errSched, MinPriority)
)

// strideHalf is used by Less's wrap-aware comparison: a difference larger
// than this is treated as having wrapped around the uint64 range, so the
// "smaller" value by raw subtraction is actually the one that wrapped
// past it -- ported from the original's STRIDE_MAX/2 heuristic.
const strideHalf = ^uint64(0) / 2

// Less reports whether a's accumulated stride should be considered
// "before" b's, tolerant of unsigned wraparound the way the original's
// PartialOrd impl for TaskControlBlockInner is.
func Less(a, b uint64) bool {
	diff := a - b
	return diff > strideHalf
}

// entry is one ready task sitting in the heap, ordered by Stride with
// ties broken by seq, the order Enqueue saw them in.
type entry struct {
	t   *task.Task
	seq uint64
}

type readyHeap []entry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].t.Stride == h[j].t.Stride {
		return h[i].seq < h[j].seq
	}

	return Less(h[i].t.Stride, h[j].t.Stride)
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)  { *h = append(*h, x.(entry)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// Scheduler holds the ready queue: every task that is Ready and eligible
// to run next, ordered by stride.
type Scheduler struct {
	mu    sync.Mutex
	ready readyHeap
	seq   uint64

	log *log.Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	s := &Scheduler{log: log.DefaultLogger()}
	heap.Init(&s.ready)

	return s
}

// Enqueue marks t Ready and adds it to the ready queue.
func (s *Scheduler) Enqueue(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Status = task.Ready

	if t.Pass == 0 {
		t.Pass = BigStride / uint64(max(t.Priority, MinPriority))
	}

	heap.Push(&s.ready, entry{t: t, seq: s.seq})
	s.seq++
}

// Next pops the ready task with the least accumulated stride, advances
// its stride by its pass, and marks it Running. It returns ok=false if
// the ready queue is empty.
func (s *Scheduler) Next() (t *task.Task, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Len() == 0 {
		return nil, false
	}

	e := heap.Pop(&s.ready).(entry)
	next := e.t

	next.Stride += next.Pass
	next.Status = task.Running

	return next, true
}

// Len reports how many tasks are currently ready.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ready.Len()
}

// SetPriority validates and applies a new priority to t, recomputing its
// pass so the next Enqueue/Next cycle uses it. Matches the original's
// sys_set_priority, which rejects priority < 2.
func SetPriority(t *task.Task, priority int) error {
	if priority < MinPriority {
		return ErrBadPriority
	}

	t.Priority = priority
	t.Pass = BigStride / uint64(priority)

	return nil
}

// Yield re-enqueues the currently running task as Ready, for the
// sched_yield syscall and for any trap handler (e.g. a timer interrupt)
// that preempts rather than terminates the current task.
func (s *Scheduler) Yield(t *task.Task) {
	s.Enqueue(t)
}
