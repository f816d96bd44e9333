package sched_test

import (
	"testing"

	"github.com/ferrite-os/ferrite/internal/sched"
	"github.com/ferrite-os/ferrite/internal/task"
)

func TestLessWrapsAroundUint64(tt *testing.T) {
	tt.Parallel()

	if !sched.Less(^uint64(0), 1) {
		tt.Errorf("want a stride just below the wrap point to be considered less than a small one that wrapped past it")
	}

	if sched.Less(1, ^uint64(0)) {
		tt.Errorf("want the wrapped value to not also be less than itself's predecessor")
	}

	if sched.Less(5, 5) {
		tt.Errorf("want equal strides to not be Less")
	}
}

func TestSetPriorityRejectsBelowMinimum(tt *testing.T) {
	tt.Parallel()

	to := &task.Task{}

	if err := sched.SetPriority(to, 1); err == nil {
		tt.Fatalf("want error for priority below minimum")
	}

	if err := sched.SetPriority(to, 4); err != nil {
		tt.Fatalf("set priority: %s", err)
	}

	if to.Pass != sched.BigStride/4 {
		tt.Errorf("want pass %d, got %d", sched.BigStride/4, to.Pass)
	}
}

// TestNextPicksLeastStrideAndAdvances mirrors ch5_stride.rs: five tasks at
// priorities 2/4/8/16/32 should all make forward progress, with the
// higher-priority ones (smaller pass) selected more often over many rounds;
// the test checks the two ends, priority 32 against priority 2.
func TestNextPicksLeastStrideAndAdvances(tt *testing.T) {
	tt.Parallel()

	s := sched.New()

	priorities := []int{2, 4, 8, 16, 32}
	tasks := make([]*task.Task, len(priorities))

	for i, p := range priorities {
		to := &task.Task{PID: i + 1}
		if err := sched.SetPriority(to, p); err != nil {
			tt.Fatalf("set priority: %s", err)
		}

		tasks[i] = to
		s.Enqueue(to)
	}

	counts := make(map[int]int)

	const rounds = 1000

	for i := 0; i < rounds; i++ {
		next, ok := s.Next()
		if !ok {
			tt.Fatalf("want a ready task at round %d", i)
		}

		counts[next.PID]++
		s.Yield(next)
	}

	if counts[5] <= counts[1] {
		tt.Errorf("want priority-32 task (PID 5) scheduled more than priority-2 task (PID 1): %v", counts)
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	if total != rounds {
		tt.Errorf("want %d total picks, got %d", rounds, total)
	}
}

// TestNextBreaksEqualStrideTiesByFIFOOrder covers spec.md §4.5's
// tiebreak rule: tasks enqueued with identical priority (and so
// identical stride throughout, since they all start at zero and advance
// by the same pass) come back out in the order they were enqueued.
func TestNextBreaksEqualStrideTiesByFIFOOrder(tt *testing.T) {
	tt.Parallel()

	s := sched.New()

	tasks := make([]*task.Task, 4)

	for i := range tasks {
		to := &task.Task{PID: i + 1}
		if err := sched.SetPriority(to, 10); err != nil {
			tt.Fatalf("set priority: %s", err)
		}

		tasks[i] = to
		s.Enqueue(to)
	}

	for i, want := range tasks {
		got, ok := s.Next()
		if !ok {
			tt.Fatalf("want a ready task at position %d", i)
		}

		if got.PID != want.PID {
			tt.Errorf("position %d: want PID %d, got %d", i, want.PID, got.PID)
		}
	}
}

func TestNextEmptyQueue(tt *testing.T) {
	tt.Parallel()

	s := sched.New()

	if _, ok := s.Next(); ok {
		tt.Errorf("want ok=false on an empty ready queue")
	}
}
