// Tests for task_queue.go

package wd_internal

import (
	"testing"
	"time"
)

func testQueueNewTask(t *testing.T, deadlineOffsetSec int) *Task {
	task, err := NewTask(func(any) int { return 0 }, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	// Pin the ordering key to a known value; the task is not in any
	// queue yet, so this is legal:
	task.deadline = time.Unix(int64(1_000_000+deadlineOffsetSec), 0)
	return task
}

// The heap order property: every parent orders at or before its
// children.
func verifyHeapOrder(t *testing.T, q *TaskQueue, when string) {
	t.Helper()
	tasks, compare := q.heap.tasks, q.heap.compare
	for i := 1; i < len(tasks); i++ {
		parent := (i - 1) / 2
		if compare(tasks[parent], tasks[i]) > 0 {
			t.Fatalf(
				"%s: heap order violated at index %d: parent deadline %s > %s",
				when, i, tasks[parent].Deadline(), tasks[i].Deadline(),
			)
		}
	}
}

func TestTaskQueueOrdering(t *testing.T) {
	offsets := []int{100, 3, 77, 3, 1, 250, 42, 8, 199, 5}

	q := NewTaskQueue(CompareByDeadline)
	if !q.IsEmpty() {
		t.Fatal("new queue not empty")
	}
	for i, offset := range offsets {
		if err := q.Enqueue(testQueueNewTask(t, offset)); err != nil {
			t.Fatal(err)
		}
		verifyHeapOrder(t, q, "after enqueue")
		if q.Size() != i+1 {
			t.Fatalf("size: want %d, got %d", i+1, q.Size())
		}
	}

	// Dequeue yields non-decreasing deadlines (ties in either order):
	prev := q.Dequeue()
	verifyHeapOrder(t, q, "after dequeue")
	for !q.IsEmpty() {
		if peeked := q.Peek(); peeked != q.heap.tasks[0] {
			t.Fatal("peek did not return the heap top")
		}
		task := q.Dequeue()
		verifyHeapOrder(t, q, "after dequeue")
		if task.Deadline().Before(prev.Deadline()) {
			t.Fatalf("dequeue order: %s after %s", task.Deadline(), prev.Deadline())
		}
		prev = task
	}

	if q.Dequeue() != nil {
		t.Fatal("dequeue on empty queue: want nil")
	}
}

func TestTaskQueueEnqueueNil(t *testing.T) {
	q := NewTaskQueue(nil)
	if err := q.Enqueue(nil); err != ErrNilTask {
		t.Fatalf("err: want %v, got %v", ErrNilTask, err)
	}
}

func TestTaskQueueErase(t *testing.T) {
	q := NewTaskQueue(CompareByDeadline)
	tasks := make([]*Task, 7)
	for i, offset := range []int{60, 10, 50, 20, 40, 30, 70} {
		tasks[i] = testQueueNewTask(t, offset)
		if err := q.Enqueue(tasks[i]); err != nil {
			t.Fatal(err)
		}
	}

	// Erase an inner element:
	target := tasks[2]
	erased := q.Erase(func(task *Task) bool { return task.ID().Equal(target.ID()) })
	if erased != target {
		t.Fatalf("erase: want task %s, got %v", target.ID(), erased)
	}
	verifyHeapOrder(t, q, "after erase")
	if q.Size() != len(tasks)-1 {
		t.Fatalf("size after erase: want %d, got %d", len(tasks)-1, q.Size())
	}

	// The erased task is gone:
	erased = q.Erase(func(task *Task) bool { return task.ID().Equal(target.ID()) })
	if erased != nil {
		t.Fatalf("2nd erase of %s: want nil, got a task", target.ID())
	}

	// No match leaves the queue intact:
	if q.Erase(func(*Task) bool { return false }) != nil {
		t.Fatal("erase w/ never-matching predicate: want nil")
	}
	if q.Size() != len(tasks)-1 {
		t.Fatalf("size: want %d, got %d", len(tasks)-1, q.Size())
	}
}

func TestTaskQueueClear(t *testing.T) {
	q := NewTaskQueue(nil)
	for _, offset := range []int{3, 1, 2} {
		if err := q.Enqueue(testQueueNewTask(t, offset)); err != nil {
			t.Fatal(err)
		}
	}
	q.Clear()
	if !q.IsEmpty() || q.Size() != 0 {
		t.Fatalf("queue not empty after clear: size %d", q.Size())
	}
	// Usable after clear:
	if err := q.Enqueue(testQueueNewTask(t, 1)); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 1 {
		t.Fatalf("size: want 1, got %d", q.Size())
	}
}
