// Min-heap priority queue of tasks.

package wd_internal

import (
	"container/heap"
	"errors"
)

// Compare orders a before b when it returns < 0. The queue keys on the
// current task deadline; a task's deadline must not change while the
// task sits in the queue (the scheduler guarantees this by popping
// before running and pushing after).
func CompareByDeadline(a, b *Task) int {
	switch {
	case a.Deadline().Before(b.Deadline()):
		return -1
	case b.Deadline().Before(a.Deadline()):
		return 1
	}
	return 0
}

var ErrNilTask = errors.New("nil task")

// The inner heap, in the shape container/heap expects:

type taskHeap struct {
	tasks   []*Task
	compare func(a, b *Task) int
}

// sort.Interface:
func (h *taskHeap) Len() int {
	return len(h.tasks)
}

func (h *taskHeap) Less(i, j int) bool {
	return h.compare(h.tasks[i], h.tasks[j]) < 0
}

func (h *taskHeap) Swap(i, j int) {
	h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i]
}

// heap.Interface:
func (h *taskHeap) Push(x any) {
	if task, ok := x.(*Task); ok {
		h.tasks = append(h.tasks, task)
	}
}

func (h *taskHeap) Pop() any {
	newLen := len(h.tasks) - 1
	task := h.tasks[newLen]
	h.tasks[newLen] = nil
	h.tasks = h.tasks[:newLen]
	return task
}

// TaskQueue orders tasks by the given compare function, smallest first.
// It is not safe for concurrent use; see the scheduler's goroutine
// discipline for who gets to touch it when.
type TaskQueue struct {
	heap *taskHeap
}

func NewTaskQueue(compare func(a, b *Task) int) *TaskQueue {
	if compare == nil {
		compare = CompareByDeadline
	}
	return &TaskQueue{
		heap: &taskHeap{
			tasks:   make([]*Task, 0),
			compare: compare,
		},
	}
}

func (q *TaskQueue) Enqueue(task *Task) error {
	if task == nil {
		return ErrNilTask
	}
	heap.Push(q.heap, task)
	return nil
}

// Peek returns the earliest task. Precondition: non-empty queue.
func (q *TaskQueue) Peek() *Task {
	return q.heap.tasks[0]
}

// Dequeue removes and returns the earliest task, nil on an empty queue.
func (q *TaskQueue) Dequeue() *Task {
	if q.IsEmpty() {
		return nil
	}
	return heap.Pop(q.heap).(*Task)
}

// Erase removes and returns the first task matched by the predicate,
// nil when nothing matches. Linear scan; the removal itself swaps with
// the last element and sifts to restore heap order.
func (q *TaskQueue) Erase(match func(task *Task) bool) *Task {
	for i, task := range q.heap.tasks {
		if match(task) {
			return heap.Remove(q.heap, i).(*Task)
		}
	}
	return nil
}

func (q *TaskQueue) Size() int {
	return q.heap.Len()
}

func (q *TaskQueue) IsEmpty() bool {
	return q.heap.Len() == 0
}

func (q *TaskQueue) Clear() {
	for i := range q.heap.tasks {
		q.heap.tasks[i] = nil
	}
	q.heap.tasks = q.heap.tasks[:0]
}
