// Recurring task: an action, its opaque argument, a repeat interval and
// the next fire deadline.

package wd_internal

import (
	"errors"
	"time"
)

// The action invoked at every firing of the task. The return value
// drives rescheduling: 0 to keep the task on its interval, non-zero to
// drop it for good.
type TaskAction func(arg any) int

var (
	ErrNilTaskAction   = errors.New("task action is nil")
	ErrBadTaskInterval = errors.New("task interval is not positive")
	ErrTaskIDMint      = errors.New("cannot mint task id")
)

type Task struct {
	// Assigned at creation, never mutated:
	id TaskID
	// Action and its opaque argument:
	action TaskAction
	arg    any
	// Recurrence interval:
	interval time.Duration
	// Next fire deadline. Mutated only by Run, i.e. only while the task
	// is out of the scheduler's queue:
	deadline time.Time
}

func NewTask(action TaskAction, arg any, interval time.Duration) (*Task, error) {
	if action == nil {
		return nil, ErrNilTaskAction
	}
	if interval <= 0 {
		return nil, ErrBadTaskInterval
	}
	id := NewTaskID()
	if id.Equal(BadTaskID) {
		return nil, ErrTaskIDMint
	}
	return &Task{
		id:       id,
		action:   action,
		arg:      arg,
		interval: interval,
		deadline: time.Now().Add(interval),
	}, nil
}

// Run advances the deadline by one interval, then invokes the action
// with the stored argument and returns its result. The deadline moves
// by the nominal interval regardless of how late the invocation was:
// best effort periodic, no catch-up.
func (task *Task) Run() int {
	task.deadline = task.deadline.Add(task.interval)
	return task.action(task.arg)
}

func (task *Task) ID() TaskID {
	return task.id
}

func (task *Task) Deadline() time.Time {
	return task.deadline
}

func (task *Task) Interval() time.Duration {
	return task.interval
}
