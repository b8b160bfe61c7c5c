// Timer driven event loop over a min-heap of recurring tasks.

//  Principles Of Operation
//  =======================
//
// The order of execution is set by the task queue, a min heap keyed by
// the task's next fire deadline (i.e. the nearest one is at the top).
//
// The event loop peeks the earliest task, sleeps until its deadline,
// pops it, runs it and then either pushes it back with an advanced
// deadline (action returned 0) or drops it (non-zero). A task is never
// in the queue while it executes, which is what makes reentrant
// operations from inside an action (Clear, Add, self removal via the
// return value) safe.
//
// The loop runs on the goroutine that called Run. Only Stop and
// Destroy may be called from any goroutine: they store a control
// signal atomically and poke the loop to cut the inter-task sleep
// short; the signal is acted upon between task invocations, never
// mid-task. Every other operation (Add, Remove, Clear, Size) touches
// the queue without locking and belongs to the loop goroutine: call
// them before Run, after it returned, or from inside a task action —
// never concurrently with a running loop from another goroutine.

package wd_internal

import (
	"sync/atomic"
	"time"
)

// Scheduler status, as returned by Run:
type SchedulerStatus int32

const (
	SchedulerIdle SchedulerStatus = iota
	SchedulerRunning
	SchedulerStopped
	SchedulerError
	SchedulerDestroyed
	SchedulerSuccess
)

var schedulerStatusMap = map[SchedulerStatus]string{
	SchedulerIdle:      "Idle",
	SchedulerRunning:   "Running",
	SchedulerStopped:   "Stopped",
	SchedulerError:     "Error",
	SchedulerDestroyed: "Destroyed",
	SchedulerSuccess:   "Success",
}

func (status SchedulerStatus) String() string {
	return schedulerStatusMap[status]
}

// Control signal raised by Stop/Destroy, consumed by the event loop:
type schedulerSignal int32

const (
	signalContinue schedulerSignal = iota
	signalStop
	signalError
	signalDestroy
)

var schedulerLog = NewCompLogger("scheduler")

type HeapScheduler struct {
	queue *TaskQueue
	// Reflects the outcome of the most recent run:
	status atomic.Int32
	// Externally raised control signal:
	signal atomic.Int32
	// Poked by Stop/Destroy to cut the inter-task sleep short:
	kick chan struct{}
}

func NewHeapScheduler() *HeapScheduler {
	return &HeapScheduler{
		queue: NewTaskQueue(CompareByDeadline),
		kick:  make(chan struct{}, 1),
	}
}

func (sched *HeapScheduler) loadStatus() SchedulerStatus {
	return SchedulerStatus(sched.status.Load())
}

func (sched *HeapScheduler) storeStatus(status SchedulerStatus) {
	sched.status.Store(int32(status))
}

func (sched *HeapScheduler) loadSignal() schedulerSignal {
	return schedulerSignal(sched.signal.Load())
}

func (sched *HeapScheduler) poke() {
	select {
	case sched.kick <- struct{}{}:
	default:
	}
}

// Add creates a task firing every interval and enqueues it. The
// returned id identifies the task for Remove; BadTaskID reports a
// creation or enqueue failure. Not safe concurrently with a running
// loop (see above); schedule from inside a task action instead.
func (sched *HeapScheduler) Add(action TaskAction, arg any, interval time.Duration) TaskID {
	task, err := NewTask(action, arg, interval)
	if err != nil {
		schedulerLog.Warnf("add task: %v", err)
		return BadTaskID
	}
	if err = sched.queue.Enqueue(task); err != nil {
		schedulerLog.Warnf("add task %s: %v", task.ID(), err)
		return BadTaskID
	}
	schedulerLog.Debugf("add task %s: interval=%s", task.ID(), interval)
	return task.ID()
}

// Remove dequeues and drops the task with the given id, reporting
// whether it was found. The currently executing task is not in the
// queue and will not be found; a task removes itself by returning
// non-zero from its action. Same goroutine discipline as Add.
func (sched *HeapScheduler) Remove(id TaskID) bool {
	task := sched.queue.Erase(func(task *Task) bool {
		return task.ID().Equal(id)
	})
	if task == nil {
		return false
	}
	schedulerLog.Debugf("remove task %s", id)
	return true
}

// Run enters the event loop, returning the status that ended it:
// Success (queue drained), Stopped, Error or Destroyed. Invoked on a
// scheduler that is already running it returns Running right away.
// Stopped and Error schedulers may be Run again; a Destroyed one is
// terminal.
func (sched *HeapScheduler) Run() SchedulerStatus {
	switch sched.loadStatus() {
	case SchedulerRunning:
		return SchedulerRunning
	case SchedulerDestroyed:
		return SchedulerDestroyed
	}
	sched.storeStatus(SchedulerRunning)
	sched.signal.Store(int32(signalContinue))
	// Drop any stale poke from a previous run:
	select {
	case <-sched.kick:
	default:
	}

	// Single stopped timer reused across iterations:
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for sched.loadSignal() == signalContinue && !sched.queue.IsEmpty() {
		if !sched.sleepUntilDue(timer) {
			// Sleep cut short; re-check the signal.
			continue
		}
		sched.runNext()
	}

	return sched.dispatchSignal()
}

// sleepUntilDue blocks until the earliest task's deadline, returning
// false when the sleep was cut short by a poke.
func (sched *HeapScheduler) sleepUntilDue(timer *time.Timer) bool {
	wait := time.Until(sched.queue.Peek().Deadline())
	if wait <= 0 {
		return true
	}
	timer.Reset(wait)
	select {
	case <-timer.C:
		return true
	case <-sched.kick:
		if !timer.Stop() {
			<-timer.C
		}
		return false
	}
}

// runNext pops and runs the earliest task. While it executes, the task
// is not in the queue.
func (sched *HeapScheduler) runNext() {
	task := sched.queue.Dequeue()
	if task.Run() != 0 {
		schedulerLog.Debugf("task %s dropped itself", task.ID())
		return
	}
	if err := sched.queue.Enqueue(task); err != nil {
		schedulerLog.Errorf("re-enqueue task %s: %v", task.ID(), err)
		sched.signal.Store(int32(signalError))
	}
}

func (sched *HeapScheduler) dispatchSignal() SchedulerStatus {
	switch sched.loadSignal() {
	case signalDestroy:
		sched.queue.Clear()
		sched.storeStatus(SchedulerDestroyed)
		schedulerLog.Debug("scheduler destroyed")
		return SchedulerDestroyed
	case signalStop:
		sched.storeStatus(SchedulerStopped)
		return SchedulerStopped
	case signalError:
		sched.storeStatus(SchedulerError)
		return SchedulerError
	}
	sched.storeStatus(SchedulerSuccess)
	return SchedulerSuccess
}

// Stop asks a running scheduler to exit its loop after the current
// task. Idempotent; superseded by a pending Destroy.
func (sched *HeapScheduler) Stop() {
	if sched.loadSignal() != signalDestroy {
		sched.signal.Store(int32(signalStop))
		sched.poke()
	}
}

// Destroy renders the scheduler terminal. On a running scheduler it
// raises the Destroy signal and the event loop winds itself down after
// the current task; otherwise the queue is dropped on the spot. Either
// way the caller must not use the scheduler afterwards.
func (sched *HeapScheduler) Destroy() {
	if sched.loadStatus() == SchedulerRunning {
		sched.signal.Store(int32(signalDestroy))
		sched.poke()
		return
	}
	sched.queue.Clear()
	sched.storeStatus(SchedulerDestroyed)
}

func (sched *HeapScheduler) Size() int {
	return sched.queue.Size()
}

func (sched *HeapScheduler) IsEmpty() bool {
	return sched.queue.IsEmpty()
}

// Clear dequeues and drops every pending task. Called from inside a
// running task it spares the caller, which is not in the queue during
// its own execution.
func (sched *HeapScheduler) Clear() {
	sched.queue.Clear()
}
