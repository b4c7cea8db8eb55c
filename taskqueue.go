package amio

import (
	"sync"
	"time"

	"github.com/loopworks/amio/metrics"
)

// Task is a unit of work posted to a TaskQueue. Run executes on the
// queue's processing goroutine; Cancel is an advisory hint that the task
// may choose to ignore.
type Task interface {
	Run()
	Cancel()
}

// TaskFunc adapts a plain function to Task, with a no-op Cancel.
type TaskFunc func()

// Run implements Task.
func (f TaskFunc) Run() { f() }

// Cancel implements Task.
func (f TaskFunc) Cancel() {}

// TaskQueueDelegate is notified on every PostTask (NotifyTask) and PostQuit
// (NotifyQuit), so an embedding event loop can wake a blocked Poll.
type TaskQueueDelegate interface {
	NotifyTask()
	NotifyQuit()
}

// TaskQueue is a multi-producer, single-consumer work queue. PostTask may
// be called from any goroutine; ProcessNextTask/ProcessTasks must only be
// called from the queue's single consuming goroutine.
//
// Tasks are held in two deques: incoming, appended to under the lock by
// producers, and working, drained lock-free by the consumer. When working
// runs dry it is swapped with incoming wholesale, which keeps the lock
// held for a pointer swap rather than for the length of a drain and gives
// FIFO ordering without letting a task posted mid-drain run reentrantly
// inside the same ProcessTasks call that posted it.
type TaskQueue struct {
	delegate TaskQueueDelegate

	mu       sync.Mutex
	incoming []Task
	working  []Task

	gotBreak bool
	gotQuit  bool
}

// NewTaskQueue creates a task queue. delegate may be nil, in which case the
// queue still works but nothing is notified of new postings; use this for
// a queue drained by polling rather than by wakeup.
func NewTaskQueue(delegate TaskQueueDelegate) *TaskQueue {
	return &TaskQueue{delegate: delegate}
}

// PostTask enqueues task and wakes the delegate, if any. Safe from any
// goroutine.
func (q *TaskQueue) PostTask(task Task) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.incoming = append(q.incoming, task)
	q.mu.Unlock()
	metrics.Add(metrics.TaskAssigned, 1)

	if q.delegate != nil {
		q.delegate.NotifyTask()
	}
}

// PostQuit marks the queue as should-quit and wakes the delegate. Unlike
// PostTask this carries no task; ShouldQuit observes it directly.
func (q *TaskQueue) PostQuit() {
	q.mu.Lock()
	q.gotQuit = true
	q.mu.Unlock()

	if q.delegate != nil {
		q.delegate.NotifyQuit()
	}
}

// ShouldQuit reports whether PostQuit has been called.
func (q *TaskQueue) ShouldQuit() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gotQuit
}

// Break asks an in-progress ProcessTasks to stop after the current task.
// A no-op if ProcessTasks is not running.
func (q *TaskQueue) Break() {
	q.mu.Lock()
	q.gotBreak = true
	q.mu.Unlock()
}

// refillWorking swaps the incoming deque into working when working has run
// dry, returning whether there is now anything to process.
func (q *TaskQueue) refillWorking() bool {
	if len(q.working) > 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.incoming) == 0 {
		return false
	}
	q.working, q.incoming = q.incoming, q.working[:0]
	return true
}

// ProcessNextTask runs at most one task, if any is available, and reports
// whether it did.
func (q *TaskQueue) ProcessNextTask() bool {
	if !q.refillWorking() {
		return false
	}
	task := q.working[0]
	q.working = q.working[1:]
	task.Run()
	return true
}

// ProcessTasks drains the queue, honoring whichever limit is reached
// first: timelimit (zero means unbounded), nlimit (zero means unbounded),
// a Break call, or PostQuit. It returns whether any task was processed.
func (q *TaskQueue) ProcessTasks(timelimit time.Duration, nlimit int) bool {
	if timelimit > 0 {
		return q.processTasksForTime(timelimit, nlimit)
	}
	return q.processTasksForCount(nlimit)
}

func (q *TaskQueue) processTasksForTime(timelimit time.Duration, nlimit int) bool {
	q.mu.Lock()
	q.gotBreak = false
	q.mu.Unlock()

	deadline := time.Now().Add(timelimit)
	count := 0
	ran := false
	for q.ProcessNextTask() {
		ran = true
		if time.Now().After(deadline) || q.ShouldQuit() || q.isBreak() {
			break
		}
		if nlimit > 0 {
			count++
			if count >= nlimit {
				break
			}
		}
		if len(q.working) == 0 {
			break // tasks posted during this drain wait for the next call
		}
	}
	return ran
}

func (q *TaskQueue) processTasksForCount(nlimit int) bool {
	if !q.ProcessNextTask() {
		return false
	}
	q.mu.Lock()
	q.gotBreak = false
	q.mu.Unlock()

	count := 0
	for {
		if nlimit > 0 {
			count++
			if count >= nlimit {
				break
			}
		}
		if q.ShouldQuit() || q.isBreak() || len(q.working) == 0 || !q.ProcessNextTask() {
			break
		}
	}
	return true
}

func (q *TaskQueue) isBreak() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gotBreak
}

// Drain discards every pending task without running it, calling Cancel on
// each. Used when shutting the queue down.
func (q *TaskQueue) Drain() {
	q.mu.Lock()
	rest := append(q.working, q.incoming...)
	q.working, q.incoming = nil, nil
	q.mu.Unlock()
	for _, t := range rest {
		t.Cancel()
	}
}
