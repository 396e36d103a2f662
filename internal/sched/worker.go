package sched

import (
	"container/heap"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"pktcore/internal/flog"
)

// defaultQueueCapacity is a worker's local queue capacity when none is
// configured.
const defaultQueueCapacity = 1000

// IdleEvent reports a worker's idle/busy edge, consumed by the scheduler's
// work-stealing trigger and idle/saturation bookkeeping.
type IdleEvent struct {
	WorkerID int
	Idle     bool
}

// Worker drains its own priority-ordered local queue on one dedicated
// goroutine (locked to its own OS thread for the life of Run, and bound to
// a CPU when an affinity was set before Run started),
// and exposes steal() for other workers to take its lowest-priority
// pending task.
type Worker struct {
	id       int
	capacity int

	mu   sync.Mutex
	cond *sync.Cond
	desc *taskHeap
	asc  *taskHeap

	idle      atomic.Bool
	processed atomic.Uint64
	stolen    atomic.Uint64
	execNs    atomic.Int64

	affinity atomic.Int32 // negative means unbound

	stopCh chan struct{}
	doneCh chan struct{}

	onIdle func(IdleEvent)
}

// NewWorker creates a worker with the given local queue capacity (<=0 uses
// defaultQueueCapacity). onIdle, if non-nil, is called synchronously on
// every idle/busy edge and must not block.
func NewWorker(id int, capacity int, onIdle func(IdleEvent)) *Worker {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	w := &Worker{
		id:       id,
		capacity: capacity,
		desc:     newDescHeap(),
		asc:      newAscHeap(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		onIdle:   onIdle,
	}
	w.cond = sync.NewCond(&w.mu)
	w.affinity.Store(-1)
	w.idle.Store(true)
	return w
}

func (w *Worker) ID() int { return w.id }

// QueueSize returns the number of tasks currently queued locally.
func (w *Worker) QueueSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.desc.Len()
}

func (w *Worker) IsIdle() bool { return w.idle.Load() }

func (w *Worker) Processed() uint64 { return w.processed.Load() }
func (w *Worker) Stolen() uint64    { return w.stolen.Load() }
func (w *Worker) ExecTime() time.Duration {
	return time.Duration(w.execNs.Load())
}

// directSeq sequences tasks handed straight to Worker.Add.
var directSeq atomic.Uint64

// Add enqueues a task on this worker's local queue. It fails if the queue
// is at capacity; the caller (scheduler) decides whether to try another
// worker. Waking an idle worker happens under the same lock that performs
// the push, so a racing wait can't miss the signal.
func (w *Worker) Add(t *Task) bool {
	w.mu.Lock()
	if w.desc.Len() >= w.capacity {
		w.mu.Unlock()
		return false
	}
	if t.seq == 0 {
		// Not stamped by Scheduler.Submit: stamp here so equal-priority
		// tasks added directly still drain in enqueue order.
		t.seq = directSeq.Add(1)
	}
	heap.Push(w.desc, t)
	heap.Push(w.asc, t)
	w.mu.Unlock()
	w.cond.Signal()
	return true
}

// Steal removes and returns this worker's lowest-priority pending task, so
// the victim keeps its highest-priority work. ok is false if the queue is
// empty or holds only one task (a single-task queue is never stolen from,
// matching the scheduler's queue_size>1 steal precondition).
func (w *Worker) Steal() (*Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.asc.Len() <= 1 {
		return nil, false
	}

	t := heap.Pop(w.asc).(*Task)
	heap.Remove(w.desc, t.idxDesc)
	w.stolen.Add(1)
	return t, true
}

// dequeueLocal removes and returns this worker's highest-priority pending
// task, for the run loop's own consumption.
func (w *Worker) dequeueLocal() (*Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.desc.Len() == 0 {
		return nil, false
	}
	t := heap.Pop(w.desc).(*Task)
	heap.Remove(w.asc, t.idxAsc)
	return t, true
}

// SetAffinity records the CPU to bind the worker's OS thread to. The value
// is applied once, when Run starts, since the syscall targets the calling
// thread; a call made while Run is already executing does not change the
// binding. A negative cpu skips binding: it does not undo an earlier one.
func (w *Worker) SetAffinity(cpu int) {
	w.affinity.Store(int32(cpu))
}

func (w *Worker) applyAffinity() {
	cpu := int(w.affinity.Load())
	if cpu < 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		flog.Warnf("worker %d: SchedSetaffinity(%d) failed: %v", w.id, cpu, err)
	}
}

func (w *Worker) setIdle(idle bool) {
	if w.idle.Swap(idle) == idle {
		return
	}
	if w.onIdle != nil {
		w.onIdle(IdleEvent{WorkerID: w.id, Idle: idle})
	}
}

// Run drives the worker loop until Stop is called. idleTimeout bounds how
// long the loop waits on an empty queue before re-checking for a stop
// signal — sync.Cond has no timed wait, so a small watchdog goroutine
// periodically signals the condition to let the loop notice stopCh.
func (w *Worker) Run(idleTimeout time.Duration) {
	defer close(w.doneCh)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.applyAffinity()

	watchdogStop := make(chan struct{})
	go func() {
		t := time.NewTicker(idleTimeout)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.cond.Signal()
			case <-watchdogStop:
				return
			}
		}
	}()
	defer close(watchdogStop)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		task, ok := w.dequeueLocal()
		if !ok {
			w.setIdle(true)
			w.mu.Lock()
			if w.desc.Len() == 0 {
				w.cond.Wait()
			}
			w.mu.Unlock()
			continue
		}

		w.setIdle(false)
		w.runTask(task)
	}
}

// runTask executes a task's function, recovering any panic so a single
// faulty task never takes the worker down. A recovered task still counts
// as completed.
func (w *Worker) runTask(t *Task) {
	start := time.Now()
	defer func() {
		w.execNs.Add(int64(time.Since(start)))
		w.processed.Add(1)
		if r := recover(); r != nil {
			flog.Warnf("worker %d: task %d panicked: %v", w.id, t.ID, r)
		}
	}()
	t.Fn()
}

// Stop signals the run loop to exit after its current task, if any, and
// waits for it to return.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.cond.Broadcast()
	<-w.doneCh
}
