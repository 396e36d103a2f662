package sched

// Task is a unit of scheduled work: a function, a signed priority (higher
// executes first), the time it was enqueued, and a monotonic id. A task
// runs exactly once — by the worker it was submitted to, or by whichever
// worker steals it; never both.
type Task struct {
	Fn          func()
	Priority    int
	EnqueueTime int64 // UnixNano at submission, informational only
	ID          uint64

	seq uint64 // monotonic submission sequence, the real FIFO tiebreak

	idxDesc int // index into the owning worker's priority-descending heap
	idxAsc  int // index into the owning worker's priority-ascending heap
}

// lessDesc orders by priority descending, enqueue order ascending — the
// order a worker drains its own queue in.
func lessDesc(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

// lessAsc orders by priority ascending — the order steal() takes from a
// victim's queue, so the victim keeps its highest-priority work.
func lessAsc(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}
