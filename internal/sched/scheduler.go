// Package sched implements the worker pool: priority- and FIFO-ordered
// local queues, work stealing, and the scheduler that owns worker
// lifecycle, placement policy, and saturation/idle reporting.
package sched

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"pktcore/internal/events"
	"pktcore/internal/flog"
)

// Policy selects how Submit places a task among workers.
type Policy int

const (
	RoundRobin Policy = iota
	LeastLoaded
	Random
	WorkStealing
)

type schedState int32

const (
	stateCreated schedState = iota
	stateRunning
	statePaused
	stateShutdown
)

// Config configures a Scheduler. Zero values are filled in by normalized;
// Workers defaults to runtime.NumCPU() clamped to [1, 64], without the
// minimum of 4 that conf.Performance.setDefaults applies for role "server".
type Config struct {
	Workers             int
	QueueCapacity       int
	IdleTimeout         time.Duration
	StealInterval       time.Duration
	ShutdownTimeout     time.Duration
	SaturationThreshold int
	Policy              Policy
	WorkStealingEnabled bool
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Workers > 64 {
		c.Workers = 64
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 100 * time.Millisecond
	}
	if c.StealInterval <= 0 {
		c.StealInterval = 100 * time.Millisecond
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.SaturationThreshold <= 0 {
		c.SaturationThreshold = 500
	}
	return c
}

// SaturationEvent reports the scheduler crossing its saturation threshold.
type SaturationEvent struct {
	TotalQueued int
}

// Scheduler owns a fixed pool of Workers and places submitted tasks among
// them according to Policy.
type Scheduler struct {
	cfg     Config
	workers []*Worker

	state atomic.Int32

	idCounter  atomic.Uint64
	seqCounter atomic.Uint64
	rrIndex    atomic.Uint64

	saturated atomic.Bool
	allIdle   atomic.Bool

	stopBalancer chan struct{}
	balancerDone chan struct{}

	PoolSaturated *events.Emitter[SaturationEvent]
	PoolIdle      *events.Emitter[struct{}]
}

// New builds a Scheduler with cfg.Workers workers (clamped to [1,64],
// defaulting to runtime.NumCPU()). Workers are constructed but not
// started until Start is called.
func New(cfg Config) *Scheduler {
	cfg = cfg.normalized()

	s := &Scheduler{
		cfg:           cfg,
		PoolSaturated: events.NewEmitter[SaturationEvent](16),
		PoolIdle:      events.NewEmitter[struct{}](16),
	}

	s.workers = make([]*Worker, cfg.Workers)
	for i := range s.workers {
		id := i
		s.workers[i] = NewWorker(id, cfg.QueueCapacity, func(ev IdleEvent) {
			if ev.Idle && cfg.WorkStealingEnabled {
				s.triggerSteal()
			}
		})
	}
	return s
}

// Start spawns each worker's run loop and the periodic load-balancer.
// Calling Start again while already running, paused, or after Shutdown is
// a no-op.
func (s *Scheduler) Start() error {
	if !s.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return nil
	}

	for _, w := range s.workers {
		w := w
		go func() {
			defer func() {
				if r := recover(); r != nil {
					flog.Warnf("scheduler: worker %d failed to start: %v", w.id, r)
				}
			}()
			w.Run(s.cfg.IdleTimeout)
		}()
	}

	s.stopBalancer = make(chan struct{})
	s.balancerDone = make(chan struct{})
	go s.runBalancer()

	return nil
}

// Pause suppresses dispatch: in-flight tasks run to completion, but the
// submit rejection rule (state must be Running) starts rejecting new work
// immediately.
func (s *Scheduler) Pause() {
	s.state.CompareAndSwap(int32(stateRunning), int32(statePaused))
}

// Resume returns the scheduler to Running from Paused.
func (s *Scheduler) Resume() {
	s.state.CompareAndSwap(int32(statePaused), int32(stateRunning))
}

// Shutdown stops the load balancer and every worker, waiting up to
// ShutdownTimeout per worker. A worker past its deadline is logged and
// dropped rather than blocking shutdown indefinitely. Calling Shutdown
// more than once is a safe no-op.
func (s *Scheduler) Shutdown() {
	prev := schedState(s.state.Swap(int32(stateShutdown)))
	if prev == stateShutdown || prev == stateCreated {
		return
	}

	close(s.stopBalancer)
	<-s.balancerDone

	var wg sync.WaitGroup
	for _, w := range s.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			go func() { w.Stop(); close(done) }()
			select {
			case <-done:
			case <-time.After(s.cfg.ShutdownTimeout):
				flog.Warnf("scheduler: worker %d did not stop within %s, dropping it", w.id, s.cfg.ShutdownTimeout)
			}
		}()
	}
	wg.Wait()
}

// Submit places a task on a worker per Policy. It fails if the scheduler
// is not Running, or if the selected worker's queue is full and either
// work stealing is disabled or no other worker has room.
func (s *Scheduler) Submit(t *Task) bool {
	if schedState(s.state.Load()) != stateRunning {
		return false
	}

	t.ID = s.idCounter.Add(1)
	t.seq = s.seqCounter.Add(1)
	t.EnqueueTime = time.Now().UnixNano()

	w := s.selectWorker()
	if w.Add(t) {
		return true
	}
	if !s.cfg.WorkStealingEnabled {
		return false
	}
	for _, alt := range s.workers {
		if alt == w {
			continue
		}
		if alt.Add(t) {
			return true
		}
	}
	return false
}

// SubmitMany submits every task, or none: if placement for any task would
// fail, nothing in the batch is enqueued. Admission is checked against
// queue headroom observed at call time; a concurrent Submit racing the
// same headroom can still cause a late failure, the same caveat any
// optimistic placement scheme has.
func (s *Scheduler) SubmitMany(tasks []*Task) bool {
	if schedState(s.state.Load()) != stateRunning {
		return false
	}
	if len(tasks) == 0 {
		return true
	}

	remaining := make(map[int]int, len(s.workers))
	for _, w := range s.workers {
		remaining[w.id] = w.capacity - w.QueueSize()
	}

	assigned := make([]*Worker, len(tasks))
	for i := range tasks {
		w := s.selectWorker()
		if remaining[w.id] <= 0 {
			if !s.cfg.WorkStealingEnabled {
				return false
			}
			placed := false
			for _, alt := range s.workers {
				if alt.id != w.id && remaining[alt.id] > 0 {
					w = alt
					placed = true
					break
				}
			}
			if !placed {
				return false
			}
		}
		remaining[w.id]--
		assigned[i] = w
	}

	for i, t := range tasks {
		t.ID = s.idCounter.Add(1)
		t.seq = s.seqCounter.Add(1)
		t.EnqueueTime = time.Now().UnixNano()
		if !assigned[i].Add(t) {
			return false
		}
	}
	return true
}

func (s *Scheduler) selectWorker() *Worker {
	switch s.cfg.Policy {
	case RoundRobin:
		idx := s.rrIndex.Add(1) - 1
		return s.workers[idx%uint64(len(s.workers))]
	case Random:
		return s.workers[rand.IntN(len(s.workers))]
	case LeastLoaded, WorkStealing:
		best := s.workers[0]
		bestSize := best.QueueSize()
		for _, w := range s.workers[1:] {
			if sz := w.QueueSize(); sz < bestSize {
				best, bestSize = w, sz
			}
		}
		return best
	default:
		return s.workers[0]
	}
}

// triggerSteal performs at most one steal: the first idle worker takes the
// lowest-priority task from the first other worker with more than one
// queued task.
func (s *Scheduler) triggerSteal() {
	var thief *Worker
	for _, w := range s.workers {
		if w.IsIdle() {
			thief = w
			break
		}
	}
	if thief == nil {
		return
	}
	for _, victim := range s.workers {
		if victim == thief {
			continue
		}
		if victim.QueueSize() > 1 {
			if t, ok := victim.Steal(); ok {
				thief.Add(t)
			}
			return
		}
	}
}

func (s *Scheduler) runBalancer() {
	defer close(s.balancerDone)

	ticker := time.NewTicker(s.cfg.StealInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopBalancer:
			return
		case <-ticker.C:
			s.checkSaturation()
			s.checkIdle()
			if s.cfg.WorkStealingEnabled {
				s.triggerSteal()
			}
		}
	}
}

func (s *Scheduler) checkSaturation() {
	total := 0
	for _, w := range s.workers {
		total += w.QueueSize()
	}
	over := total > s.cfg.SaturationThreshold
	if over && !s.saturated.Swap(true) {
		s.PoolSaturated.Emit(SaturationEvent{TotalQueued: total})
	} else if !over {
		s.saturated.Store(false)
	}
}

func (s *Scheduler) checkIdle() {
	total := 0
	allIdle := true
	for _, w := range s.workers {
		total += w.QueueSize()
		if !w.IsIdle() {
			allIdle = false
		}
	}
	idle := allIdle && total == 0
	if idle && !s.allIdle.Swap(true) {
		s.PoolIdle.Emit(struct{}{})
	} else if !idle {
		s.allIdle.Store(false)
	}
}

// IdleWorkerCount returns how many workers are currently idle.
func (s *Scheduler) IdleWorkerCount() int {
	n := 0
	for _, w := range s.workers {
		if w.IsIdle() {
			n++
		}
	}
	return n
}

// TotalCompleted returns the sum of every worker's processed-task count.
// Like every other counter in this system, it is eventually consistent.
func (s *Scheduler) TotalCompleted() uint64 {
	var total uint64
	for _, w := range s.workers {
		total += w.Processed()
	}
	return total
}

// TotalStolen returns the sum of every worker's stolen-task count.
func (s *Scheduler) TotalStolen() uint64 {
	var total uint64
	for _, w := range s.workers {
		total += w.Stolen()
	}
	return total
}

// Workers returns the scheduler's worker set, for inspection (tests,
// metrics) and for applying per-worker CPU affinity before Start.
func (s *Scheduler) Workers() []*Worker { return s.workers }

type futureResult[R any] struct {
	val R
	err error
}

// Future is the result of a Spawn call.
type Future[R any] struct {
	ch chan futureResult[R]
}

// Wait blocks until the spawned function returns or panics.
func (f *Future[R]) Wait() (R, error) {
	r := <-f.ch
	return r.val, r.err
}

// Spawn submits fn to the scheduler and returns a Future for its result.
// A panic inside fn is recovered and reported as an error on the future
// rather than crashing the worker.
func Spawn[R any](s *Scheduler, priority int, fn func() (R, error)) (*Future[R], bool) {
	fut := &Future[R]{ch: make(chan futureResult[R], 1)}
	t := &Task{
		Priority: priority,
		Fn: func() {
			defer func() {
				if r := recover(); r != nil {
					var zero R
					fut.ch <- futureResult[R]{val: zero, err: fmt.Errorf("spawned task panicked: %v", r)}
				}
			}()
			v, err := fn()
			fut.ch <- futureResult[R]{val: v, err: err}
		},
	}
	if !s.Submit(t) {
		return nil, false
	}
	return fut, true
}
