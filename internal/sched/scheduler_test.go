package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

// TestWorkerPriorityOrdering covers S3: three tasks enqueued out of
// priority order on a worker that has not started yet execute
// highest-priority first once it starts.
func TestWorkerPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int

	w := NewWorker(0, 10, nil)

	record := func(id int) func() {
		return func() {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}
	}

	w.Add(&Task{ID: 1, Priority: -10, Fn: record(1)})
	w.Add(&Task{ID: 2, Priority: 10, Fn: record(2)})
	w.Add(&Task{ID: 3, Priority: 0, Fn: record(3)})

	go w.Run(10 * time.Millisecond)
	defer w.Stop()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []int{2, 3, 1}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
	if w.Processed() != 3 {
		t.Errorf("Processed() = %d, want 3", w.Processed())
	}
}

// TestSchedulerWorkStealingRebalances covers S4: 100 tasks submitted to a
// 4-worker, work-stealing scheduler but all placed on the same worker (by
// forcing RoundRobin index 0 repeatedly is impractical without a hook, so
// instead we submit directly to worker 0's queue and let the balancer
// redistribute) all complete, and at least one task is stolen.
func TestSchedulerWorkStealingRebalances(t *testing.T) {
	s := New(Config{
		Workers:             4,
		QueueCapacity:       200,
		StealInterval:       5 * time.Millisecond,
		IdleTimeout:         5 * time.Millisecond,
		WorkStealingEnabled: true,
		Policy:              WorkStealing,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()

	var completed atomic.Int64
	const n = 100
	for i := 0; i < n; i++ {
		task := &Task{Fn: func() {
			time.Sleep(time.Millisecond)
			completed.Add(1)
		}}
		if !s.Workers()[0].Add(task) {
			if !s.Submit(task) {
				task.Fn()
			}
		}
	}

	waitFor(t, 5*time.Second, func() bool { return completed.Load() == n })

	if s.TotalStolen() == 0 {
		t.Error("TotalStolen() == 0, want work stealing to have moved at least one task off worker 0")
	}
}

func TestSchedulerRoundRobinDistributes(t *testing.T) {
	s := New(Config{Workers: 4, Policy: RoundRobin})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()

	var wg sync.WaitGroup
	wg.Add(8)
	for i := 0; i < 8; i++ {
		ok := s.Submit(&Task{Fn: func() { wg.Done() }})
		if !ok {
			t.Fatalf("Submit %d rejected", i)
		}
	}
	wg.Wait()
	waitFor(t, time.Second, func() bool { return s.TotalCompleted() == 8 })

	for _, w := range s.Workers() {
		if w.Processed() != 2 {
			t.Errorf("worker %d Processed() = %d, want 2 (8 tasks round-robin over 4 workers)", w.ID(), w.Processed())
		}
	}
}

func TestSchedulerSubmitRejectedWhenNotRunning(t *testing.T) {
	s := New(Config{Workers: 2})
	if s.Submit(&Task{Fn: func() {}}) {
		t.Fatal("Submit accepted before Start")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Pause()
	if s.Submit(&Task{Fn: func() {}}) {
		t.Fatal("Submit accepted while Paused")
	}
	s.Resume()
	if !s.Submit(&Task{Fn: func() {}}) {
		t.Fatal("Submit rejected after Resume")
	}
	s.Shutdown()
	if s.Submit(&Task{Fn: func() {}}) {
		t.Fatal("Submit accepted after Shutdown")
	}
}

func TestSchedulerDoubleStartAndShutdownAreNoOps(t *testing.T) {
	s := New(Config{Workers: 2})
	if err := s.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	s.Shutdown()
	s.Shutdown() // must not panic or block
}

func TestWorkerTaskPanicIsRecoveredAndCounted(t *testing.T) {
	w := NewWorker(0, 10, nil)
	go w.Run(5 * time.Millisecond)
	defer w.Stop()

	done := make(chan struct{})
	w.Add(&Task{Fn: func() { panic("boom") }})
	w.Add(&Task{Fn: func() { close(done) }})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker never ran the task after a panicking one")
	}

	waitFor(t, time.Second, func() bool { return w.Processed() == 2 })
}

func TestSpawnReturnsValueAndRecoversPanic(t *testing.T) {
	s := New(Config{Workers: 1})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()

	fut, ok := Spawn(s, 0, func() (int, error) { return 42, nil })
	if !ok {
		t.Fatal("Spawn rejected")
	}
	v, err := fut.Wait()
	if err != nil || v != 42 {
		t.Fatalf("Wait() = %d, %v, want 42, nil", v, err)
	}

	fut2, ok := Spawn(s, 0, func() (int, error) { panic("bad") })
	if !ok {
		t.Fatal("Spawn rejected")
	}
	if _, err := fut2.Wait(); err == nil {
		t.Fatal("Wait() after a panicking spawn returned nil error")
	}
}
