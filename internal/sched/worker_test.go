package sched

import "testing"

func TestWorkerAddRejectsAtCapacity(t *testing.T) {
	w := NewWorker(0, 2, nil)
	if !w.Add(&Task{ID: 1}) {
		t.Fatal("first Add rejected")
	}
	if !w.Add(&Task{ID: 2}) {
		t.Fatal("second Add rejected")
	}
	if w.Add(&Task{ID: 3}) {
		t.Fatal("Add at capacity accepted")
	}
	if w.QueueSize() != 2 {
		t.Errorf("QueueSize() = %d, want 2", w.QueueSize())
	}
}

func TestWorkerStealTakesLowestPriority(t *testing.T) {
	w := NewWorker(0, 10, nil)
	w.Add(&Task{ID: 1, Priority: 5})
	w.Add(&Task{ID: 2, Priority: -5})
	w.Add(&Task{ID: 3, Priority: 0})

	stolen, ok := w.Steal()
	if !ok {
		t.Fatal("Steal failed with 3 queued tasks")
	}
	if stolen.ID != 2 {
		t.Errorf("stole task %d, want task 2 (lowest priority)", stolen.ID)
	}
	if w.QueueSize() != 2 {
		t.Errorf("QueueSize() after steal = %d, want 2", w.QueueSize())
	}
	if w.Stolen() != 1 {
		t.Errorf("Stolen() = %d, want 1", w.Stolen())
	}

	local, ok := w.dequeueLocal()
	if !ok || local.ID != 1 {
		t.Errorf("dequeueLocal() after steal = %v, want task 1 (highest remaining priority)", local)
	}
}

func TestWorkerStealRefusesSingleTaskQueue(t *testing.T) {
	w := NewWorker(0, 10, nil)
	w.Add(&Task{ID: 1})

	if _, ok := w.Steal(); ok {
		t.Fatal("Steal succeeded against a single-task queue, victim should keep its only task")
	}
}

func TestWorkerStealFIFOTiebreak(t *testing.T) {
	w := NewWorker(0, 10, nil)
	w.Add(&Task{ID: 1, Priority: 0})
	w.Add(&Task{ID: 2, Priority: 0})
	w.Add(&Task{ID: 3, Priority: 0})

	stolen, ok := w.Steal()
	if !ok || stolen.ID != 1 {
		t.Errorf("Steal() = %v, want task 1 (earliest of equal priority)", stolen)
	}
}

func TestWorkerIdleEdgeFiresOnlyOnChange(t *testing.T) {
	var events []IdleEvent
	w := NewWorker(0, 10, func(ev IdleEvent) { events = append(events, ev) })

	// NewWorker starts idle, so the first setIdle(true) is not an edge.
	w.setIdle(true)
	w.setIdle(true)
	w.setIdle(false)
	w.setIdle(false)
	w.setIdle(true)

	want := []bool{false, true}
	if len(events) != len(want) {
		t.Fatalf("got %d idle events, want %d: %v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Idle != want[i] {
			t.Errorf("event %d: Idle = %v, want %v", i, ev.Idle, want[i])
		}
	}
}
