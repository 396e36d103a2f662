package sched

import "container/heap"

// taskHeap is a container/heap.Interface over *Task, parameterised by a
// less function and an index setter so the same implementation backs both
// a worker's priority-descending dequeue order and its priority-ascending
// steal order. Two taskHeaps over the same *Task values, each tracking its
// own index field on the task, give O(log n) push/pop/remove on both ends
// without ever scanning the queue — the pop-all-and-push-back-minus-one
// approach scans and reallocates on every single steal.
type taskHeap struct {
	items  []*Task
	less   func(a, b *Task) bool
	setIdx func(t *Task, i int)
}

func (h *taskHeap) Len() int { return len(h.items) }

func (h *taskHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.setIdx(h.items[i], i)
	h.setIdx(h.items[j], j)
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	h.setIdx(t, len(h.items))
	h.items = append(h.items, t)
}

func (h *taskHeap) Pop() any {
	n := len(h.items)
	t := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return t
}

func newDescHeap() *taskHeap {
	return &taskHeap{less: lessDesc, setIdx: func(t *Task, i int) { t.idxDesc = i }}
}

func newAscHeap() *taskHeap {
	return &taskHeap{less: lessAsc, setIdx: func(t *Task, i int) { t.idxAsc = i }}
}

var _ = heap.Interface(&taskHeap{})
