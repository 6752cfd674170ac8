package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"
)

type memItem struct {
	id       uuid.UUID
	priority int
	seq      uint64
}

// memHeap orders by priority descending, then insertion order.
type memHeap []memItem

func (h memHeap) Len() int { return len(h) }
func (h memHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h memHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *memHeap) Push(x any)   { *h = append(*h, x.(memItem)) }
func (h *memHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// MemoryDelegate is a single-process priority queue for development and tests.
type MemoryDelegate struct {
	mu     sync.Mutex
	seq    uint64
	queues map[string]*memHeap
	queued map[uuid.UUID]bool
}

func NewMemoryDelegate() *MemoryDelegate {
	return &MemoryDelegate{
		queues: make(map[string]*memHeap),
		queued: make(map[uuid.UUID]bool),
	}
}

func (d *MemoryDelegate) Name() string { return "memory" }

// Add ignores ids that are already queued.
func (d *MemoryDelegate) Add(_ context.Context, e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queued[e.TaskID] {
		return nil
	}
	h, ok := d.queues[e.Type]
	if !ok {
		h = &memHeap{}
		d.queues[e.Type] = h
	}
	d.seq++
	heap.Push(h, memItem{id: e.TaskID, priority: e.Priority, seq: d.seq})
	d.queued[e.TaskID] = true
	return nil
}

func (d *MemoryDelegate) Get(_ context.Context, taskType string, max int) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.queues[taskType]
	if !ok {
		return nil, nil
	}
	var ids []uuid.UUID
	for len(ids) < max && h.Len() > 0 {
		it := heap.Pop(h).(memItem)
		delete(d.queued, it.id)
		ids = append(ids, it.id)
	}
	return ids, nil
}

func (d *MemoryDelegate) Drain(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues = make(map[string]*memHeap)
	d.queued = make(map[uuid.UUID]bool)
	return nil
}

// Len reports how many ids are queued for taskType.
func (d *MemoryDelegate) Len(taskType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.queues[taskType]; ok {
		return h.Len()
	}
	return 0
}
