// Package dsa provides the core data structures used by the scheduler.
// The priority queue is a binary min-heap ordered by (priority, submitted_at):
// lower priority ordinal dequeues first, ties break strictly by submission
// time so a priority band is FIFO and nothing within it starves.
package dsa

import (
	"container/heap"
	"sync"
	"time"
)

// HeapItem is one queue entry. Value carries arbitrary payload for the caller.
type HeapItem struct {
	Key         string
	Priority    int
	SubmittedAt time.Time
	Value       any
}

// PriorityQueue is a thread-safe min-heap of HeapItems.
// All operations are O(log n) except Peek and Len, which are O(1).
type PriorityQueue struct {
	mu    sync.Mutex
	items itemHeap
}

// NewPriorityQueue creates an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Push adds an item to the queue.
func (pq *PriorityQueue) Push(item HeapItem) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	heap.Push(&pq.items, item)
}

// Pop removes and returns the best item: lowest priority ordinal,
// earliest SubmittedAt on ties. Returns false if the queue is empty.
func (pq *PriorityQueue) Pop() (HeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.items) == 0 {
		return HeapItem{}, false
	}
	return heap.Pop(&pq.items).(HeapItem), true
}

// Peek returns the best item without removing it.
func (pq *PriorityQueue) Peek() (HeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.items) == 0 {
		return HeapItem{}, false
	}
	return pq.items[0], true
}

// Len returns the number of queued items.
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}

// ─── heap.Interface ─────────────────────────────────────────────────────────

type itemHeap []HeapItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(HeapItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
