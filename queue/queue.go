// Package queue provides the bounded min/max priority queues used by the
// search backends to track candidate and result sets.
package queue

import (
	"container/heap"

	"github.com/kungtalon/vecdb/core"
)

// Item is a scored candidate.
type Item struct {
	ID       core.InternalID
	Distance float32
}

// PriorityQueue is a binary heap of candidates. With Min ordering the head
// is the closest candidate; with Max ordering the head is the farthest,
// which makes it a natural bounded result set.
type PriorityQueue struct {
	items []Item
	max   bool
}

// NewMin returns a min-heap ordered by ascending distance.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity)}
}

// NewMax returns a max-heap ordered by descending distance.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity), max: true}
}

// Len returns the number of queued items.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Less orders by distance, breaking ties by ascending id so results are
// deterministic.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.Distance == b.Distance {
		if pq.max {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	}
	if pq.max {
		return a.Distance > b.Distance
	}
	return a.Distance < b.Distance
}

// Swap swaps two items.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

// Push appends an item (heap.Interface).
func (pq *PriorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(Item))
}

// Pop removes the last item (heap.Interface).
func (pq *PriorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[:n-1]
	return item
}

// PushItem adds a candidate.
func (pq *PriorityQueue) PushItem(item Item) {
	heap.Push(pq, item)
}

// PopItem removes and returns the head.
func (pq *PriorityQueue) PopItem() Item {
	return heap.Pop(pq).(Item)
}

// Peek returns the head without removing it.
func (pq *PriorityQueue) Peek() Item {
	return pq.items[0]
}

// Items returns the backing slice in heap order.
func (pq *PriorityQueue) Items() []Item {
	return pq.items
}

// Sorted drains the queue and returns items ordered closest-first.
func (pq *PriorityQueue) Sorted() []Item {
	out := make([]Item, pq.Len())
	if pq.max {
		for i := pq.Len() - 1; i >= 0; i-- {
			out[i] = pq.PopItem()
		}
	} else {
		for i := range out {
			out[i] = pq.PopItem()
		}
	}
	return out
}
