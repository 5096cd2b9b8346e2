// Package queue provides the binary heaps used by graph search.
package queue

// Item is a graph node paired with its distance to the query.
type Item struct {
	Node     uint32
	Distance float32
}

// Less orders items by distance, then by node index.
func Less(a, b Item) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Node < b.Node
}

// PriorityQueue is a value-based binary heap of items. A min-queue pops the
// closest item first, a max-queue the farthest.
type PriorityQueue struct {
	isMaxHeap bool
	items     []Item
}

// NewMin creates a queue that pops the closest item first.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity)}
}

// NewMax creates a queue that pops the farthest item first.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{isMaxHeap: true, items: make([]Item, 0, capacity)}
}

// Len returns the number of queued items.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Reset empties the queue, keeping its storage.
func (pq *PriorityQueue) Reset() { pq.items = pq.items[:0] }

// Top returns the head of the queue without removing it.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// Push inserts an item.
func (pq *PriorityQueue) Push(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// Pop removes and returns the head of the queue.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}
	root := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]
	if n > 1 {
		pq.siftDown(0)
	}
	return root, true
}

// Drain empties the queue and returns its items ordered closest first.
func (pq *PriorityQueue) Drain() []Item {
	out := make([]Item, len(pq.items))
	if pq.isMaxHeap {
		for i := len(out) - 1; i >= 0; i-- {
			out[i], _ = pq.Pop()
		}
	} else {
		for i := range out {
			out[i], _ = pq.Pop()
		}
	}
	return out
}

func (pq *PriorityQueue) before(i, j int) bool {
	if pq.isMaxHeap {
		return Less(pq.items[j], pq.items[i])
	}
	return Less(pq.items[i], pq.items[j])
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.before(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && pq.before(r, l) {
			best = r
		}
		if !pq.before(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
