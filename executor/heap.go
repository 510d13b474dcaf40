package executor

// scheduledHeap is a container/heap of *node ordered by (execTime, seq),
// grounded on akita's sim.eventHeap / sim.EventQueueImpl: a plain slice-based
// binary heap guarded by the Executor's own lock rather than its own mutex,
// since it is only ever touched while that lock is held.
type scheduledHeap []*node

func (h scheduledHeap) Len() int { return len(h) }

func (h scheduledHeap) Less(i, j int) bool {
	if h[i].execTime != h[j].execTime {
		return h[i].execTime < h[j].execTime
	}
	return h[i].seq < h[j].seq
}

func (h scheduledHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scheduledHeap) Push(x interface{}) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *scheduledHeap) Pop() interface{} {
	old := *h
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*h = old[:last]
	return n
}
