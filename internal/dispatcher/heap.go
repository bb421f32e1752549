package dispatcher

// pendingHeap is a min-heap of *PendingRequest ordered by Deadline. A
// request can be logically removed (resolved by a matching response) while
// still sitting in the heap; Step's timeout path checks the pending map
// before emitting a TIMEOUT for a popped entry, discarding stale ones.
type pendingHeap struct {
	items []*PendingRequest
}

func newPendingHeap() *pendingHeap {
	return &pendingHeap{}
}

func (h *pendingHeap) Len() int { return len(h.items) }

func (h *pendingHeap) Less(i, j int) bool {
	return h.items[i].Deadline.Before(h.items[j].Deadline)
}

func (h *pendingHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}

func (h *pendingHeap) Push(x any) {
	req := x.(*PendingRequest)
	req.heapIndex = len(h.items)
	h.items = append(h.items, req)
}

func (h *pendingHeap) Pop() any {
	old := h.items
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.heapIndex = -1
	h.items = old[:n-1]
	return req
}
