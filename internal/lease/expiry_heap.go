package lease

import "container/heap"

// leaseEntry is one mirrored lease.
type leaseEntry struct {
	resourceID string
	rec        Record
	index      int
}

// expiryHeap orders entries soonest-expiring first, then oldest update.
// It backs both expiry pruning and capacity eviction; insertion order plays
// no part.
type expiryHeap []*leaseEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	a, b := h[i].rec, h[j].rec
	if a.ExpiresAtMs != b.ExpiresAtMs {
		return a.ExpiresAtMs < b.ExpiresAtMs
	}
	if a.UpdatedAtMs != b.UpdatedAtMs {
		return a.UpdatedAtMs < b.UpdatedAtMs
	}
	return h[i].resourceID < h[j].resourceID
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*leaseEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// peek returns the soonest-expiring entry without removing it.
func (h expiryHeap) peek() *leaseEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

var _ heap.Interface = (*expiryHeap)(nil)
