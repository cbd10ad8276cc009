package query

import (
	"container/heap"
	"sort"
)

// Match is one scored result from Search.
type Match struct {
	InternalID int64
	Score      float32
}

// topKHeap is a bounded min-heap keyed by (score asc, id desc) so the
// worst-ranked entry (lowest score, breaking ties by higher id) sits at
// the root and is the first evicted when a better match arrives.
type topKHeap struct {
	limit int
	items []Match
}

func newTopKHeap(limit int) *topKHeap {
	return &topKHeap{limit: limit}
}

func (h *topKHeap) Len() int { return len(h.items) }
func (h *topKHeap) Less(i, j int) bool {
	if h.items[i].Score != h.items[j].Score {
		return h.items[i].Score < h.items[j].Score
	}
	return h.items[i].InternalID > h.items[j].InternalID
}
func (h *topKHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topKHeap) Push(x any)    { h.items = append(h.items, x.(Match)) }
func (h *topKHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// offer admits m if the heap isn't yet full or m outranks the current
// worst-kept match.
func (h *topKHeap) offer(m Match) {
	if h.limit <= 0 {
		return
	}
	if h.Len() < h.limit {
		heap.Push(h, m)
		return
	}
	worst := h.items[0]
	if m.Score > worst.Score || (m.Score == worst.Score && m.InternalID < worst.InternalID) {
		h.items[0] = m
		heap.Fix(h, 0)
	}
}

// sorted drains the heap into descending-score order (ties broken by
// ascending id, the mirror of the heap's internal ordering).
func (h *topKHeap) sorted() []Match {
	out := make([]Match, len(h.items))
	copy(out, h.items)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].InternalID < out[j].InternalID
	})
	return out
}
