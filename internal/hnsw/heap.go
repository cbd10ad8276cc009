package hnsw

import "container/heap"

// maxHeap pops the highest-similarity ScoredID first; used for the
// unexplored-candidate frontier in searchLayer.
type maxHeap []ScoredID

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].Score > h[j].Score }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(ScoredID)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func pushMax(h *maxHeap, s ScoredID) { heap.Push(h, s) }
func popMax(h *maxHeap) ScoredID     { return heap.Pop(h).(ScoredID) }

// minHeap pops the lowest-similarity ScoredID first; used to keep the
// bounded best-so-far set in searchLayer, evicting the current worst
// when the set exceeds ef.
type minHeap []ScoredID

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(ScoredID)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func pushMin(h *minHeap, s ScoredID) { heap.Push(h, s) }
func popMin(h *minHeap) ScoredID     { return heap.Pop(h).(ScoredID) }
