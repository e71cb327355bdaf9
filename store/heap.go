package store

import (
	"container/heap"
	"sort"
)

// BoundedHeap keeps the best limit items pushed into it. The item that
// would be dropped next sits at the root. A limit <= 0 keeps everything.
type BoundedHeap[T any] struct {
	items  []T
	limit  int
	better func(a, b T) bool
	// Dropped counts items rejected or pushed out.
	Dropped int
}

// NewBoundedHeap returns a heap ranking items with better, where
// better(a, b) reports that a belongs before b in the result.
func NewBoundedHeap[T any](limit int, better func(a, b T) bool) *BoundedHeap[T] {
	return &BoundedHeap[T]{limit: limit, better: better}
}

// worstFirst adapts the heap to container/heap with the worst item on top.
type worstFirst[T any] struct{ h *BoundedHeap[T] }

func (w worstFirst[T]) Len() int           { return len(w.h.items) }
func (w worstFirst[T]) Less(i, j int) bool { return w.h.better(w.h.items[j], w.h.items[i]) }
func (w worstFirst[T]) Swap(i, j int)      { w.h.items[i], w.h.items[j] = w.h.items[j], w.h.items[i] }
func (w worstFirst[T]) Push(x any)         { w.h.items = append(w.h.items, x.(T)) }
func (w worstFirst[T]) Pop() any {
	old := w.h.items
	n := len(old)
	x := old[n-1]
	var zero T
	old[n-1] = zero
	w.h.items = old[:n-1]
	return x
}

// Push offers x. It returns false when x ranks below every kept item of a
// full heap.
func (h *BoundedHeap[T]) Push(x T) bool {
	if h.limit <= 0 || len(h.items) < h.limit {
		heap.Push(worstFirst[T]{h}, x)
		return true
	}
	if !h.better(x, h.items[0]) {
		h.Dropped++
		return false
	}
	h.items[0] = x
	heap.Fix(worstFirst[T]{h}, 0)
	h.Dropped++
	return true
}

func (h *BoundedHeap[T]) Len() int { return len(h.items) }

// Full reports whether the next push has to displace an item.
func (h *BoundedHeap[T]) Full() bool {
	return h.limit > 0 && len(h.items) >= h.limit
}

// Worst returns the lowest ranked kept item.
func (h *BoundedHeap[T]) Worst() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Sorted returns the kept items best first. The heap is left empty.
func (h *BoundedHeap[T]) Sorted() []T {
	out := h.items
	h.items = nil
	sort.SliceStable(out, func(i, j int) bool { return h.better(out[i], out[j]) })
	return out
}
