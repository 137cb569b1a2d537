package scorer

import (
	"container/heap"
	"sort"
)

// Ranked is a scored item; Index is free for the caller to point back at its own data.
type Ranked struct {
	ID    string
	Score float64
	Index int
}

// Before reports whether a ranks ahead of b: higher score first, then lower id.
func Before(a, b Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// TopK keeps the k best items seen so far in a heap whose root is the worst kept item,
// so n pushes cost O(n log k).
type TopK struct {
	k     int
	items rankedHeap
}

func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, items: make(rankedHeap, 0, min(k, 1024))}
}

// Push offers r and reports the item that is no longer kept as a result, which may be r
// itself. ok is false when nothing was dropped.
func (t *TopK) Push(r Ranked) (dropped Ranked, ok bool) {
	if t.k == 0 {
		return r, true
	}
	if len(t.items) < t.k {
		heap.Push(&t.items, r)
		return Ranked{}, false
	}
	if Before(r, t.items[0]) {
		dropped = t.items[0]
		t.items[0] = r
		heap.Fix(&t.items, 0)
		return dropped, true
	}
	return r, true
}

func (t *TopK) Len() int {
	return len(t.items)
}

// Sorted returns the kept items best first.
func (t *TopK) Sorted() []Ranked {
	out := make([]Ranked, len(t.items))
	copy(out, t.items)
	sort.Slice(out, func(i, j int) bool {
		return Before(out[i], out[j])
	})
	return out
}

// Window returns Sorted()[offset : offset+limit], clipped to what is available.
func (t *TopK) Window(offset, limit int) []Ranked {
	sorted := t.Sorted()
	if offset >= len(sorted) {
		return nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end]
}

type rankedHeap []Ranked

func (h rankedHeap) Len() int { return len(h) }

// Less puts the worst-ranked item at the root.
func (h rankedHeap) Less(i, j int) bool { return Before(h[j], h[i]) }

func (h rankedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rankedHeap) Push(x any) { *h = append(*h, x.(Ranked)) }

func (h *rankedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
