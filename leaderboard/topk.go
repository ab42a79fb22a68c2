package leaderboard

import (
	"container/heap"
	"slices"
)

// topK keeps the n best-ranked entries seen so far. The heap root is the
// worst of the kept entries so a better candidate can replace it in O(log n).
type topK struct {
	n int
	h entryHeap
}

func newTopK(n int) *topK {
	return &topK{n: n, h: make(entryHeap, 0, n)}
}

func (t *topK) offer(e Entry) {
	if t.n <= 0 {
		return
	}
	if len(t.h) < t.n {
		heap.Push(&t.h, e)
		return
	}
	if e.Compare(t.h[0]) < 0 {
		t.h[0] = e
		heap.Fix(&t.h, 0)
	}
}

// ranked returns the kept entries best first.
func (t *topK) ranked() []Entry {
	out := slices.Clone([]Entry(t.h))
	slices.SortFunc(out, Entry.Compare)
	return out
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

// Less inverts ranking order so the worst entry sits at the root.
func (h entryHeap) Less(i, j int) bool { return h[i].Compare(h[j]) > 0 }

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
