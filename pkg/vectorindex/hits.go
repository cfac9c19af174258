package vectorindex

import (
	"container/heap"
	"iter"
)

// Hit is a document and its distance to the query
type Hit struct {
	DocumentID uint32  `json:"id"`
	Distance   float32 `json:"distance"`
}

// Hits is a lazy, finite sequence of search hits ordered by distance, then
// document id. It can be consumed once.
type Hits struct {
	pending   hitHeap
	remaining int
	quantized bool
}

func newHits(hits []Hit, k int, quantized bool) *Hits {
	h := &Hits{pending: hitHeap(hits), remaining: min(k, len(hits)), quantized: quantized}
	heap.Init(&h.pending)
	return h
}

// HitsFrom wraps already ordered hits
func HitsFrom(hits []Hit, quantized bool) *Hits {
	return newHits(append([]Hit(nil), hits...), len(hits), quantized)
}

// QueryQuantized reports whether the query was quantized before comparison
func (h *Hits) QueryQuantized() bool {
	return h.quantized
}

// Remaining returns how many hits are left
func (h *Hits) Remaining() int {
	return h.remaining
}

// Next returns the next closest hit
func (h *Hits) Next() (Hit, bool) {
	if h.remaining == 0 {
		return Hit{}, false
	}
	h.remaining--
	return heap.Pop(&h.pending).(Hit), true
}

// All yields the remaining hits
func (h *Hits) All() iter.Seq[Hit] {
	return func(yield func(Hit) bool) {
		for {
			hit, ok := h.Next()
			if !ok || !yield(hit) {
				return
			}
		}
	}
}

// Collect drains the remaining hits into a slice
func (h *Hits) Collect() []Hit {
	out := make([]Hit, 0, h.remaining)
	for hit := range h.All() {
		out = append(out, hit)
	}
	return out
}

type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance < h[j].Distance
	}
	return h[i].DocumentID < h[j].DocumentID
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
