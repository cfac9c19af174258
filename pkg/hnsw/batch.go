package hnsw

// Item is a keyed vector for batch insertion
type Item[V any] struct {
	Key    uint64
	Vector V
}

// ProgressCallback is called during batch operations to report progress
type ProgressCallback func(processed, total int)

// InsertBatch inserts items in order under a single write lock. Later items
// replace earlier ones with the same key.
func (g *Graph[V]) InsertBatch(items []Item[V], progressCb ProgressCallback) {
	if len(items) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i, item := range items {
		if _, exists := g.nodes[item.Key]; exists {
			g.deleteLocked(item.Key)
		}
		g.insertLocked(item.Key, item.Vector)

		if progressCb != nil {
			progressCb(i+1, len(items))
		}
	}
}

// DeleteBatch removes keys and returns how many were present
func (g *Graph[V]) DeleteBatch(keys []uint64, progressCb ProgressCallback) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for i, key := range keys {
		if g.deleteLocked(key) {
			removed++
		}
		if progressCb != nil {
			progressCb(i+1, len(keys))
		}
	}
	return removed
}
