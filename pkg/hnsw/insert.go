package hnsw

import (
	"container/heap"
	"sort"
)

// Insert adds vector under key. An existing item with the same key is
// replaced.
func (g *Graph[V]) Insert(key uint64, vector V) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[key]; exists {
		g.deleteLocked(key)
	}
	g.insertLocked(key, vector)
}

func (g *Graph[V]) insertLocked(key uint64, vector V) {
	level := g.randomLevel()
	newNode := NewNode(key, vector, level)

	if g.entryPoint == nil {
		g.nodes[key] = newNode
		g.entryPoint = newNode
		g.maxLayer = level
		return
	}

	// Phase 1: greedy descent from the top layer to level+1
	ep := g.entryPoint
	currentDist := g.distanceToNode(vector, ep)
	for lc := g.maxLayer; lc > level; lc-- {
		ep, currentDist = g.greedyClosest(vector, ep, currentDist, lc)
	}

	// Phase 2: link to the closest candidates on every layer from level down to 0
	g.nodes[key] = newNode
	for lc := min(level, g.maxLayer); lc >= 0; lc-- {
		candidates := g.searchLayer(vector, ep, g.efConstruction, lc, map[uint64]bool{key: true})

		for _, neighborKey := range g.selectNeighbors(candidates, g.maxConnections(lc)) {
			neighborNode := g.nodes[neighborKey]
			if neighborNode == nil {
				continue
			}
			newNode.addNeighbor(lc, neighborKey)
			neighborNode.addNeighbor(lc, key)
			g.pruneNeighbors(neighborNode, lc)
		}

		if len(candidates) > 0 {
			ep = g.nodes[candidates[0].key]
		}
	}

	if level > g.maxLayer {
		g.maxLayer = level
		g.entryPoint = newNode
	}
}

// greedyClosest walks layer from ep towards vector while the distance improves
func (g *Graph[V]) greedyClosest(vector V, ep *Node[V], currentDist float32, layer int) (*Node[V], float32) {
	changed := true
	for changed {
		changed = false
		for _, neighborKey := range ep.neighbors[layer] {
			neighborNode := g.nodes[neighborKey]
			if neighborNode == nil {
				continue
			}
			if dist := g.distanceToNode(vector, neighborNode); dist < currentDist {
				currentDist = dist
				ep = neighborNode
				changed = true
			}
		}
	}
	return ep, currentDist
}

// searchLayer returns up to ef nodes closest to query at layer, closest first.
// Keys already in visited are never returned.
func (g *Graph[V]) searchLayer(query V, entryPoint *Node[V], ef int, layer int, visited map[uint64]bool) []heapItem {
	visited[entryPoint.key] = true
	candidates := &minHeap{}
	results := &maxHeap{}

	dist := g.distanceToNode(query, entryPoint)
	heap.Push(candidates, heapItem{key: entryPoint.key, distance: dist})
	heap.Push(results, heapItem{key: entryPoint.key, distance: dist})

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(heapItem)

		// Stop once the closest candidate ranks after the worst result
		if results.Len() >= ef && results.Peek().less(current) {
			break
		}

		currentNode := g.nodes[current.key]
		if currentNode == nil || layer > currentNode.level {
			continue
		}

		for _, neighborKey := range currentNode.neighbors[layer] {
			if visited[neighborKey] {
				continue
			}
			visited[neighborKey] = true

			neighborNode := g.nodes[neighborKey]
			if neighborNode == nil {
				continue
			}

			item := heapItem{key: neighborKey, distance: g.distanceToNode(query, neighborNode)}
			if results.Len() < ef || item.less(results.Peek()) {
				heap.Push(candidates, item)
				heap.Push(results, item)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]heapItem, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(heapItem)
	}
	return out
}

// selectNeighbors keeps the M closest candidates
func (g *Graph[V]) selectNeighbors(candidates []heapItem, m int) []uint64 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint64, len(candidates))
	for i, c := range candidates {
		out[i] = c.key
	}
	return out
}

// pruneNeighbors trims a node's adjacency at layer to its closest maxConnections
func (g *Graph[V]) pruneNeighbors(node *Node[V], layer int) {
	limit := g.maxConnections(layer)
	if len(node.neighbors[layer]) <= limit {
		return
	}
	node.setNeighbors(layer, g.closest(node.vector, node.neighbors[layer], limit))
}

// closest orders keys by distance to vector and keeps the first limit
func (g *Graph[V]) closest(vector V, keys []uint64, limit int) []uint64 {
	items := make([]heapItem, 0, len(keys))
	for _, k := range keys {
		if n := g.nodes[k]; n != nil {
			items = append(items, heapItem{key: k, distance: g.distanceToNode(vector, n)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].less(items[j]) })
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}

// heapItem is a key with its distance to the current query
type heapItem struct {
	key      uint64
	distance float32
}

// less orders by distance, then key, so equal distances resolve deterministically
func (h heapItem) less(o heapItem) bool {
	if h.distance != o.distance {
		return h.distance < o.distance
	}
	return h.key < o.key
}

// minHeap has the closest item at the top
type minHeap []heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// maxHeap has the farthest item at the top
type maxHeap []heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h maxHeap) Peek() heapItem {
	return h[0]
}
