package hnsw

import (
	"sort"
)

// Result is a search hit
type Result struct {
	Key      uint64  // Item key
	Distance float32 // Distance to the query vector
}

// Search returns up to k items closest to query, closest first. Equal
// distances are ordered by key.
//
// efSearch is the size of the dynamic candidate list; higher values give
// better recall at the cost of speed. It is raised to k+1. When the graph
// holds no more than efSearch items, or the k-th candidate ties the last one
// in a full list, every item is compared directly and the result is exact.
func (g *Graph[V]) Search(query V, k int, efSearch int) []Result {
	if k <= 0 {
		return []Result{}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint == nil {
		return []Result{}
	}
	if k >= len(g.nodes) {
		return g.exactLocked(query, k)
	}
	efSearch = max(efSearch, k+1)
	if len(g.nodes) <= efSearch {
		return g.exactLocked(query, k)
	}

	// Phase 1: greedy descent to layer 1
	ep := g.entryPoint
	currentDist := g.distanceToNode(query, ep)
	for lc := g.maxLayer; lc > 0; lc-- {
		ep, currentDist = g.greedyClosest(query, ep, currentDist, lc)
	}

	// Phase 2: beam search on layer 0
	candidates := g.searchLayer(query, ep, efSearch, 0, make(map[uint64]bool))

	// The tie may continue past the list, where smaller keys can hide
	if len(candidates) == efSearch && candidates[k-1].distance == candidates[efSearch-1].distance {
		return g.exactLocked(query, k)
	}

	n := min(k, len(candidates))
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		results[i] = Result{Key: candidates[i].key, Distance: candidates[i].distance}
	}
	return results
}

// exactLocked compares query against every item
func (g *Graph[V]) exactLocked(query V, k int) []Result {
	items := make([]heapItem, 0, len(g.nodes))
	for key, node := range g.nodes {
		items = append(items, heapItem{key: key, distance: g.distanceToNode(query, node)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].less(items[j]) })

	n := min(k, len(items))
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		results[i] = Result{Key: items[i].key, Distance: items[i].distance}
	}
	return results
}

// Delete removes the item stored under key and reports whether it existed.
// Former neighbors are relinked among themselves so the graph stays
// navigable.
func (g *Graph[V]) Delete(key uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deleteLocked(key)
}

func (g *Graph[V]) deleteLocked(key uint64) bool {
	node := g.nodes[key]
	if node == nil {
		return false
	}
	delete(g.nodes, key)

	for layer := 0; layer <= node.level; layer++ {
		former := node.neighbors[layer]
		for _, neighborKey := range former {
			neighborNode := g.nodes[neighborKey]
			if neighborNode == nil {
				continue
			}
			neighborNode.removeNeighbor(layer, key)

			// Offer the deleted node's other neighbors as replacements
			for _, candidate := range former {
				if candidate == neighborKey {
					continue
				}
				if c := g.nodes[candidate]; c != nil && c.level >= layer {
					neighborNode.addNeighbor(layer, candidate)
				}
			}
			g.pruneNeighbors(neighborNode, layer)
		}
	}

	// Links into the deleted node from nodes it did not point back to
	for _, other := range g.nodes {
		for layer := 0; layer <= min(other.level, node.level); layer++ {
			other.removeNeighbor(layer, key)
		}
	}

	if g.entryPoint == node {
		g.entryPoint = nil
		g.maxLayer = -1
		for _, n := range g.nodes {
			if n.level > g.maxLayer || (n.level == g.maxLayer && n.key < g.entryPoint.key) {
				g.entryPoint = n
				g.maxLayer = n.level
			}
		}
	}

	return true
}

// Clear removes every item
func (g *Graph[V]) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[uint64]*Node[V])
	g.entryPoint = nil
	g.maxLayer = -1
}
