package hnsw

// Node is one item in the graph with its per-layer adjacency lists.
// Nodes are only mutated while the owning graph's write lock is held.
type Node[V any] struct {
	key    uint64
	vector V
	level  int

	// neighbors[layer] holds neighbor keys; layer 0 contains every node
	neighbors [][]uint64
}

// NewNode creates a node with empty adjacency lists for layers 0..level
func NewNode[V any](key uint64, vector V, level int) *Node[V] {
	neighbors := make([][]uint64, level+1)
	for i := range neighbors {
		neighbors[i] = make([]uint64, 0)
	}

	return &Node[V]{
		key:       key,
		vector:    vector,
		level:     level,
		neighbors: neighbors,
	}
}

// Key returns the node's key
func (n *Node[V]) Key() uint64 {
	return n.key
}

// Vector returns the stored vector
func (n *Node[V]) Vector() V {
	return n.vector
}

// Level returns the highest layer this node appears in
func (n *Node[V]) Level() int {
	return n.level
}

// Neighbors returns a copy of the adjacency list at layer
func (n *Node[V]) Neighbors(layer int) []uint64 {
	if layer < 0 || layer > n.level {
		return []uint64{}
	}

	out := make([]uint64, len(n.neighbors[layer]))
	copy(out, n.neighbors[layer])
	return out
}

// HasNeighbor reports whether key is linked from this node at layer
func (n *Node[V]) HasNeighbor(layer int, key uint64) bool {
	if layer < 0 || layer > n.level {
		return false
	}
	for _, id := range n.neighbors[layer] {
		if id == key {
			return true
		}
	}
	return false
}

func (n *Node[V]) addNeighbor(layer int, key uint64) {
	if layer < 0 || layer > n.level || key == n.key || n.HasNeighbor(layer, key) {
		return
	}
	n.neighbors[layer] = append(n.neighbors[layer], key)
}

func (n *Node[V]) removeNeighbor(layer int, key uint64) {
	if layer < 0 || layer > n.level {
		return
	}

	list := n.neighbors[layer]
	for i, id := range list {
		if id == key {
			list[i] = list[len(list)-1]
			n.neighbors[layer] = list[:len(list)-1]
			return
		}
	}
}

func (n *Node[V]) setNeighbors(layer int, keys []uint64) {
	if layer < 0 || layer > n.level {
		return
	}
	n.neighbors[layer] = make([]uint64, len(keys))
	copy(n.neighbors[layer], keys)
}
