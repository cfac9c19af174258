// Package hnsw implements a Hierarchical Navigable Small World graph over an
// arbitrary vector representation.
//
// The graph is generic in the stored vector type so the same structure serves
// raw float32 embeddings and packed binary codes; callers supply the distance
// function for their representation. Items are addressed by caller-chosen
// uint64 keys.
//
// Writers are expected to be serialized by the caller. Searches may run
// concurrently with each other and are excluded from writes by an internal
// RWMutex.
package hnsw

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DistanceFunc calculates the distance between two stored vectors
type DistanceFunc[V any] func(a, b V) float32

// Config holds configuration for creating a new Graph
type Config struct {
	M              int   // Bi-directional links per node (typical: 16-32)
	EfConstruction int   // Size of candidate list during insertion (typical: 200)
	Seed           int64 // Level generator seed, 0 seeds from the clock
}

// DefaultConfig returns a configuration with recommended default values
func DefaultConfig() Config {
	return Config{
		M:              16,
		EfConstruction: 200,
	}
}

// Graph is an HNSW graph
type Graph[V any] struct {
	m              int     // Maximum connections per layer (except layer 0)
	m0             int     // Maximum connections for layer 0
	efConstruction int     // Candidate list size during construction
	ml             float64 // Normalization factor for level generation
	distanceFunc   DistanceFunc[V]

	nodes      map[uint64]*Node[V]
	entryPoint *Node[V]
	maxLayer   int

	mu   sync.RWMutex
	rand *rand.Rand
}

// New creates an empty graph
func New[V any](config Config, fn DistanceFunc[V]) *Graph[V] {
	if config.M < 2 {
		config.M = 16
	}
	if config.EfConstruction <= 0 {
		config.EfConstruction = 200
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Graph[V]{
		m:              config.M,
		m0:             config.M * 2,
		efConstruction: config.EfConstruction,
		// ml = 1/ln(M) gives exponentially fewer nodes per higher layer
		ml:           1.0 / math.Log(float64(config.M)),
		distanceFunc: fn,
		nodes:        make(map[uint64]*Node[V]),
		maxLayer:     -1,
		rand:         rand.New(rand.NewSource(seed)),
	}
}

// randomLevel draws floor(-ln(U) * ml)
func (g *Graph[V]) randomLevel() int {
	return int(math.Floor(-math.Log(1-g.rand.Float64()) * g.ml))
}

// Len returns the number of items in the graph
func (g *Graph[V]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Get returns the vector stored under key
func (g *Graph[V]) Get(key uint64) (V, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[key]
	if !ok {
		var zero V
		return zero, false
	}
	return node.vector, true
}

// Stats describes the shape of the graph
type Stats struct {
	Size           int
	MaxLayer       int
	M              int
	M0             int
	EfConstruction int
	NodesPerLayer  map[int]int
}

// GetStats returns current graph statistics
func (g *Graph[V]) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodesPerLayer := make(map[int]int)
	for _, node := range g.nodes {
		for layer := 0; layer <= node.level; layer++ {
			nodesPerLayer[layer]++
		}
	}

	return Stats{
		Size:           len(g.nodes),
		MaxLayer:       g.maxLayer,
		M:              g.m,
		M0:             g.m0,
		EfConstruction: g.efConstruction,
		NodesPerLayer:  nodesPerLayer,
	}
}

func (g *Graph[V]) maxConnections(layer int) int {
	if layer == 0 {
		return g.m0
	}
	return g.m
}

func (g *Graph[V]) distanceToNode(vector V, node *Node[V]) float32 {
	return g.distanceFunc(vector, node.vector)
}
