package hnsw

import (
	"math/rand"
	"testing"

	"github.com/therealutkarshpriyadarshi/embedstore/internal/quantization"
)

// TestInsertBatch tests batch insertion with progress reporting
func TestInsertBatch(t *testing.T) {
	g := newFloatGraph(21)
	rng := rand.New(rand.NewSource(21))
	vectors := randomVectors(rng, 100, 8)

	items := make([]Item[[]float32], len(vectors))
	for i, vec := range vectors {
		items[i] = Item[[]float32]{Key: uint64(i * 2), Vector: vec}
	}

	var lastProcessed, calls int
	g.InsertBatch(items, func(processed, total int) {
		calls++
		lastProcessed = processed
		if total != 100 {
			t.Errorf("Expected total 100, got %d", total)
		}
	})

	if g.Len() != 100 {
		t.Errorf("Expected 100 items, got %d", g.Len())
	}
	if calls != 100 || lastProcessed != 100 {
		t.Errorf("Progress callback: calls=%d last=%d", calls, lastProcessed)
	}
	if _, ok := g.Get(198); !ok {
		t.Error("Key 198 should be present")
	}

	g.InsertBatch(nil, nil)
	if g.Len() != 100 {
		t.Error("Empty batch should be a no-op")
	}
}

// TestInsertBatchDuplicateKeys tests that later items win
func TestInsertBatchDuplicateKeys(t *testing.T) {
	g := newFloatGraph(23)
	g.InsertBatch([]Item[[]float32]{
		{Key: 1, Vector: []float32{1}},
		{Key: 1, Vector: []float32{2}},
	}, nil)

	v, _ := g.Get(1)
	if g.Len() != 1 || v[0] != 2 {
		t.Errorf("Expected single item with vector [2], got len=%d v=%v", g.Len(), v)
	}
}

// TestDeleteBatch tests batch removal
func TestDeleteBatch(t *testing.T) {
	g := newFloatGraph(25)
	for i := 0; i < 10; i++ {
		g.Insert(uint64(i), []float32{float32(i)})
	}

	removed := g.DeleteBatch([]uint64{1, 2, 3, 42}, nil)
	if removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}
	if g.Len() != 7 {
		t.Errorf("Expected 7 items, got %d", g.Len())
	}
}

// TestBinaryGraph runs the graph over packed sign codes
func TestBinaryGraph(t *testing.T) {
	config := DefaultConfig()
	config.Seed = 27
	g := New[quantization.BitVector](config, quantization.AngularDistance)

	g.Insert(0, quantization.Quantize([]float32{-1.2, -2.3, 3.2}))
	g.Insert(1, quantization.Quantize([]float32{2.5, 1.5, -130}))

	results := g.Search(quantization.Quantize([]float32{-0.1, -0.1, 0.1}), 2, 10)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Key != 0 || results[0].Distance != 0 {
		t.Errorf("Expected exact match on key 0, got %v", results[0])
	}
	if results[1].Key != 1 || results[1].Distance != 2 {
		t.Errorf("Expected opposite vector at distance 2, got %v", results[1])
	}
}
