package vectorindex

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
)

// Compares the float and the binary quantized index over the same data:
// recall against exact angular neighbors, and search speed.

const (
	benchVectorDim  = 128
	benchNumVectors = 2000
	benchNumQueries = 50
	benchK          = 10
)

func generateRandomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vectors[i] = v
	}
	return vectors
}

func computeGroundTruth(queries, database [][]float32, k int) [][]uint32 {
	truth := make([][]uint32, len(queries))
	for qi, q := range queries {
		type candidate struct {
			id   uint32
			dist float32
		}
		candidates := make([]candidate, len(database))
		for i, v := range database {
			candidates[i] = candidate{id: uint32(i), dist: distance.CosineDistance(q, v)}
		}
		sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
		for _, c := range candidates[:k] {
			truth[qi] = append(truth[qi], c.id)
		}
	}
	return truth
}

func computeRecall(truth []uint32, hits []Hit) float32 {
	want := make(map[uint32]bool, len(truth))
	for _, id := range truth {
		want[id] = true
	}
	found := 0
	for _, h := range hits {
		if want[h.DocumentID] {
			found++
		}
	}
	return float32(found) / float32(len(truth))
}

func buildBenchIndex(tb testing.TB, dist Distance, database [][]float32) *Index {
	tb.Helper()
	opts := DefaultOptions()
	opts.HNSW.Seed = 7
	idx, err := New(benchVectorDim, dist, opts)
	require.NoError(tb, err)

	batch := make([]Record, len(database))
	for i, v := range database {
		batch[i] = Record{DocumentID: uint32(i), Vectors: [][]float32{v}}
	}
	require.NoError(tb, idx.InsertBatch(context.Background(), batch))
	return idx
}

func TestQuantizedRecall(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping recall comparison in short mode")
	}

	rng := rand.New(rand.NewSource(1))
	database := generateRandomVectors(rng, benchNumVectors, benchVectorDim)
	queries := generateRandomVectors(rng, benchNumQueries, benchVectorDim)
	truth := computeGroundTruth(queries, database, benchK)

	recall := func(dist Distance) float32 {
		idx := buildBenchIndex(t, dist, database)
		var total float32
		for qi, q := range queries {
			hits, err := idx.Search(q, benchK, dist)
			require.NoError(t, err)
			total += computeRecall(truth[qi], hits.Collect())
		}
		return total / float32(len(queries))
	}

	exact := recall(angular)
	quantized := recall(binary)
	t.Logf("recall@%d angular=%.3f binary quantized=%.3f", benchK, exact, quantized)

	assert.Greater(t, exact, float32(0.8))
	assert.LessOrEqual(t, quantized, exact+0.05)
}

func benchmarkSearch(b *testing.B, dist Distance) {
	rng := rand.New(rand.NewSource(1))
	database := generateRandomVectors(rng, benchNumVectors, benchVectorDim)
	queries := generateRandomVectors(rng, benchNumQueries, benchVectorDim)
	idx := buildBenchIndex(b, dist, database)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hits, err := idx.Search(queries[i%len(queries)], benchK, dist)
		if err != nil {
			b.Fatal(err)
		}
		hits.Collect()
	}
}

func BenchmarkSearch_Angular(b *testing.B) { benchmarkSearch(b, angular) }

func BenchmarkSearch_BinaryQuantized(b *testing.B) { benchmarkSearch(b, binary) }

func BenchmarkRebuild_BinaryQuantized(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	database := generateRandomVectors(rng, benchNumVectors, benchVectorDim)
	batch := make([]Record, len(database))
	for i, v := range database {
		batch[i] = Record{DocumentID: uint32(i), Vectors: [][]float32{v}}
	}
	idx := buildBenchIndex(b, angular, database)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := idx.RebuildFrom(context.Background(), benchVectorDim, binary, records(batch...)); err != nil {
			b.Fatal(err)
		}
	}
}
