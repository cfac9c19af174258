package vectorindex

import (
	"context"
	"errors"
	"iter"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

var (
	angular   = DistanceFor(distance.MetricAngular, false)
	euclidean = DistanceFor(distance.MetricEuclidean, false)
	binary    = DistanceFor(distance.MetricEuclidean, true)
)

func records(recs ...Record) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func newTestIndex(t *testing.T, dims int, dist Distance) *Index {
	t.Helper()
	opts := DefaultOptions()
	opts.HNSW.Seed = 42
	idx, err := New(dims, dist, opts)
	require.NoError(t, err)
	return idx
}

func TestDistanceFor(t *testing.T) {
	assert.Equal(t, Distance{Metric: distance.MetricEuclidean}, euclidean)
	assert.Equal(t, Distance{Metric: distance.MetricAngular, Quantized: true}, binary)
	assert.Equal(t, "angular", angular.String())
	assert.Equal(t, "binary quantized angular", binary.String())
}

func TestNew_RejectsInvalidDimensions(t *testing.T) {
	_, err := New(0, angular, Options{})
	assert.Error(t, err)
}

func TestInsertAndVectors(t *testing.T) {
	idx := newTestIndex(t, 3, angular)

	require.NoError(t, idx.Insert(0, []float32{-1.2, -2.3, 3.2}))
	require.NoError(t, idx.Insert(1, []float32{2.5, 1.5, -130}, []float32{1, 1, 1}))

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 3, idx.VectorCount())
	assert.True(t, idx.Contains(1))

	vecs, ok := idx.Vectors(1)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{2.5, 1.5, -130}, {1, 1, 1}}, vecs)

	// Replace with fewer vectors
	require.NoError(t, idx.Insert(1, []float32{0, 0, 1}))
	assert.Equal(t, 2, idx.VectorCount())
	vecs, _ = idx.Vectors(1)
	assert.Equal(t, [][]float32{{0, 0, 1}}, vecs)

	docs := idx.Documents()
	assert.Equal(t, []uint32{0, 1}, docs.ToArray())
}

func TestInsert_Quantized(t *testing.T) {
	idx := newTestIndex(t, 3, binary)

	require.NoError(t, idx.Insert(0, []float32{-1.2, -2.3, 3.2}))
	require.NoError(t, idx.Insert(1, []float32{2.5, 1.5, -130}))

	v0, _ := idx.Vectors(0)
	v1, _ := idx.Vectors(1)
	assert.Equal(t, [][]float32{{-1, -1, 1}}, v0)
	assert.Equal(t, [][]float32{{1, 1, -1}}, v1)
}

func TestInsert_DimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 3, angular)
	require.NoError(t, idx.Insert(0, []float32{1, 2, 3}))
	gen := idx.Generation()

	err := idx.Insert(0, []float32{1, 2, 3}, []float32{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, vecerr.ErrDimensionMismatch)

	var dm *vecerr.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	// Previous vectors untouched
	vecs, ok := idx.Vectors(0)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{1, 2, 3}}, vecs)
	assert.Equal(t, gen, idx.Generation())
}

func TestRemove(t *testing.T) {
	idx := newTestIndex(t, 2, euclidean)
	require.NoError(t, idx.Insert(5, []float32{1, 1}))

	assert.False(t, idx.Remove(6))
	assert.True(t, idx.Remove(5))
	assert.False(t, idx.Remove(5))
	assert.Zero(t, idx.Len())
	assert.Zero(t, idx.VectorCount())

	_, ok := idx.Vectors(5)
	assert.False(t, ok)
}

func TestSearch_OrderAndTies(t *testing.T) {
	idx := newTestIndex(t, 2, euclidean)
	require.NoError(t, idx.Insert(3, []float32{1, 0}))
	require.NoError(t, idx.Insert(1, []float32{-1, 0}))
	require.NoError(t, idx.Insert(2, []float32{0, 3}))
	require.NoError(t, idx.Insert(7, []float32{0, -1}))

	hits, err := idx.Search([]float32{0, 0}, 3, euclidean)
	require.NoError(t, err)
	assert.False(t, hits.QueryQuantized())

	got := hits.Collect()
	assert.Equal(t, []Hit{
		{DocumentID: 1, Distance: 1},
		{DocumentID: 3, Distance: 1},
		{DocumentID: 7, Distance: 1},
	}, got)

	// Consumed once
	_, ok := hits.Next()
	assert.False(t, ok)
	assert.Empty(t, hits.Collect())
}

func TestSearch_FewerThanK(t *testing.T) {
	idx := newTestIndex(t, 2, euclidean)
	require.NoError(t, idx.Insert(1, []float32{1, 1}))

	hits, err := idx.Search([]float32{0, 0}, 10, euclidean)
	require.NoError(t, err)
	assert.Len(t, hits.Collect(), 1)

	hits, err = idx.Search([]float32{0, 0}, 0, euclidean)
	require.NoError(t, err)
	assert.Empty(t, hits.Collect())
}

func TestSearch_HugeK(t *testing.T) {
	idx := newTestIndex(t, 1, euclidean)
	require.NoError(t, idx.Insert(1, []float32{10}, []float32{0.5}))
	require.NoError(t, idx.Insert(2, []float32{1}))

	hits, err := idx.Search([]float32{0}, math.MaxInt, euclidean)
	require.NoError(t, err)
	assert.Equal(t, []Hit{
		{DocumentID: 1, Distance: 0.5},
		{DocumentID: 2, Distance: 1},
	}, hits.Collect())
}

func TestSearch_TiesOnGraphPath(t *testing.T) {
	idx := newTestIndex(t, 4, binary)
	for doc := 399; doc >= 0; doc-- {
		require.NoError(t, idx.Insert(uint32(doc), []float32{0.5, 0.5, -0.5, 0.5}))
	}

	hits, err := idx.Search([]float32{0.5, 0.5, -0.5, 0.5}, 3, binary)
	require.NoError(t, err)
	assert.Equal(t, []Hit{
		{DocumentID: 0, Distance: 0},
		{DocumentID: 1, Distance: 0},
		{DocumentID: 2, Distance: 0},
	}, hits.Collect())
}

func TestSearch_MultipleVectorsPerDocument(t *testing.T) {
	idx := newTestIndex(t, 1, euclidean)
	require.NoError(t, idx.Insert(1, []float32{10}, []float32{0.5}))
	require.NoError(t, idx.Insert(2, []float32{1}))

	hits, err := idx.Search([]float32{0}, 2, euclidean)
	require.NoError(t, err)
	assert.Equal(t, []Hit{
		{DocumentID: 1, Distance: 0.5},
		{DocumentID: 2, Distance: 1},
	}, hits.Collect())
}

func TestSearch_QuantizesQuery(t *testing.T) {
	idx := newTestIndex(t, 3, binary)
	require.NoError(t, idx.Insert(0, []float32{-1.2, -2.3, 3.2}))
	require.NoError(t, idx.Insert(1, []float32{2.5, 1.5, -130}))

	hits, err := idx.Search([]float32{-0.1, -9, 4}, 2, binary)
	require.NoError(t, err)
	assert.True(t, hits.QueryQuantized())

	first, ok := hits.Next()
	require.True(t, ok)
	assert.Equal(t, Hit{DocumentID: 0, Distance: 0}, first)
	second, ok := hits.Next()
	require.True(t, ok)
	assert.Equal(t, Hit{DocumentID: 1, Distance: 2}, second)
}

func TestSearch_DistanceMismatch(t *testing.T) {
	idx := newTestIndex(t, 3, binary)
	require.NoError(t, idx.Insert(0, []float32{1, 2, 3}))

	_, err := idx.Search([]float32{1, 2, 3}, 1, angular)
	require.Error(t, err)
	assert.ErrorIs(t, err, vecerr.ErrDistanceMetricMismatch)

	var dm *vecerr.DistanceMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, "angular", dm.Expected)
	assert.Equal(t, "binary quantized angular", dm.Actual)
}

func TestSearch_WrongQueryLength(t *testing.T) {
	idx := newTestIndex(t, 3, angular)
	_, err := idx.Search([]float32{1}, 1, angular)
	assert.ErrorIs(t, err, vecerr.ErrDimensionMismatch)
}

func TestClear_KeepsShape(t *testing.T) {
	idx := newTestIndex(t, 3, binary)
	require.NoError(t, idx.Insert(0, []float32{1, 2, 3}))
	idx.Clear()

	assert.Zero(t, idx.Len())
	assert.Equal(t, 3, idx.Dimensions())
	assert.Equal(t, binary, idx.Distance())

	hits, err := idx.Search([]float32{1, 2, 3}, 5, binary)
	require.NoError(t, err)
	assert.Empty(t, hits.Collect())

	// Still usable
	require.NoError(t, idx.Insert(0, []float32{1, -2, 3}))
	assert.Equal(t, 1, idx.Len())
}

func TestRebuildFrom_Quantizes(t *testing.T) {
	idx := newTestIndex(t, 3, angular)
	raw := []Record{
		{DocumentID: 0, Vectors: [][]float32{{-1.2, -2.3, 3.2}}},
		{DocumentID: 1, Vectors: [][]float32{{2.5, 1.5, -130}}},
	}
	for _, r := range raw {
		require.NoError(t, idx.Insert(r.DocumentID, r.Vectors...))
	}

	require.NoError(t, idx.RebuildFrom(context.Background(), 3, binary, records(raw...)))

	assert.Equal(t, binary, idx.Distance())
	assert.Equal(t, 2, idx.Len())
	v0, _ := idx.Vectors(0)
	v1, _ := idx.Vectors(1)
	assert.Equal(t, [][]float32{{-1, -1, 1}}, v0)
	assert.Equal(t, [][]float32{{1, 1, -1}}, v1)
}

func TestRebuildFrom_FailureLeavesIndexUnchanged(t *testing.T) {
	idx := newTestIndex(t, 3, angular)
	require.NoError(t, idx.Insert(0, []float32{-1.2, -2.3, 3.2}))
	gen := idx.Generation()

	err := idx.RebuildFrom(context.Background(), 3, binary, records(
		Record{DocumentID: 0, Vectors: [][]float32{{-1.2, -2.3, 3.2}}},
		Record{DocumentID: 1, Vectors: [][]float32{{1, 2}}},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, vecerr.ErrDimensionMismatch)

	assert.Equal(t, angular, idx.Distance())
	assert.Equal(t, gen, idx.Generation())
	v0, _ := idx.Vectors(0)
	assert.Equal(t, [][]float32{{-1.2, -2.3, 3.2}}, v0)
	assert.False(t, idx.Contains(1))
}

func TestRebuildFrom_SourceError(t *testing.T) {
	idx := newTestIndex(t, 2, angular)
	boom := errors.New("read failed")

	err := idx.RebuildFrom(context.Background(), 2, binary, func(yield func(Record, error) bool) {
		if !yield(Record{DocumentID: 1, Vectors: [][]float32{{1, 1}}}, nil) {
			return
		}
		yield(Record{}, boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, angular, idx.Distance())
}

func TestRebuildFrom_DuplicatesAndChunks(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSize = 3
	opts.Workers = 2
	idx, err := New(2, euclidean, opts)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	var recs []Record
	for i := 0; i < 20; i++ {
		recs = append(recs, Record{DocumentID: uint32(i), Vectors: [][]float32{{rng.Float32(), rng.Float32()}}})
	}
	// Later occurrence wins, in another chunk
	recs = append(recs, Record{DocumentID: 2, Vectors: [][]float32{{9, 9}}})
	// Record without vectors is skipped
	recs = append(recs, Record{DocumentID: 50})

	require.NoError(t, idx.RebuildFrom(context.Background(), 2, euclidean, records(recs...)))
	assert.Equal(t, 20, idx.Len())
	assert.Equal(t, 20, idx.VectorCount())
	v, _ := idx.Vectors(2)
	assert.Equal(t, [][]float32{{9, 9}}, v)
}

func TestBuild_PublishDetectsConcurrentWrite(t *testing.T) {
	idx := newTestIndex(t, 2, euclidean)

	b, err := idx.Prepare(context.Background(), 2, binary, records(Record{DocumentID: 1, Vectors: [][]float32{{1, 1}}}))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, binary, b.Distance())

	require.NoError(t, idx.Insert(2, []float32{0, 0}))
	assert.ErrorIs(t, b.Publish(), ErrConcurrentWrite)
	assert.Equal(t, euclidean, idx.Distance())
}

func TestBuild_Rollback(t *testing.T) {
	idx := newTestIndex(t, 2, euclidean)

	b, err := idx.Prepare(context.Background(), 4, binary, records())
	require.NoError(t, err)
	b.Rollback()
	assert.Error(t, b.Publish())
	assert.Equal(t, 2, idx.Dimensions())
	assert.Equal(t, euclidean, idx.Distance())
}

func TestIDsAreUnique(t *testing.T) {
	a := newTestIndex(t, 1, angular)
	b := newTestIndex(t, 1, angular)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestHitsFrom(t *testing.T) {
	hits := HitsFrom([]Hit{{DocumentID: 2, Distance: 0.5}, {DocumentID: 1, Distance: 0.1}}, true)
	assert.True(t, hits.QueryQuantized())
	assert.Equal(t, 2, hits.Remaining())
	assert.Equal(t, []Hit{{DocumentID: 1, Distance: 0.1}, {DocumentID: 2, Distance: 0.5}}, hits.Collect())
}

func TestInsertBatch_AllOrNothing(t *testing.T) {
	idx := newTestIndex(t, 2, binary)
	require.NoError(t, idx.Insert(1, []float32{1, 1}))
	gen := idx.Generation()

	err := idx.InsertBatch(context.Background(), []Record{
		{DocumentID: 2, Vectors: [][]float32{{-1, 1}}},
		{DocumentID: 3, Vectors: [][]float32{{1}}},
	})
	require.ErrorIs(t, err, vecerr.ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())
	assert.False(t, idx.Contains(2))
	assert.Equal(t, gen, idx.Generation())

	require.NoError(t, idx.InsertBatch(context.Background(), []Record{
		{DocumentID: 1},
		{DocumentID: 2, Vectors: [][]float32{{-1, 1}}},
		{DocumentID: 3, Vectors: [][]float32{{0.5, -3}}},
	}))
	assert.False(t, idx.Contains(1), "a record without vectors removes the document")
	assert.Equal(t, 2, idx.Len())
	assert.Greater(t, idx.Generation(), gen)

	vecs, ok := idx.Vectors(3)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{1, -1}}, vecs)
}

func TestInsertBatch_CancelledKeepsPreviousVectors(t *testing.T) {
	idx := newTestIndex(t, 2, euclidean)
	require.NoError(t, idx.Insert(1, []float32{1, 2}))
	gen := idx.Generation()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := idx.InsertBatch(ctx, []Record{{DocumentID: 1, Vectors: [][]float32{{3, 4}}}})
	require.ErrorIs(t, err, context.Canceled)

	vecs, ok := idx.Vectors(1)
	require.True(t, ok)
	assert.Equal(t, [][]float32{{1, 2}}, vecs)
	assert.Equal(t, gen, idx.Generation())
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, float32(1), newTestIndex(t, 768, angular).CompressionRatio())
	// 768 floats in 12 packed words
	assert.Equal(t, float32(32), newTestIndex(t, 768, binary).CompressionRatio())
}
