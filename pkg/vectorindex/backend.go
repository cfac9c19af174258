package vectorindex

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/embedstore/internal/quantization"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/hnsw"
)

// backend stores encoded vectors under item keys. It hides the stored
// representation (raw floats or sign bits) from the index.
type backend interface {
	// prepare encodes vectors in parallel. The returned insert adds them
	// under keys; nothing is stored until it is called.
	prepare(ctx context.Context, keys []uint64, vectors [][]float32, workers int) (insert func(), err error)
	remove(keys []uint64)
	search(query []float32, k, ef int) []hnsw.Result
	// vector returns the stored form of key expanded to floats
	vector(key uint64) ([]float32, bool)
	len() int
	clear()
	stats() hnsw.Stats
}

type typedBackend[V any] struct {
	graph  *hnsw.Graph[V]
	encode func([]float32) V
	decode func(V) []float32
}

func newBackend(dist Distance, config hnsw.Config) (backend, error) {
	if dist.Quantized {
		return &typedBackend[quantization.BitVector]{
			graph:  hnsw.New[quantization.BitVector](config, quantization.AngularDistance),
			encode: quantization.Quantize,
			decode: quantization.BitVector.Floats,
		}, nil
	}

	fn, err := distance.Provider(dist.Metric)
	if err != nil {
		return nil, err
	}
	return &typedBackend[[]float32]{
		graph:  hnsw.New[[]float32](config, hnsw.DistanceFunc[[]float32](fn)),
		encode: cloneVector,
		decode: cloneVector,
	}, nil
}

func (b *typedBackend[V]) prepare(ctx context.Context, keys []uint64, vectors [][]float32, workers int) (func(), error) {
	items := make([]hnsw.Item[V], len(vectors))
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	stride := (len(vectors) + workers - 1) / workers
	for start := 0; start < len(vectors); start += stride {
		end := min(start+stride, len(vectors))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				items[i] = hnsw.Item[V]{Key: keys[i], Vector: b.encode(vectors[i])}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return func() { b.graph.InsertBatch(items, nil) }, nil
}

func (b *typedBackend[V]) remove(keys []uint64) {
	b.graph.DeleteBatch(keys, nil)
}

func (b *typedBackend[V]) search(query []float32, k, ef int) []hnsw.Result {
	return b.graph.Search(b.encode(query), k, ef)
}

func (b *typedBackend[V]) vector(key uint64) ([]float32, bool) {
	v, ok := b.graph.Get(key)
	if !ok {
		return nil, false
	}
	return b.decode(v), true
}

func (b *typedBackend[V]) len() int {
	return b.graph.Len()
}

func (b *typedBackend[V]) clear() {
	b.graph.Clear()
}

func (b *typedBackend[V]) stats() hnsw.Stats {
	return b.graph.GetStats()
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
