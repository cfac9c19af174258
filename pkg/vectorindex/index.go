// Package vectorindex implements the per-embedder vector index.
//
// An Index stores the vectors of every document for one embedder, either as
// raw float32 vectors or, when the index is binary quantized, as packed sign
// bits. Each document may hold several vectors; a document's distance to a
// query is the minimum over its vectors.
//
// Rebuilds are built aside: Prepare constructs a complete replacement
// structure without touching the live one, and Publish swaps it in under the
// write lock. Readers observe either the old or the new structure, never a
// mix.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/therealutkarshpriyadarshi/embedstore/internal/quantization"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/hnsw"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

// maxVectorsPerDocument bounds the ordinal part of an item key
const maxVectorsPerDocument = 1 << 16

var nextIndexID atomic.Uint64

// Distance describes how an index compares vectors
type Distance struct {
	Metric    distance.Metric
	Quantized bool
}

// DistanceFor returns the descriptor an index built for the given settings
// must have. Quantized indexes always use the codec's metric.
func DistanceFor(metric distance.Metric, quantized bool) Distance {
	if quantized {
		return Distance{Metric: quantization.MandatedMetric, Quantized: true}
	}
	return Distance{Metric: metric}
}

func (d Distance) String() string {
	if d.Quantized {
		return "binary quantized " + d.Metric.String()
	}
	return d.Metric.String()
}

// Options tunes the backing graph and the rebuild pass
type Options struct {
	HNSW      hnsw.Config
	EfSearch  int // Candidate list size for queries
	Workers   int // Parallel encoders during rebuild
	ChunkSize int // Records encoded per batch during rebuild
}

// DefaultOptions returns recommended defaults
func DefaultOptions() Options {
	return Options{
		HNSW:      hnsw.DefaultConfig(),
		EfSearch:  100,
		Workers:   4,
		ChunkSize: 1024,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.EfSearch <= 0 {
		o.EfSearch = def.EfSearch
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	return o
}

// Record is one document's vectors
type Record struct {
	DocumentID uint32
	Vectors    [][]float32
}

// structure is the swappable contents of an index
type structure struct {
	dims    int
	dist    Distance
	backend backend
	docs    *roaring.Bitmap
	counts  map[uint32]int // vectors per document
	widest  int            // largest vector count seen for one document
}

func newStructure(dims int, dist Distance, config hnsw.Config) (*structure, error) {
	b, err := newBackend(dist, config)
	if err != nil {
		return nil, err
	}
	return &structure{
		dims:    dims,
		dist:    dist,
		backend: b,
		docs:    roaring.New(),
		counts:  make(map[uint32]int),
	}, nil
}

func (s *structure) keys(doc uint32) []uint64 {
	n := s.counts[doc]
	keys := make([]uint64, n)
	for i := range keys {
		keys[i] = itemKey(doc, i)
	}
	return keys
}

func (s *structure) removeDoc(doc uint32) bool {
	if !s.docs.Contains(doc) {
		return false
	}
	s.backend.remove(s.keys(doc))
	s.docs.Remove(doc)
	delete(s.counts, doc)
	return true
}

func (s *structure) validate(doc uint32, vectors [][]float32) error {
	if len(vectors) >= maxVectorsPerDocument {
		return fmt.Errorf("document %d: too many vectors (%d)", doc, len(vectors))
	}
	for _, v := range vectors {
		if len(v) != s.dims {
			return fmt.Errorf("document %d: %w", doc, &vecerr.DimensionMismatchError{Expected: s.dims, Actual: len(v)})
		}
	}
	return nil
}

// Index is the vector index of one embedder
type Index struct {
	id   uint64
	opts Options

	mu         sync.RWMutex
	cur        *structure
	generation uint64
}

// New creates an empty index
func New(dims int, dist Distance, opts Options) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	opts = opts.withDefaults()

	s, err := newStructure(dims, dist, opts.HNSW)
	if err != nil {
		return nil, err
	}
	return &Index{
		id:   nextIndexID.Add(1),
		opts: opts,
		cur:  s,
	}, nil
}

// ID returns a process-unique identifier for this index
func (idx *Index) ID() uint64 {
	return idx.id
}

// Generation increases on every change to the index contents
func (idx *Index) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.generation
}

// Dimensions returns the vector length the index accepts
func (idx *Index) Dimensions() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cur.dims
}

// Distance returns the descriptor the index was built with
func (idx *Index) Distance() Distance {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cur.dist
}

// CompressionRatio is the size of a raw vector over the size of a stored
// one. It is 1 for float indexes.
func (idx *Index) CompressionRatio() float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.cur.dist.Quantized {
		return 1
	}
	return quantization.CompressionRatio(idx.cur.dims)
}

// Len returns the number of documents with at least one vector
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int(idx.cur.docs.GetCardinality())
}

// VectorCount returns the number of stored vectors
func (idx *Index) VectorCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cur.backend.len()
}

// GraphStats describes the shape of the underlying graph
func (idx *Index) GraphStats() hnsw.Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cur.backend.stats()
}

// Documents returns a copy of the set of indexed document ids
func (idx *Index) Documents() *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cur.docs.Clone()
}

// Contains reports whether doc has vectors in the index
func (idx *Index) Contains(doc uint32) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cur.docs.Contains(doc)
}

// Insert stores vectors for doc, replacing any previous ones. Vectors are
// quantized first when the index is quantized. No vectors removes doc.
func (idx *Index) Insert(doc uint32, vectors ...[]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.cur
	if err := s.validate(doc, vectors); err != nil {
		return err
	}

	changed := true
	if len(vectors) > 0 {
		if err := s.insertLocked(context.Background(), doc, vectors, 1); err != nil {
			return err
		}
	} else {
		changed = s.removeDoc(doc)
	}
	if changed {
		idx.generation++
	}
	return nil
}

// InsertBatch stores every record, replacing the previous vectors of each
// document. All records are validated before any is applied; a record
// without vectors removes its document.
func (idx *Index) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.cur
	for _, rec := range records {
		if err := s.validate(rec.DocumentID, rec.Vectors); err != nil {
			return err
		}
	}
	if err := s.addRecords(ctx, records, idx.opts.Workers); err != nil {
		return err
	}
	idx.generation++
	return nil
}

func (s *structure) insertLocked(ctx context.Context, doc uint32, vectors [][]float32, workers int) error {
	return s.addRecords(ctx, []Record{{DocumentID: doc, Vectors: vectors}}, workers)
}

// addRecords encodes and inserts a batch of validated records. Within the
// batch the last record of a document wins. Encoding runs first; a failure
// there leaves s untouched.
func (s *structure) addRecords(ctx context.Context, records []Record, workers int) error {
	last := make(map[uint32]int, len(records))
	for i, rec := range records {
		last[rec.DocumentID] = i
	}

	var keys []uint64
	var vectors [][]float32
	for i, rec := range records {
		if last[rec.DocumentID] != i {
			continue
		}
		for ord, v := range rec.Vectors {
			keys = append(keys, itemKey(rec.DocumentID, ord))
			vectors = append(vectors, v)
		}
	}

	insert := func() {}
	if len(keys) > 0 {
		var err error
		if insert, err = s.backend.prepare(ctx, keys, vectors, workers); err != nil {
			return err
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	for i, rec := range records {
		if last[rec.DocumentID] == i {
			s.removeDoc(rec.DocumentID)
		}
	}
	insert()

	for i, rec := range records {
		if last[rec.DocumentID] != i || len(rec.Vectors) == 0 {
			continue
		}
		s.docs.Add(rec.DocumentID)
		s.counts[rec.DocumentID] = len(rec.Vectors)
		s.widest = max(s.widest, len(rec.Vectors))
	}
	return nil
}

// Remove deletes every vector of doc. Removing an absent document is a no-op.
func (idx *Index) Remove(doc uint32) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.cur.removeDoc(doc) {
		return false
	}
	idx.generation++
	return true
}

// Vectors returns the stored vectors of doc in their float form. For a
// quantized index every component is -1 or 1.
func (idx *Index) Vectors(doc uint32) ([][]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := idx.cur
	if !s.docs.Contains(doc) {
		return nil, false
	}
	out := make([][]float32, 0, s.counts[doc])
	for _, key := range s.keys(doc) {
		v, ok := s.backend.vector(key)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// Clear removes every entry. Dimensions and distance are kept.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.cur
	s.backend.clear()
	s.docs.Clear()
	s.counts = make(map[uint32]int)
	s.widest = 0
	idx.generation++
}

// Search returns the k documents closest to query. expect is the distance
// the caller believes the index uses; a different one is rejected with a
// *vecerr.DistanceMismatchError. Quantized indexes quantize the query.
func (idx *Index) Search(query []float32, k int, expect Distance) (*Hits, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := idx.cur
	if expect != s.dist {
		return nil, &vecerr.DistanceMismatchError{Expected: expect.String(), Actual: s.dist.String()}
	}
	if len(query) != s.dims {
		return nil, &vecerr.DimensionMismatchError{Expected: s.dims, Actual: len(query)}
	}
	if k <= 0 || s.backend.len() == 0 {
		return HitsFrom(nil, s.dist.Quantized), nil
	}

	// Fetch enough vectors to fill k distinct documents
	k = min(k, int(s.docs.GetCardinality()))
	n := min(k*max(s.widest, 1), s.backend.len())
	results := s.backend.search(query, n, max(idx.opts.EfSearch, n))

	best := make(map[uint32]float32, len(results))
	for _, r := range results {
		doc := documentOf(r.Key)
		if d, ok := best[doc]; !ok || r.Distance < d {
			best[doc] = r.Distance
		}
	}
	hits := make([]Hit, 0, len(best))
	for doc, d := range best {
		hits = append(hits, Hit{DocumentID: doc, Distance: d})
	}
	return newHits(hits, k, s.dist.Quantized), nil
}

// Build is a replacement structure prepared aside from the live index
type Build struct {
	idx  *Index
	base uint64
	dist Distance
	size int
	next *structure
	done bool
}

// Prepare builds a replacement structure for dims and dist from records
// without touching the live index. Any invalid record or failing source
// aborts the build and leaves the index unchanged. A document appearing more
// than once keeps its last vectors.
func (idx *Index) Prepare(ctx context.Context, dims int, dist Distance, records iter.Seq2[Record, error]) (*Build, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	base := idx.Generation()

	next, err := newStructure(dims, dist, idx.opts.HNSW)
	if err != nil {
		return nil, err
	}

	chunk := make([]Record, 0, idx.opts.ChunkSize)
	flush := func() error {
		err := next.addRecords(ctx, chunk, idx.opts.Workers)
		chunk = chunk[:0]
		return err
	}

	for rec, err := range records {
		if err != nil {
			return nil, err
		}
		if err := next.validate(rec.DocumentID, rec.Vectors); err != nil {
			return nil, err
		}
		chunk = append(chunk, rec)
		if len(chunk) == cap(chunk) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return &Build{
		idx:  idx,
		base: base,
		dist: dist,
		size: int(next.docs.GetCardinality()),
		next: next,
	}, nil
}

// ErrConcurrentWrite is returned by Publish when the index changed after the
// build was prepared.
var ErrConcurrentWrite = errors.New("index modified while the rebuild was prepared")

// Distance returns the descriptor of the prepared structure
func (b *Build) Distance() Distance {
	return b.dist
}

// Len returns the number of documents in the prepared structure
func (b *Build) Len() int {
	return b.size
}

// Publish makes the prepared structure live
func (b *Build) Publish() error {
	if b.done {
		return errors.New("build already finished")
	}

	b.idx.mu.Lock()
	defer b.idx.mu.Unlock()

	if b.idx.generation != b.base {
		return ErrConcurrentWrite
	}
	b.idx.cur = b.next
	b.idx.generation++
	b.done = true
	return nil
}

// Rollback discards the prepared structure
func (b *Build) Rollback() {
	b.next = nil
	b.done = true
}

// RebuildFrom replaces all entries with records using dims and dist. It is
// all-or-nothing.
func (idx *Index) RebuildFrom(ctx context.Context, dims int, dist Distance, records iter.Seq2[Record, error]) error {
	b, err := idx.Prepare(ctx, dims, dist, records)
	if err != nil {
		return err
	}
	return b.Publish()
}

func itemKey(doc uint32, ordinal int) uint64 {
	return uint64(doc)<<16 | uint64(ordinal)
}

func documentOf(key uint64) uint32 {
	return uint32(key >> 16)
}
