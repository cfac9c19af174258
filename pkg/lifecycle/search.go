package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/search"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

// Query is a nearest-neighbor request against one embedder
type Query struct {
	Embedder string
	Vector   []float32
	K        int
	// Distance is the distance the caller expects the index to use. Nil
	// means the distance of the committed settings.
	Distance *vectorindex.Distance
}

// checkLocked compares the index of s with cfg. The caller holds s.mu.
func (m *Manager) checkLocked(s *slot, cfg embedder.Config) error {
	want := distanceOf(cfg)
	if s.index == nil {
		return &fault{expected: want.String(), actual: "no index", err: errors.New("embedder has no index"), mark: true}
	}
	if s.state == StateInconsistent {
		return &fault{expected: want.String(), actual: s.index.Distance().String(), err: errMarkedInconsistent}
	}
	if got := s.index.Distance(); got != want {
		return &fault{
			expected: want.String(),
			actual:   got.String(),
			err:      &vecerr.DistanceMismatchError{Expected: want.String(), Actual: got.String()},
			mark:     true,
		}
	}
	if got := s.index.Dimensions(); got != cfg.Dimensions {
		return &fault{
			expected: strconv.Itoa(cfg.Dimensions),
			actual:   strconv.Itoa(got),
			err:      &vecerr.DimensionMismatchError{Expected: cfg.Dimensions, Actual: got},
			mark:     true,
		}
	}
	return nil
}

// report turns a fault into a consistency error, logging and counting it.
// Other errors pass through. The caller must not hold s.mu.
func (m *Manager) report(s *slot, err error) error {
	var f *fault
	if !errors.As(err, &f) {
		return err
	}

	m.metrics.RecordConsistencyFault(s.name)
	m.logger.Error("index does not match the committed settings", map[string]interface{}{
		"embedder": s.name,
		"expected": f.expected,
		"actual":   f.actual,
		"error":    f.err.Error(),
	})
	if f.mark {
		m.setState(s, StateInconsistent)
	}
	return vecerr.Consistency(s.name, f)
}

// Search returns the q.K documents closest to q.Vector. Quantized embedders
// quantize the query first, which the returned Hits reports. A query whose
// length differs from the embedder's dimensions is an invalid request; an
// index that does not match the settings, or q.Distance, is a consistency
// fault and never yields results.
func (m *Manager) Search(q Query) (*vectorindex.Hits, error) {
	start := time.Now()
	s := m.slot(q.Embedder)
	if s == nil {
		return nil, vecerr.InvalidRequest(q.Embedder, vecerr.ErrEmbedderNotFound)
	}

	s.mu.RLock()
	hits, err := m.searchLocked(s, q)
	s.mu.RUnlock()
	if err != nil {
		return nil, m.report(s, err)
	}

	m.metrics.RecordSearch(time.Since(start), hits.Remaining())
	return hits, nil
}

func (m *Manager) searchLocked(s *slot, q Query) (*vectorindex.Hits, error) {
	cfg, ok := m.configs.Get(s.name)
	if !ok {
		return nil, vecerr.InvalidRequest(s.name, vecerr.ErrEmbedderNotFound)
	}
	if err := m.checkLocked(s, cfg); err != nil {
		return nil, err
	}
	if len(q.Vector) != cfg.Dimensions {
		return nil, vecerr.InvalidRequest(s.name,
			fmt.Errorf("query vector: %w", &vecerr.DimensionMismatchError{Expected: cfg.Dimensions, Actual: len(q.Vector)}))
	}
	if q.K < 0 {
		return nil, vecerr.InvalidRequest(s.name, fmt.Errorf("limit must not be negative, got %d", q.K))
	}

	expect := distanceOf(cfg)
	if q.Distance != nil {
		expect = *q.Distance
	}

	key := search.Query{
		IndexID:    s.index.ID(),
		Generation: s.index.Generation(),
		Distance:   expect,
		Vector:     q.Vector,
		K:          q.K,
	}
	if m.cache != nil {
		if hits, ok := m.cache.Get(key); ok {
			m.metrics.RecordCacheHit()
			return hits, nil
		}
		m.metrics.RecordCacheMiss()
	}

	hits, err := s.index.Search(q.Vector, q.K, expect)
	if err != nil {
		var dm *vecerr.DistanceMismatchError
		if errors.As(err, &dm) {
			// the caller's expectation is wrong, not the index
			return nil, &fault{expected: dm.Expected, actual: dm.Actual, err: err, mark: q.Distance == nil}
		}
		return nil, vecerr.InvalidRequest(s.name, err)
	}

	if m.cache != nil {
		quantized := hits.QueryQuantized()
		collected := hits.Collect()
		m.cache.Put(key, collected, quantized)
		m.metrics.UpdateCacheSize(m.cache.Size())
		hits = vectorindex.HitsFrom(collected, quantized)
	}
	return hits, nil
}

// Check verifies that the index of name matches its committed settings and
// holds exactly the documents that have stored vectors. A mismatch marks
// the embedder inconsistent.
func (m *Manager) Check(name string) error {
	s := m.slot(name)
	cfg, ok := m.configs.Get(name)
	if s == nil || !ok {
		return vecerr.InvalidRequest(name, vecerr.ErrEmbedderNotFound)
	}

	s.mu.RLock()
	err := m.checkLocked(s, cfg)
	if err == nil {
		err = m.checkRecordsLocked(s)
	}
	s.mu.RUnlock()
	if err != nil {
		return m.report(s, err)
	}
	return nil
}

// CheckAll runs Check on every embedder and joins the failures
func (m *Manager) CheckAll() error {
	var errs []error
	for _, name := range m.configs.Names() {
		if err := m.Check(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) checkRecordsLocked(s *slot) error {
	want := roaring.New()
	for rec, err := range m.records.Scan(s.name) {
		if err != nil {
			return vecerr.Internal(s.name, err)
		}
		if len(rec.Embeddings) > 0 {
			want.Add(rec.DocumentID)
		}
	}

	got := s.index.Documents()
	if want.Equals(got) {
		return nil
	}
	missing := roaring.AndNot(want, got).GetCardinality()
	extra := roaring.AndNot(got, want).GetCardinality()
	return &fault{
		expected: fmt.Sprintf("%d documents", want.GetCardinality()),
		actual:   fmt.Sprintf("%d documents", got.GetCardinality()),
		err:      fmt.Errorf("index and records disagree: %d missing, %d extra", missing, extra),
		mark:     true,
	}
}
