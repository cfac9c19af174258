package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/docstore"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/projection"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

var errRegenerateUserProvided = errors.New("`regenerate` cannot be true for a user-provided embedder")

// validateRecords checks records against the committed settings of an
// embedder
func validateRecords(cfg embedder.Config, records []docstore.VectorRecord) error {
	for _, rec := range records {
		if rec.Regenerate && cfg.Source.UserProvided() {
			return fmt.Errorf("document %d: %w", rec.DocumentID, errRegenerateUserProvided)
		}
		for _, v := range rec.Embeddings {
			if len(v) != cfg.Dimensions {
				return fmt.Errorf("document %d: %w", rec.DocumentID,
					&vecerr.DimensionMismatchError{Expected: cfg.Dimensions, Actual: len(v)})
			}
		}
	}
	return nil
}

// Upsert stores records for the embedder name and indexes their vectors,
// replacing whatever each document held before. Every record is validated
// before anything is written.
func (m *Manager) Upsert(ctx context.Context, name string, records ...docstore.VectorRecord) error {
	s := m.lockSlot(name, false)
	if s == nil {
		return vecerr.InvalidRequest(name, vecerr.ErrEmbedderNotFound)
	}
	defer s.writeMu.Unlock()

	cfg, err := m.prepareUpsert(s, records)
	if err != nil {
		return err
	}
	return m.upsertLocked(ctx, s, cfg, records)
}

// prepareUpsert validates records for s. The caller holds s.writeMu.
func (m *Manager) prepareUpsert(s *slot, records []docstore.VectorRecord) (embedder.Config, error) {
	cfg, ok := m.configs.Get(s.name)
	if !ok {
		m.releaseIfAbsent(s)
		return embedder.Config{}, vecerr.InvalidRequest(s.name, vecerr.ErrEmbedderNotFound)
	}

	s.mu.RLock()
	err := m.checkLocked(s, cfg)
	s.mu.RUnlock()
	if err != nil {
		return cfg, m.report(s, err)
	}

	if err := validateRecords(cfg, records); err != nil {
		m.logger.Warn("documents rejected", map[string]interface{}{"embedder": s.name, "error": err.Error()})
		return cfg, vecerr.InvalidRequest(s.name, err)
	}
	return cfg, nil
}

// upsertLocked writes validated records. The caller holds s.writeMu.
func (m *Manager) upsertLocked(ctx context.Context, s *slot, cfg embedder.Config, records []docstore.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := make([]vectorindex.Record, len(records))
	for i, rec := range records {
		batch[i] = vectorindex.Record{DocumentID: rec.DocumentID, Vectors: rec.Embeddings}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.records.Put(s.name, records...); err != nil {
		return vecerr.Internal(s.name, fmt.Errorf("store records: %w", err))
	}
	if err := s.index.InsertBatch(context.WithoutCancel(ctx), batch); err != nil {
		// records are stored but the index is behind them
		s.state = StateInconsistent
		m.metrics.RecordConsistencyFault(s.name)
		m.logger.Error("index write failed after records were stored", map[string]interface{}{
			"embedder": s.name,
			"error":    err.Error(),
		})
		return vecerr.Consistency(s.name, err)
	}

	m.metrics.RecordInsert(s.name, len(records))
	m.metrics.UpdateIndexSize(s.name, s.index.Len())
	m.logger.Debug("documents indexed", map[string]interface{}{
		"embedder":  s.name,
		"documents": len(records),
		"quantized": cfg.Quantized(),
	})
	return nil
}

// AddDocument writes the `_vectors` of one document across embedders. All
// entries are validated before any embedder is written.
func (m *Manager) AddDocument(ctx context.Context, doc uint32, vectors map[string]projection.Input) error {
	names := make([]string, 0, len(vectors))
	for name := range vectors {
		names = append(names, name)
	}
	sort.Strings(names)

	slots := make([]*slot, 0, len(names))
	defer func() { unlockAll(slots) }()

	configs := make([]embedder.Config, 0, len(names))
	for _, name := range names {
		s := m.lockSlot(name, false)
		if s == nil {
			return vecerr.InvalidRequest(name, vecerr.ErrEmbedderNotFound)
		}
		slots = append(slots, s)

		cfg, err := m.prepareUpsert(s, []docstore.VectorRecord{vectors[name].Record(doc)})
		if err != nil {
			return err
		}
		configs = append(configs, cfg)
	}

	for i, s := range slots {
		if err := m.upsertLocked(ctx, s, configs[i], []docstore.VectorRecord{vectors[s.name].Record(doc)}); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDocument removes doc from every embedder. Removing an unknown
// document is not an error.
func (m *Manager) RemoveDocument(doc uint32) (bool, error) {
	removed := false
	for _, name := range m.configs.Names() {
		s := m.lockSlot(name, false)
		if s == nil {
			continue
		}

		s.mu.Lock()
		ok, err := m.records.Delete(name, doc)
		if err == nil && s.index != nil && s.index.Remove(doc) {
			ok = true
			m.metrics.RecordDelete(name, 1)
			m.metrics.UpdateIndexSize(name, s.index.Len())
		}
		s.mu.Unlock()
		s.writeMu.Unlock()

		if err != nil {
			return removed, vecerr.Internal(name, fmt.Errorf("delete record: %w", err))
		}
		removed = removed || ok
	}
	return removed, nil
}

// ClearDocuments removes every record and empties every index in one step.
// Settings, dimensions and distances are kept.
func (m *Manager) ClearDocuments() error {
	slots := m.lockAll()
	defer unlockAll(slots)

	for _, s := range slots {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range slots {
			s.mu.Unlock()
		}
	}()

	if err := m.records.Clear(); err != nil {
		return vecerr.Internal("", fmt.Errorf("clear records: %w", err))
	}
	for _, s := range slots {
		if s.index == nil {
			continue
		}
		m.metrics.RecordDelete(s.name, s.index.Len())
		s.index.Clear()
		m.metrics.UpdateIndexSize(s.name, 0)
	}
	if m.cache != nil {
		m.cache.Clear()
		m.metrics.UpdateCacheSize(0)
	}

	m.logger.Info("documents cleared", map[string]interface{}{"embedders": len(slots)})
	return nil
}

// DocumentVectors returns the read payload of doc for every embedder that
// holds a record for it. Embeddings come from the index, so quantized
// embedders return -1 and 1 components.
func (m *Manager) DocumentVectors(doc uint32) (map[string]projection.Vectors, error) {
	out := make(map[string]projection.Vectors)
	for _, name := range m.configs.Names() {
		s := m.slot(name)
		if s == nil {
			continue
		}

		v, ok, err := m.documentVectors(s, doc)
		if err != nil {
			return nil, m.report(s, err)
		}
		if ok {
			out[name] = v
		}
	}
	return out, nil
}

func (m *Manager) documentVectors(s *slot, doc uint32) (projection.Vectors, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := m.configs.Get(s.name)
	if !ok {
		return projection.Vectors{}, false, nil
	}
	if err := m.checkLocked(s, cfg); err != nil {
		return projection.Vectors{}, false, err
	}

	rec, ok, err := m.records.Get(s.name, doc)
	if err != nil {
		return projection.Vectors{}, false, vecerr.Internal(s.name, err)
	}
	if !ok {
		return projection.Vectors{}, false, nil
	}

	indexed, inIndex := s.index.Vectors(doc)
	if inIndex != (len(rec.Embeddings) > 0) {
		return projection.Vectors{}, false, &fault{
			expected: fmt.Sprintf("%d vectors", len(rec.Embeddings)),
			actual:   fmt.Sprintf("%d vectors", len(indexed)),
			err:      fmt.Errorf("document %d: record and index entry disagree", doc),
			mark:     true,
		}
	}
	return projection.Project(rec, indexed), true, nil
}
