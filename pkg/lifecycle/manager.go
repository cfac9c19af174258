// Package lifecycle owns the vector index of every embedder and keeps it in
// step with the embedder's committed settings.
//
// A settings change that alters the shape of an index (dimensions, metric or
// quantization) rebuilds the index aside from the live one from the stored
// raw vectors. The new settings and the new index become visible together,
// or not at all. Document writes and searches go through the same manager so
// that they always run against the index of the committed settings.
//
// Locking: each embedder has a slot. slot.writeMu serializes everything that
// modifies the embedder (settings, rebuilds, document writes) and may be held
// for the length of a rebuild. slot.mu guards what readers see and is only
// held for short swaps. Embedders never share a lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/docstore"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/observability"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/search"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

// Options configures a Manager
type Options struct {
	Index   vectorindex.Options
	Cache   *search.QueryCache     // nil disables result caching
	Logger  *observability.Logger  // nil discards logs
	Metrics *observability.Metrics // nil records nothing
}

type slot struct {
	name string

	writeMu sync.Mutex
	dropped bool // guarded by writeMu

	mu    sync.RWMutex
	index *vectorindex.Index
	state State
}

// Manager runs the lifecycle of every embedder's index
type Manager struct {
	mu    sync.Mutex
	slots map[string]*slot

	configs *embedder.Store
	records docstore.Store

	opts    Options
	logger  *observability.Logger
	metrics *observability.Metrics
	cache   *search.QueryCache
}

// NewManager creates a manager over records. When records also implements
// embedder.Persister, committed settings are persisted there.
func NewManager(records docstore.Store, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	m := &Manager{
		slots:   make(map[string]*slot),
		records: records,
		opts:    opts,
		logger:  logger.Named("lifecycle"),
		metrics: opts.Metrics,
		cache:   opts.Cache,
	}
	persister, _ := records.(embedder.Persister)
	m.configs = embedder.NewStore(embedder.OccupancyFunc(m.hasVectors), persister)
	return m
}

// hasVectors reports whether any record is stored for name. Storage errors
// count as occupied so that dimension changes are refused.
func (m *Manager) hasVectors(name string) bool {
	n, err := m.records.Count(name)
	return err != nil || n > 0
}

func (m *Manager) slot(name string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[name]
}

// lockSlot returns the slot of name with its writeMu held. A missing slot
// is created when create is set, otherwise nil is returned.
func (m *Manager) lockSlot(name string, create bool) *slot {
	for {
		m.mu.Lock()
		s, ok := m.slots[name]
		if !ok {
			if !create {
				m.mu.Unlock()
				return nil
			}
			s = &slot{name: name}
			m.slots[name] = s
		}
		m.mu.Unlock()

		s.writeMu.Lock()
		if !s.dropped {
			return s
		}
		s.writeMu.Unlock()
	}
}

// lockAll locks every slot in name order
func (m *Manager) lockAll() []*slot {
	m.mu.Lock()
	names := make([]string, 0, len(m.slots))
	for name := range m.slots {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	slots := make([]*slot, 0, len(names))
	for _, name := range names {
		if s := m.lockSlot(name, false); s != nil {
			slots = append(slots, s)
		}
	}
	return slots
}

func unlockAll(slots []*slot) {
	for i := len(slots) - 1; i >= 0; i-- {
		slots[i].writeMu.Unlock()
	}
}

// dropLocked removes s from the registry. The caller holds s.writeMu.
func (m *Manager) dropLocked(s *slot) {
	s.dropped = true

	m.mu.Lock()
	if m.slots[s.name] == s {
		delete(m.slots, s.name)
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.index = nil
	s.state = StateAbsent
	s.mu.Unlock()
}

// releaseIfAbsent drops a slot that was created for an embedder whose
// settings were never committed
func (m *Manager) releaseIfAbsent(s *slot) {
	if _, ok := m.configs.Get(s.name); !ok {
		m.dropLocked(s)
	}
}

func (m *Manager) stateOf(s *slot) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (m *Manager) setState(s *slot, state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ApplySettings validates settings for name and carries out the resulting
// transition. Transitions that change the index shape rebuild the index from
// the stored records before the settings are committed; if the rebuild fails
// neither settings nor index change. Rebuilds are not interrupted by ctx.
func (m *Manager) ApplySettings(ctx context.Context, name string, settings embedder.Settings) (embedder.Transition, error) {
	start := time.Now()
	s := m.lockSlot(name, true)
	defer s.writeMu.Unlock()

	t, err := m.configs.ProposeUpdate(name, settings)
	if err != nil {
		m.metrics.RecordSettingsRejected(name, string(vecerr.CodeOf(err)))
		m.logger.Warn("settings rejected", map[string]interface{}{
			"embedder": name,
			"error":    err.Error(),
		})
		m.releaseIfAbsent(s)
		return embedder.Transition{}, err
	}

	if t.Creates() || t.Action == embedder.RequiresRebuild || m.stateOf(s) == StateInconsistent {
		err = m.rebuild(ctx, s, t)
	} else {
		err = m.commitMetadata(s, t)
	}
	if err != nil {
		m.releaseIfAbsent(s)
		return embedder.Transition{}, err
	}

	m.metrics.RecordSettingsApplied(name, t.Action.String())
	m.metrics.UpdateEmbedderCount(len(m.configs.Names()))
	m.logger.Info("settings applied", map[string]interface{}{
		"embedder": name,
		"action":   t.Action.String(),
		"distance": distanceOf(t.After).String(),
		"duration": time.Since(start),
	})
	return t, nil
}

func (m *Manager) commitMetadata(s *slot, t embedder.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.configs.Commit(t)
}

// rebuild builds the index for t.After aside, then commits t and publishes
// the index under one write lock. The caller holds s.writeMu.
func (m *Manager) rebuild(ctx context.Context, s *slot, t embedder.Transition) error {
	ctx = context.WithoutCancel(ctx)
	name := t.Name
	dist := distanceOf(t.After)
	prev := m.stateOf(s)

	target := s.index
	if target == nil {
		idx, err := vectorindex.New(t.After.Dimensions, dist, m.opts.Index)
		if err != nil {
			return vecerr.Internal(name, err)
		}
		target = idx
	}

	m.setState(s, StateRebuildInProgress)
	m.logger.Debug("rebuild started", map[string]interface{}{"embedder": name, "distance": dist.String()})

	start := time.Now()
	build, err := target.Prepare(ctx, t.After.Dimensions, dist, m.scan(name))
	m.metrics.RecordRebuild(name, time.Since(start), err)
	if err != nil {
		m.setState(s, prev)
		m.logger.Error("rebuild failed", map[string]interface{}{
			"embedder": name,
			"distance": dist.String(),
			"duration": time.Since(start),
			"error":    err.Error(),
		})
		return vecerr.Rebuild(name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.configs.Commit(t); err != nil {
		build.Rollback()
		s.state = prev
		return err
	}
	if err := build.Publish(); err != nil {
		s.state = StateInconsistent
		return vecerr.Consistency(name, fmt.Errorf("publish rebuilt index: %w", err))
	}
	s.index = target
	s.state = StateActive

	m.metrics.UpdateIndexSize(name, build.Len())
	m.logger.Info("index rebuilt", map[string]interface{}{
		"embedder":  name,
		"distance":  dist.String(),
		"documents": build.Len(),
		"duration":  time.Since(start),
	})
	return nil
}

// scan adapts the stored records of name to rebuild input
func (m *Manager) scan(name string) iter.Seq2[vectorindex.Record, error] {
	return func(yield func(vectorindex.Record, error) bool) {
		for rec, err := range m.records.Scan(name) {
			if err != nil {
				yield(vectorindex.Record{}, err)
				return
			}
			if !yield(vectorindex.Record{DocumentID: rec.DocumentID, Vectors: rec.Embeddings}, nil) {
				return
			}
		}
	}
}

// DeleteEmbedder drops the settings, index and records of name. It reports
// whether the embedder existed.
func (m *Manager) DeleteEmbedder(name string) (bool, error) {
	s := m.lockSlot(name, false)
	if s == nil {
		return false, nil
	}
	defer s.writeMu.Unlock()

	if _, ok := m.configs.Get(name); !ok {
		m.dropLocked(s)
		return false, nil
	}
	if err := m.records.DropEmbedder(name); err != nil {
		return false, vecerr.Internal(name, fmt.Errorf("drop records: %w", err))
	}

	s.mu.Lock()
	_, err := m.configs.Remove(name)
	if err != nil && s.index != nil {
		// records are gone, keep the index in step with them
		s.index.Clear()
	}
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	m.dropLocked(s)
	m.metrics.DeleteIndexSize(name)
	m.metrics.UpdateEmbedderCount(len(m.configs.Names()))
	m.logger.Info("embedder deleted", map[string]interface{}{"embedder": name})
	return true, nil
}

// Restore loads the persisted settings and rebuilds every index from the
// stored records. It is meant for a freshly created manager. Embedders whose
// rebuild fails are left inconsistent and reported together.
func (m *Manager) Restore(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := m.configs.Load(); err != nil {
		return err
	}

	configs := m.configs.All()
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		cfg := configs[name]
		dist := distanceOf(cfg)

		s := m.lockSlot(name, true)
		start := time.Now()
		var idx *vectorindex.Index
		err := m.logger.LogOperationWithFields("restore", map[string]interface{}{
			"embedder": name,
			"distance": dist.String(),
		}, func() (err error) {
			if idx, err = vectorindex.New(cfg.Dimensions, dist, m.opts.Index); err != nil {
				return err
			}
			return idx.RebuildFrom(ctx, cfg.Dimensions, dist, m.scan(name))
		})
		m.metrics.RecordRebuild(name, time.Since(start), err)

		s.mu.Lock()
		if err != nil {
			s.index = nil
			s.state = StateInconsistent
			errs = append(errs, vecerr.Rebuild(name, err))
		} else {
			s.index = idx
			s.state = StateActive
			m.metrics.UpdateIndexSize(name, idx.Len())
		}
		s.mu.Unlock()
		s.writeMu.Unlock()
	}

	m.metrics.UpdateEmbedderCount(len(names))
	m.logger.Info("embedders restored", map[string]interface{}{"embedders": len(names), "failed": len(errs)})
	return errors.Join(errs...)
}

// Config returns the committed settings of name
func (m *Manager) Config(name string) (embedder.Config, bool) {
	return m.configs.Get(name)
}

// Embedders returns the committed settings of every embedder
func (m *Manager) Embedders() map[string]embedder.Config {
	return m.configs.All()
}

// State returns the lifecycle state of name
func (m *Manager) State(name string) State {
	s := m.slot(name)
	if s == nil {
		return StateAbsent
	}
	return m.stateOf(s)
}

// ScanRecords yields the stored records of name
func (m *Manager) ScanRecords(name string) iter.Seq2[docstore.VectorRecord, error] {
	return m.records.Scan(name)
}

// DocumentIDs returns every document that has a record for some embedder
func (m *Manager) DocumentIDs() (*roaring.Bitmap, error) {
	all := roaring.New()
	for _, name := range m.configs.Names() {
		docs, err := m.records.Documents(name)
		if err != nil {
			return nil, vecerr.Internal(name, err)
		}
		all.Or(docs)
	}
	return all, nil
}

// Stats describes one embedder
type Stats struct {
	Name             string  `json:"name"`
	State            State   `json:"state"`
	Dimensions       int     `json:"dimensions"`
	Distance         string  `json:"distance"`
	Documents        int     `json:"documents"`
	Vectors          int     `json:"vectors"`
	Records          int     `json:"records"`
	Generation       uint64  `json:"generation"`
	CompressionRatio float32 `json:"compressionRatio"` // raw vector size over stored size
	Layers           int     `json:"layers"`           // graph layers, 0 when empty
}

// Stats returns the index statistics of name
func (m *Manager) Stats(name string) (Stats, error) {
	s := m.slot(name)
	cfg, ok := m.configs.Get(name)
	if s == nil || !ok {
		return Stats{}, vecerr.InvalidRequest(name, vecerr.ErrEmbedderNotFound)
	}

	records, err := m.records.Count(name)
	if err != nil {
		return Stats{}, vecerr.Internal(name, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:       name,
		State:      s.state,
		Dimensions: cfg.Dimensions,
		Distance:   distanceOf(cfg).String(),
		Records:    records,
	}
	if s.index != nil {
		st.Documents = s.index.Len()
		st.Vectors = s.index.VectorCount()
		st.Generation = s.index.Generation()
		st.CompressionRatio = s.index.CompressionRatio()
		st.Layers = s.index.GraphStats().MaxLayer + 1
	}
	return st, nil
}

// CacheStats returns the statistics of the search result cache. It reports
// false when caching is disabled.
func (m *Manager) CacheStats() (search.CacheStats, bool) {
	if m.cache == nil {
		return search.CacheStats{}, false
	}
	return m.cache.Stats(), true
}
