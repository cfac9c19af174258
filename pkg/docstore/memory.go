package docstore

import (
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

type memoryEmbedder struct {
	docs    *roaring.Bitmap
	records map[uint32]VectorRecord
}

// Memory is an in-memory Store
type Memory struct {
	mu        sync.RWMutex
	embedders map[string]*memoryEmbedder
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{embedders: make(map[string]*memoryEmbedder)}
}

func (m *Memory) embedder(name string) *memoryEmbedder {
	e, ok := m.embedders[name]
	if !ok {
		e = &memoryEmbedder{docs: roaring.New(), records: make(map[uint32]VectorRecord)}
		m.embedders[name] = e
	}
	return e
}

// Put implements Store
func (m *Memory) Put(embedder string, records ...VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.embedder(embedder)
	for _, r := range records {
		e.docs.Add(r.DocumentID)
		e.records[r.DocumentID] = r.Clone()
	}
	return nil
}

// Get implements Store
func (m *Memory) Get(embedder string, doc uint32) (VectorRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.embedders[embedder]
	if !ok {
		return VectorRecord{}, false, nil
	}
	r, ok := e.records[doc]
	if !ok {
		return VectorRecord{}, false, nil
	}
	return r.Clone(), true, nil
}

// Delete implements Store
func (m *Memory) Delete(embedder string, doc uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.embedders[embedder]
	if !ok || !e.docs.Contains(doc) {
		return false, nil
	}
	e.docs.Remove(doc)
	delete(e.records, doc)
	return true, nil
}

// Scan implements Store. The document set is snapshotted when iteration
// starts; records deleted meanwhile are skipped.
func (m *Memory) Scan(embedder string) iter.Seq2[VectorRecord, error] {
	return func(yield func(VectorRecord, error) bool) {
		m.mu.RLock()
		e, ok := m.embedders[embedder]
		if !ok {
			m.mu.RUnlock()
			return
		}
		docs := e.docs.Clone()
		m.mu.RUnlock()

		it := docs.Iterator()
		for it.HasNext() {
			r, ok, _ := m.Get(embedder, it.Next())
			if !ok {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Count implements Store
func (m *Memory) Count(embedder string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.embedders[embedder]; ok {
		return int(e.docs.GetCardinality()), nil
	}
	return 0, nil
}

// Documents implements Store
func (m *Memory) Documents(embedder string) (*roaring.Bitmap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.embedders[embedder]; ok {
		return e.docs.Clone(), nil
	}
	return roaring.New(), nil
}

// DropEmbedder implements Store
func (m *Memory) DropEmbedder(embedder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embedders, embedder)
	return nil
}

// Clear implements Store
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedders = make(map[string]*memoryEmbedder)
	return nil
}

// Close implements Store
func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
