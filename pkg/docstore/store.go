// Package docstore is the storage boundary for per-document vector records.
//
// Records keep the raw vectors exactly as they were supplied; the vector
// index derives its (possibly quantized) form from them during a rebuild.
package docstore

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// VectorRecord holds one document's vectors for one embedder
type VectorRecord struct {
	DocumentID uint32
	Embeddings [][]float32
	Regenerate bool
}

// Clone returns a deep copy of r
func (r VectorRecord) Clone() VectorRecord {
	out := VectorRecord{DocumentID: r.DocumentID, Regenerate: r.Regenerate}
	if r.Embeddings != nil {
		out.Embeddings = make([][]float32, len(r.Embeddings))
		for i, v := range r.Embeddings {
			out.Embeddings[i] = append([]float32(nil), v...)
		}
	}
	return out
}

// Store persists vector records per embedder
type Store interface {
	// Put writes records for embedder, replacing existing ones. All records
	// are written or none.
	Put(embedder string, records ...VectorRecord) error
	Get(embedder string, doc uint32) (VectorRecord, bool, error)
	// Delete removes doc from embedder and reports whether it was present
	Delete(embedder string, doc uint32) (bool, error)
	// Scan yields every record of embedder in document id order
	Scan(embedder string) iter.Seq2[VectorRecord, error]
	Count(embedder string) (int, error)
	Documents(embedder string) (*roaring.Bitmap, error)
	// DropEmbedder removes every record of embedder
	DropEmbedder(embedder string) error
	// Clear removes every record of every embedder
	Clear() error
	Close() error
}
