package docstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
)

var (
	recordsBucket   = []byte("records")
	embeddersBucket = []byte("embedders")
)

// scanPageSize is the number of records read per transaction during Scan
const scanPageSize = 256

// Bolt is a Store backed by a bbolt file. Records of each embedder live in a
// nested bucket keyed by big-endian document id. Embedder settings are kept
// in a separate bucket so Bolt also serves as an embedder.Persister.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(embeddersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

// Path returns the database file path
func (b *Bolt) Path() string {
	return b.db.Path()
}

func docKey(doc uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], doc)
	return k[:]
}

// encodeRecord lays a record out as: flags byte, vector count, dimensions,
// then every component as little-endian float32 bits.
func encodeRecord(r VectorRecord) ([]byte, error) {
	dims := 0
	if len(r.Embeddings) > 0 {
		dims = len(r.Embeddings[0])
	}
	for _, v := range r.Embeddings {
		if len(v) != dims {
			return nil, fmt.Errorf("document %d: embeddings of different lengths cannot be stored", r.DocumentID)
		}
	}

	buf := make([]byte, 9+4*dims*len(r.Embeddings))
	if r.Regenerate {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(r.Embeddings)))
	binary.LittleEndian.PutUint32(buf[5:], uint32(dims))
	off := 9
	for _, v := range r.Embeddings {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(x))
			off += 4
		}
	}
	return buf, nil
}

func decodeRecord(doc uint32, data []byte) (VectorRecord, error) {
	if len(data) < 9 {
		return VectorRecord{}, fmt.Errorf("document %d: truncated record", doc)
	}
	count := int(binary.LittleEndian.Uint32(data[1:]))
	dims := int(binary.LittleEndian.Uint32(data[5:]))
	if len(data) != 9+4*count*dims {
		return VectorRecord{}, fmt.Errorf("document %d: record length %d does not match %d vectors of %d dimensions",
			doc, len(data), count, dims)
	}

	r := VectorRecord{DocumentID: doc, Regenerate: data[0]&1 == 1}
	if count > 0 {
		r.Embeddings = make([][]float32, count)
	}
	off := 9
	for i := range r.Embeddings {
		v := make([]float32, dims)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		r.Embeddings[i] = v
	}
	return r, nil
}

// Put implements Store
func (b *Bolt) Put(name string, records ...VectorRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(recordsBucket).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		for _, r := range records {
			value, err := encodeRecord(r)
			if err != nil {
				return err
			}
			if err := bucket.Put(docKey(r.DocumentID), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get implements Store
func (b *Bolt) Get(name string, doc uint32) (VectorRecord, bool, error) {
	var (
		r     VectorRecord
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket).Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		data := bucket.Get(docKey(doc))
		if data == nil {
			return nil
		}
		var err error
		r, err = decodeRecord(doc, data)
		found = err == nil
		return err
	})
	return r, found, err
}

// Delete implements Store
func (b *Bolt) Delete(name string, doc uint32) (bool, error) {
	var found bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket).Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		key := docKey(doc)
		if bucket.Get(key) == nil {
			return nil
		}
		found = true
		return bucket.Delete(key)
	})
	return found, err
}

// Scan implements Store. Records are read in pages, each in its own read
// transaction, so the caller may write to the store while iterating.
func (b *Bolt) Scan(name string) iter.Seq2[VectorRecord, error] {
	return func(yield func(VectorRecord, error) bool) {
		var next []byte
		for {
			page := make([]VectorRecord, 0, scanPageSize)
			err := b.db.View(func(tx *bolt.Tx) error {
				bucket := tx.Bucket(recordsBucket).Bucket([]byte(name))
				if bucket == nil {
					return nil
				}
				c := bucket.Cursor()
				var k, v []byte
				if next == nil {
					k, v = c.First()
				} else {
					k, v = c.Seek(next)
				}
				for ; k != nil && len(page) < scanPageSize; k, v = c.Next() {
					r, err := decodeRecord(binary.BigEndian.Uint32(k), v)
					if err != nil {
						return err
					}
					page = append(page, r)
				}
				if k != nil {
					next = append([]byte(nil), k...)
				} else {
					next = nil
				}
				return nil
			})
			if err != nil {
				yield(VectorRecord{}, err)
				return
			}

			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if next == nil {
				return
			}
		}
	}
}

// Count implements Store
func (b *Bolt) Count(name string) (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(recordsBucket).Bucket([]byte(name)); bucket != nil {
			n = bucket.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Documents implements Store
func (b *Bolt) Documents(name string) (*roaring.Bitmap, error) {
	docs := roaring.New()
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket).Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			docs.Add(binary.BigEndian.Uint32(k))
			return nil
		})
	})
	return docs, err
}

// DropEmbedder implements Store
func (b *Bolt) DropEmbedder(name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(recordsBucket).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Clear implements Store
func (b *Bolt) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(recordsBucket)
		return err
	})
}

// Close implements Store
func (b *Bolt) Close() error {
	return b.db.Close()
}

// SaveEmbedder implements embedder.Persister
func (b *Bolt) SaveEmbedder(name string, cfg embedder.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddersBucket).Put([]byte(name), data)
	})
}

// DeleteEmbedder implements embedder.Persister
func (b *Bolt) DeleteEmbedder(name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddersBucket).Delete([]byte(name))
	})
}

// LoadEmbedders implements embedder.Persister
func (b *Bolt) LoadEmbedders() (map[string]embedder.Config, error) {
	configs := make(map[string]embedder.Config)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(embeddersBucket).ForEach(func(k, v []byte) error {
			var cfg embedder.Config
			if err := json.Unmarshal(v, &cfg); err != nil {
				return fmt.Errorf("embedder %q: %w", k, err)
			}
			configs[string(k)] = cfg
			return nil
		})
	})
	return configs, err
}

var (
	_ Store              = (*Bolt)(nil)
	_ embedder.Persister = (*Bolt)(nil)
)
