// Package dump exports and imports embedder settings and vector records as
// a zstd-compressed stream of JSON lines.
//
// The stream starts with a header line, followed by one line per embedder
// and then the records of each embedder in document order:
//
//	{"kind":"header","header":{"version":1,"createdAt":"...","embedders":1}}
//	{"kind":"embedder","embedder":"manual","config":{...}}
//	{"kind":"record","embedder":"manual","record":{"id":0,"embeddings":[[...]],"regenerate":false}}
//
// Records carry the raw vectors, so an import into a quantized embedder
// quantizes them again.
package dump

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/docstore"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
)

// Version is the stream format version written by Export
const Version = 1

// importBatchSize is the number of records upserted at once during Import
const importBatchSize = 256

// Line kinds
const (
	kindHeader   = "header"
	kindEmbedder = "embedder"
	kindRecord   = "record"
)

// Header describes a dump
type Header struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	Embedders int       `json:"embedders"`
}

type recordLine struct {
	ID         uint32      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
	Regenerate bool        `json:"regenerate"`
}

type line struct {
	Kind     string           `json:"kind"`
	Header   *Header          `json:"header,omitempty"`
	Embedder string           `json:"embedder,omitempty"`
	Config   *embedder.Config `json:"config,omitempty"`
	Record   *recordLine      `json:"record,omitempty"`
}

// Source is what Export reads from
type Source interface {
	Embedders() map[string]embedder.Config
	ScanRecords(name string) iter.Seq2[docstore.VectorRecord, error]
}

// Sink is what Import writes to
type Sink interface {
	ApplySettings(ctx context.Context, name string, settings embedder.Settings) (embedder.Transition, error)
	Upsert(ctx context.Context, name string, records ...docstore.VectorRecord) error
}

// Stats counts what a dump contained
type Stats struct {
	Embedders int `json:"embedders"`
	Records   int `json:"records"`
}

// Export writes every embedder of src and its records to w
func Export(ctx context.Context, w io.Writer, src Source) (Stats, error) {
	var stats Stats

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return stats, fmt.Errorf("failed to create compressor: %w", err)
	}
	enc := json.NewEncoder(zw)

	configs := src.Embedders()
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	err = enc.Encode(line{Kind: kindHeader, Header: &Header{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Embedders: len(names),
	}})
	if err != nil {
		zw.Close()
		return stats, err
	}

	for _, name := range names {
		cfg := configs[name]
		if err := enc.Encode(line{Kind: kindEmbedder, Embedder: name, Config: &cfg}); err != nil {
			zw.Close()
			return stats, err
		}
		stats.Embedders++
	}

	for _, name := range names {
		for rec, err := range src.ScanRecords(name) {
			if err == nil {
				err = ctx.Err()
			}
			if err == nil {
				err = enc.Encode(line{Kind: kindRecord, Embedder: name, Record: &recordLine{
					ID:         rec.DocumentID,
					Embeddings: rec.Embeddings,
					Regenerate: rec.Regenerate,
				}})
			}
			if err != nil {
				zw.Close()
				return stats, fmt.Errorf("embedder %q: %w", name, err)
			}
			stats.Records++
		}
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("failed to flush dump: %w", err)
	}
	return stats, nil
}

// ErrMalformed is returned for streams that do not follow the dump layout
var ErrMalformed = errors.New("malformed dump")

// Import replays a dump into sink: settings first, then records in batches.
// It stops at the first failure; what was applied before stays applied.
func Import(ctx context.Context, r io.Reader, sink Sink) (Stats, error) {
	var stats Stats

	zr, err := zstd.NewReader(bufio.NewReader(r))
	if err != nil {
		return stats, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)

	var head line
	if err := dec.Decode(&head); err != nil {
		return stats, fmt.Errorf("%w: reading header: %v", ErrMalformed, err)
	}
	if head.Kind != kindHeader || head.Header == nil {
		return stats, fmt.Errorf("%w: stream does not start with a header", ErrMalformed)
	}
	if head.Header.Version != Version {
		return stats, fmt.Errorf("%w: unsupported version %d", ErrMalformed, head.Header.Version)
	}

	known := make(map[string]bool)
	var pending []docstore.VectorRecord
	var pendingName string
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := sink.Upsert(ctx, pendingName, pending...); err != nil {
			return err
		}
		stats.Records += len(pending)
		pending = pending[:0]
		return nil
	}

	for n := 2; ; n++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var l line
		err := dec.Decode(&l)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%w: line %d: %v", ErrMalformed, n, err)
		}

		switch l.Kind {
		case kindEmbedder:
			if l.Config == nil || l.Embedder == "" {
				return stats, fmt.Errorf("%w: line %d: embedder without settings", ErrMalformed, n)
			}
			if err := flush(); err != nil {
				return stats, err
			}
			if _, err := sink.ApplySettings(ctx, l.Embedder, embedder.SettingsOf(*l.Config)); err != nil {
				return stats, err
			}
			known[l.Embedder] = true
			stats.Embedders++

		case kindRecord:
			if l.Record == nil {
				return stats, fmt.Errorf("%w: line %d: empty record", ErrMalformed, n)
			}
			if !known[l.Embedder] {
				return stats, fmt.Errorf("%w: line %d: record for undeclared embedder %q", ErrMalformed, n, l.Embedder)
			}
			if l.Embedder != pendingName || len(pending) == importBatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
				pendingName = l.Embedder
			}
			pending = append(pending, docstore.VectorRecord{
				DocumentID: l.Record.ID,
				Embeddings: l.Record.Embeddings,
				Regenerate: l.Record.Regenerate,
			})

		default:
			return stats, fmt.Errorf("%w: line %d: unexpected kind %q", ErrMalformed, n, l.Kind)
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}
