// Package projection converts between a document's `_vectors` payload and
// the stored vector records.
//
// Accepted input forms per embedder:
//
//	[0.1, 0.2]                                   one vector, regenerate false
//	[[0.1, 0.2], [0.3, 0.4]]                     several vectors, regenerate false
//	null                                         no vectors, regenerate false
//	{"embeddings": <any form above>, "regenerate": bool}
//
// On read every embedder is rendered in the object form with the vectors as
// the index stores them, so quantized embedders show -1 and 1 components.
package projection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/docstore"
)

// Vectors is the read payload of one embedder for one document
type Vectors struct {
	Embeddings [][]float32 `json:"embeddings"`
	Regenerate bool        `json:"regenerate"`
}

// Input is a parsed `_vectors` entry
type Input struct {
	Embeddings [][]float32
	Regenerate bool
}

// Record converts the input into the record stored for doc
func (in Input) Record(doc uint32) docstore.VectorRecord {
	return docstore.VectorRecord{DocumentID: doc, Embeddings: in.Embeddings, Regenerate: in.Regenerate}
}

type objectForm struct {
	Embeddings json.RawMessage `json:"embeddings"`
	Regenerate *bool           `json:"regenerate"`
}

// Parse reads one embedder's `_vectors` entry
func Parse(raw json.RawMessage) (Input, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Input{}, errors.New("empty vectors payload")
	}

	switch raw[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var obj objectForm
		if err := dec.Decode(&obj); err != nil {
			return Input{}, fmt.Errorf("invalid vectors object: %w", err)
		}
		if obj.Regenerate == nil {
			return Input{}, errors.New("missing field `regenerate` in vectors object")
		}
		embeddings, err := parseEmbeddings(obj.Embeddings)
		if err != nil {
			return Input{}, err
		}
		return Input{Embeddings: embeddings, Regenerate: *obj.Regenerate}, nil
	default:
		embeddings, err := parseEmbeddings(raw)
		if err != nil {
			return Input{}, err
		}
		return Input{Embeddings: embeddings}, nil
	}
}

// parseEmbeddings accepts null, a flat array or an array of arrays
func parseEmbeddings(raw json.RawMessage) ([][]float32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '[' {
		return nil, fmt.Errorf("expected an array of numbers or an array of arrays, got %s", truncate(raw))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("invalid embeddings: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	first := bytes.TrimSpace(items[0])
	if len(first) > 0 && first[0] == '[' {
		var nested [][]float32
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("invalid embeddings: %w", err)
		}
		return nested, nil
	}

	var flat []float32
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("invalid embeddings: %w", err)
	}
	return [][]float32{flat}, nil
}

// ParseDocument reads a whole `_vectors` object keyed by embedder name
func ParseDocument(raw json.RawMessage) (map[string]Input, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("`_vectors` must be an object: %w", err)
	}

	out := make(map[string]Input, len(entries))
	for name, entry := range entries {
		in, err := Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("`_vectors.%s`: %w", name, err)
		}
		out[name] = in
	}
	return out, nil
}

// Project builds the read payload of a record whose vectors, as stored by
// the index, are indexed
func Project(rec docstore.VectorRecord, indexed [][]float32) Vectors {
	if indexed == nil {
		indexed = [][]float32{}
	}
	return Vectors{Embeddings: indexed, Regenerate: rec.Regenerate}
}

func truncate(raw []byte) string {
	if len(raw) > 32 {
		return string(raw[:32]) + "..."
	}
	return string(raw)
}
