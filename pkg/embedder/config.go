// Package embedder holds per-embedder configuration and validates changes
// to it.
//
// Binary quantization is a one-way latch: once enabled for an embedder it can
// never be turned off. The allowed quantization moves are listed in a single
// table (see transition.go) and every update goes through ProposeUpdate,
// which describes the work a caller must do before committing.
package embedder

import (
	"encoding/json"
	"fmt"

	"github.com/therealutkarshpriyadarshi/embedstore/internal/quantization"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
)

// Source is where an embedder's vectors come from
type Source string

const (
	SourceUserProvided Source = "userProvided"
	SourceOpenAI       Source = "openAi"
	SourceHuggingFace  Source = "huggingFace"
	SourceOllama       Source = "ollama"
	SourceREST         Source = "rest"
)

// ParseSource validates a source name
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceUserProvided, SourceOpenAI, SourceHuggingFace, SourceOllama, SourceREST:
		return src, nil
	default:
		return "", fmt.Errorf("unknown embedder source %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UserProvided reports whether vectors are supplied with the documents
func (s Source) UserProvided() bool {
	return s == SourceUserProvided
}

// Quantization is the stored form of an embedder's vectors
type Quantization uint8

const (
	QuantizationOff Quantization = iota
	QuantizationBinary
)

// QuantizationFor maps the binaryQuantized flag to a Quantization
func QuantizationFor(binaryQuantized bool) Quantization {
	if binaryQuantized {
		return QuantizationBinary
	}
	return QuantizationOff
}

func (q Quantization) String() string {
	if q == QuantizationBinary {
		return "binary"
	}
	return "off"
}

// MarshalJSON encodes the flag form used in settings payloads
func (q Quantization) MarshalJSON() ([]byte, error) {
	return json.Marshal(q == QuantizationBinary)
}

// UnmarshalJSON decodes the flag form used in settings payloads
func (q *Quantization) UnmarshalJSON(data []byte) error {
	var flag bool
	if err := json.Unmarshal(data, &flag); err != nil {
		return fmt.Errorf("binaryQuantized must be a boolean: %w", err)
	}
	*q = QuantizationFor(flag)
	return nil
}

// Config is the committed configuration of one embedder
type Config struct {
	Source       Source          `json:"source"`
	Dimensions   int             `json:"dimensions"`
	Distance     distance.Metric `json:"distance"`
	Quantization Quantization    `json:"binaryQuantized"`
}

// Quantized reports whether vectors are stored binary quantized
func (c Config) Quantized() bool {
	return c.Quantization == QuantizationBinary
}

// EffectiveMetric is the metric the embedder's index must use
func (c Config) EffectiveMetric() distance.Metric {
	if c.Quantized() {
		return quantization.MandatedMetric
	}
	return c.Distance
}

// Settings is a partial update to an embedder. Nil fields keep their current
// value, or take the default on creation.
type Settings struct {
	Source          *Source          `json:"source,omitempty"`
	Dimensions      *int             `json:"dimensions,omitempty"`
	Distance        *distance.Metric `json:"distance,omitempty"`
	BinaryQuantized *bool            `json:"binaryQuantized,omitempty"`
}

// WithSource sets the source
func (s Settings) WithSource(src Source) Settings {
	s.Source = &src
	return s
}

// WithDimensions sets the dimensions
func (s Settings) WithDimensions(dims int) Settings {
	s.Dimensions = &dims
	return s
}

// WithDistance sets the distance metric
func (s Settings) WithDistance(m distance.Metric) Settings {
	s.Distance = &m
	return s
}

// WithBinaryQuantized sets the quantization flag
func (s Settings) WithBinaryQuantized(on bool) Settings {
	s.BinaryQuantized = &on
	return s
}

// SettingsOf returns a patch that sets every field of c
func SettingsOf(c Config) Settings {
	return Settings{}.
		WithSource(c.Source).
		WithDimensions(c.Dimensions).
		WithDistance(c.Distance).
		WithBinaryQuantized(c.Quantized())
}
