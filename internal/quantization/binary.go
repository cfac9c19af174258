// Package quantization implements the binary quantization codec.
//
// Each component of a float32 vector becomes a single sign bit: +1 when the
// component is strictly greater than zero, -1 otherwise. Zero, negative zero
// and NaN all map to -1. Magnitudes are discarded, so the only meaningful
// comparison left is directional and the codec mandates the angular metric.
package quantization

import (
	"encoding/binary"
	"math/bits"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
)

// MandatedMetric is the metric every binary quantized index uses
const MandatedMetric = distance.MetricAngular

// BitVector is a sign-quantized vector packed into 64-bit words.
// Bit i set means component i is +1.
type BitVector struct {
	dims  int
	words []uint64
}

// Quantize converts v to its sign bits
func Quantize(v []float32) BitVector {
	words := make([]uint64, (len(v)+63)/64)
	for i, val := range v {
		if val > 0 {
			words[i/64] |= 1 << (i % 64)
		}
	}
	return BitVector{dims: len(v), words: words}
}

// QuantizeFloats returns the ±1 float form of Quantize(v)
func QuantizeFloats(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, val := range v {
		if val > 0 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

// Dims returns the number of quantized components
func (b BitVector) Dims() int {
	return b.dims
}

// Bit reports whether component i is +1
func (b BitVector) Bit(i int) bool {
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Floats expands the bits to a ±1 vector
func (b BitVector) Floats() []float32 {
	out := make([]float32, b.dims)
	for i := range out {
		if b.Bit(i) {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

// Equal reports whether both vectors hold the same bits
func (b BitVector) Equal(o BitVector) bool {
	if b.dims != o.dims {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// Hamming counts the components where a and b differ
func Hamming(a, b BitVector) int {
	if a.dims != b.dims {
		panic("bit vectors must have the same dimension")
	}

	var dist int
	for i := range a.words {
		dist += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return dist
}

// AngularDistance is the cosine distance between the ±1 expansions of a and b.
// For N components, cos = (N - 2h) / N, so 1 - cos = 2h / N.
func AngularDistance(a, b BitVector) float32 {
	if a.dims == 0 {
		return 0
	}
	return 2 * float32(Hamming(a, b)) / float32(a.dims)
}

// Bytes packs the sign bits into little-endian 64-bit words
func (b BitVector) Bytes() []byte {
	out := make([]byte, len(b.words)*8)
	for i, w := range b.words {
		binary.LittleEndian.PutUint64(out[i*8:], w)
	}
	return out
}

// CompressionRatio compares float32 storage of dims components against
// their packed words
func CompressionRatio(dims int) float32 {
	if dims <= 0 {
		return 0
	}
	packed := ((dims + 63) / 64) * 8
	return float32(dims*4) / float32(packed)
}
