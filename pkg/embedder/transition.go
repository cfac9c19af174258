package embedder

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

// Action is the work a transition requires before it may be committed
type Action int

const (
	// MetadataOnly transitions commit without touching the index
	MetadataOnly Action = iota
	// RequiresRebuild transitions commit only after the index was rebuilt
	// for the new configuration
	RequiresRebuild
)

func (a Action) String() string {
	if a == RequiresRebuild {
		return "requires_rebuild"
	}
	return "metadata_only"
}

// Transition is a validated configuration change. It is bound to the store
// revision it was validated against.
type Transition struct {
	Name   string
	Before *Config // nil when the embedder is created
	After  Config
	Action Action

	revision uint64
}

// Creates reports whether the transition creates the embedder
func (t Transition) Creates() bool {
	return t.Before == nil
}

// EnablesQuantization reports whether the transition turns quantization on
func (t Transition) EnablesQuantization() bool {
	return t.After.Quantized() && (t.Before == nil || !t.Before.Quantized())
}

// latch is the outcome of a quantization move
type latch int

const (
	latchKeep latch = iota
	latchEnable
	latchReject
)

// quantizationMoves lists every (current, requested) quantization pair
var quantizationMoves = map[[2]Quantization]latch{
	{QuantizationOff, QuantizationOff}:       latchKeep,
	{QuantizationOff, QuantizationBinary}:    latchEnable,
	{QuantizationBinary, QuantizationBinary}: latchKeep,
	{QuantizationBinary, QuantizationOff}:    latchReject,
}

// fieldError is a settings field rejection
type fieldError struct {
	msg string
}

func (e fieldError) Error() string { return e.msg }

func (e fieldError) Unwrap() error { return vecerr.ErrInvalidSettings }

func invalidField(name, field, format string, args ...interface{}) error {
	return vecerr.Settings(name, field, fieldError{msg: fmt.Sprintf(format, args...)})
}

// plan validates settings against the current config and describes the
// resulting transition. hasVectors reports whether the embedder stores any
// vectors; it is consulted only for dimension changes.
func plan(name string, current *Config, s Settings, hasVectors func() bool) (Transition, error) {
	if name == "" {
		return Transition{}, invalidField(name, "", "embedder name must not be empty")
	}
	if s.Dimensions != nil && *s.Dimensions <= 0 {
		return Transition{}, invalidField(name, "dimensions", "`dimensions` must be a positive integer, got %d", *s.Dimensions)
	}
	if s.Source != nil {
		if _, err := ParseSource(string(*s.Source)); err != nil {
			return Transition{}, invalidField(name, "source", "%v", err)
		}
	}
	if s.Distance != nil {
		if _, err := s.Distance.MarshalText(); err != nil {
			return Transition{}, invalidField(name, "distance", "%v", err)
		}
	}

	// (a) creation
	if current == nil {
		return planCreate(name, s)
	}

	after := *current
	if s.Source != nil {
		after.Source = *s.Source
	}
	if s.BinaryQuantized != nil {
		after.Quantization = QuantizationFor(*s.BinaryQuantized)
	}

	// (b) quantization latch
	move := quantizationMoves[[2]Quantization{current.Quantization, after.Quantization}]
	if move == latchReject {
		return Transition{}, vecerr.Settings(name, "binaryQuantized", vecerr.ErrCannotDisableQuantization)
	}

	// (c) dimensions are fixed once vectors exist
	dimsChanged := false
	if s.Dimensions != nil && *s.Dimensions != current.Dimensions {
		if hasVectors() {
			return Transition{}, vecerr.Settings(name, "dimensions",
				&vecerr.DimensionMismatchError{Expected: current.Dimensions, Actual: *s.Dimensions})
		}
		after.Dimensions = *s.Dimensions
		dimsChanged = true
	}

	if err := applyDistance(name, &after, s.Distance); err != nil {
		return Transition{}, err
	}

	// (d) classify
	action := MetadataOnly
	if move == latchEnable || dimsChanged || after.EffectiveMetric() != current.EffectiveMetric() {
		action = RequiresRebuild
	}

	before := *current
	return Transition{Name: name, Before: &before, After: after, Action: action}, nil
}

func planCreate(name string, s Settings) (Transition, error) {
	if s.Dimensions == nil {
		return Transition{}, invalidField(name, "dimensions", "`dimensions` is required when creating an embedder")
	}

	after := Config{
		Source:     SourceUserProvided,
		Dimensions: *s.Dimensions,
		Distance:   distance.MetricAngular,
	}
	if s.Source != nil {
		after.Source = *s.Source
	}
	if s.BinaryQuantized != nil {
		after.Quantization = QuantizationFor(*s.BinaryQuantized)
	}
	if err := applyDistance(name, &after, s.Distance); err != nil {
		return Transition{}, err
	}

	action := MetadataOnly
	if after.Quantized() {
		action = RequiresRebuild
	}
	return Transition{Name: name, After: after, Action: action}, nil
}

// applyDistance sets the requested metric on cfg. Quantized embedders only
// accept the codec's metric; an inherited one is overridden.
func applyDistance(name string, cfg *Config, requested *distance.Metric) error {
	if requested != nil {
		cfg.Distance = *requested
	}
	if !cfg.Quantized() || cfg.Distance == cfg.EffectiveMetric() {
		return nil
	}
	if requested != nil {
		return invalidField(name, "distance",
			"binary quantized embedders only support the `%s` distance, got `%s`", cfg.EffectiveMetric(), *requested)
	}
	cfg.Distance = cfg.EffectiveMetric()
	return nil
}

// IsCannotDisable reports whether err rejects turning quantization off
func IsCannotDisable(err error) bool {
	return errors.Is(err, vecerr.ErrCannotDisableQuantization)
}
