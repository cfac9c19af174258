package lifecycle

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

// State is the lifecycle state of one embedder
type State int

const (
	// StateAbsent means the embedder has no settings and no index
	StateAbsent State = iota
	// StateActive means the index matches the committed settings
	StateActive
	// StateRebuildInProgress means a replacement index is being built aside.
	// Reads are still served by the previous index.
	StateRebuildInProgress
	// StateInconsistent means the index was found to disagree with the
	// committed settings. Only a successful rebuild leaves this state.
	StateInconsistent
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRebuildInProgress:
		return "rebuild_in_progress"
	case StateInconsistent:
		return "inconsistent"
	default:
		return "absent"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var errMarkedInconsistent = errors.New("index is marked inconsistent, re-apply the embedder settings to rebuild it")

// fault is an observed disagreement between an index and the settings it
// should reflect
type fault struct {
	expected string
	actual   string
	err      error
	// mark is false when the disagreement came from the caller rather than
	// from the index
	mark bool
}

func (f *fault) Error() string {
	return fmt.Sprintf("%v (expected %s, actual %s)", f.err, f.expected, f.actual)
}

func (f *fault) Unwrap() error {
	return f.err
}

// distanceOf is the distance an index must use for cfg
func distanceOf(cfg embedder.Config) vectorindex.Distance {
	return vectorindex.DistanceFor(cfg.EffectiveMetric(), cfg.Quantized())
}
