package embedder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

func mustCommit(t *testing.T, s *Store, name string, settings Settings) Transition {
	t.Helper()
	tr, err := s.ProposeUpdate(name, settings)
	require.NoError(t, err)
	require.NoError(t, s.Commit(tr))
	return tr
}

func TestProposeUpdate_Create(t *testing.T) {
	s := NewStore(nil, nil)

	tr, err := s.ProposeUpdate("manual", Settings{}.WithDimensions(3))
	require.NoError(t, err)
	assert.True(t, tr.Creates())
	assert.Equal(t, MetadataOnly, tr.Action)
	assert.Equal(t, Config{Source: SourceUserProvided, Dimensions: 3, Distance: distance.MetricAngular}, tr.After)

	// Proposing does not change the store
	_, ok := s.Get("manual")
	assert.False(t, ok)

	tr, err = s.ProposeUpdate("manual", Settings{}.WithDimensions(3).WithBinaryQuantized(true))
	require.NoError(t, err)
	assert.Equal(t, RequiresRebuild, tr.Action)
	assert.True(t, tr.EnablesQuantization())
}

func TestProposeUpdate_CreateValidation(t *testing.T) {
	s := NewStore(nil, nil)

	tests := []struct {
		name     string
		embedder string
		settings Settings
		field    string
	}{
		{name: "missing dimensions", embedder: "e", settings: Settings{}, field: "dimensions"},
		{name: "zero dimensions", embedder: "e", settings: Settings{}.WithDimensions(0), field: "dimensions"},
		{name: "negative dimensions", embedder: "e", settings: Settings{}.WithDimensions(-4), field: "dimensions"},
		{name: "unknown source", embedder: "e", settings: Settings{}.WithDimensions(3).WithSource("magic"), field: "source"},
		{name: "empty name", embedder: "", settings: Settings{}.WithDimensions(3), field: ""},
		{
			name:     "explicit non angular with quantization",
			embedder: "e",
			settings: Settings{}.WithDimensions(3).WithBinaryQuantized(true).WithDistance(distance.MetricEuclidean),
			field:    "distance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ProposeUpdate(tt.embedder, tt.settings)
			require.Error(t, err)

			var verr *vecerr.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, vecerr.KindValidation, verr.Kind)
			assert.Equal(t, vecerr.CodeInvalidSettingsEmbedders, verr.Code)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, vecerr.ErrInvalidSettings)
		})
	}
}

func TestQuantizationLatch(t *testing.T) {
	tests := []struct {
		name    string
		current bool
		request bool
		action  Action
		reject  bool
	}{
		{name: "off to off", current: false, request: false, action: MetadataOnly},
		{name: "off to on", current: false, request: true, action: RequiresRebuild},
		{name: "on to on", current: true, request: true, action: MetadataOnly},
		{name: "on to off", current: true, request: false, reject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(nil, nil)
			mustCommit(t, s, "e", Settings{}.WithDimensions(4).WithBinaryQuantized(tt.current))
			before, _ := s.Get("e")

			tr, err := s.ProposeUpdate("e", Settings{}.WithBinaryQuantized(tt.request))
			if tt.reject {
				require.Error(t, err)
				assert.True(t, IsCannotDisable(err))
				assert.Equal(t, vecerr.CodeInvalidSettingsEmbedders, vecerr.CodeOf(err))
				assert.Equal(t, "`.embedders.e.binaryQuantized`: Cannot disable the binary quantization", err.Error())

				after, _ := s.Get("e")
				assert.Equal(t, before, after)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, tr.Action)
			assert.Equal(t, tt.request, tr.After.Quantized())
		})
	}
}

func TestCannotDisableEvenWithOtherChanges(t *testing.T) {
	s := NewStore(nil, nil)
	mustCommit(t, s, "e", Settings{}.WithDimensions(4).WithBinaryQuantized(true))

	_, err := s.ProposeUpdate("e", Settings{}.WithSource(SourceOpenAI).WithBinaryQuantized(false))
	assert.ErrorIs(t, err, vecerr.ErrCannotDisableQuantization)

	// Omitting the flag keeps quantization on
	tr, err := s.ProposeUpdate("e", Settings{}.WithSource(SourceOpenAI))
	require.NoError(t, err)
	assert.True(t, tr.After.Quantized())
	assert.Equal(t, MetadataOnly, tr.Action)
}

func TestDimensionChanges(t *testing.T) {
	hasVectors := true
	s := NewStore(OccupancyFunc(func(string) bool { return hasVectors }), nil)
	mustCommit(t, s, "e", Settings{}.WithDimensions(3))

	_, err := s.ProposeUpdate("e", Settings{}.WithDimensions(4))
	require.Error(t, err)
	assert.ErrorIs(t, err, vecerr.ErrDimensionMismatch)
	assert.Equal(t, "`.embedders.e.dimensions`: Dimension mismatch: expected 3, got 4", err.Error())

	// Same dimensions is not a change
	tr, err := s.ProposeUpdate("e", Settings{}.WithDimensions(3))
	require.NoError(t, err)
	assert.Equal(t, MetadataOnly, tr.Action)

	hasVectors = false
	tr, err = s.ProposeUpdate("e", Settings{}.WithDimensions(4))
	require.NoError(t, err)
	assert.Equal(t, RequiresRebuild, tr.Action)
	assert.Equal(t, 4, tr.After.Dimensions)
}

func TestDisableCheckedBeforeDimensions(t *testing.T) {
	s := NewStore(OccupancyFunc(func(string) bool { return true }), nil)
	mustCommit(t, s, "e", Settings{}.WithDimensions(3).WithBinaryQuantized(true))

	_, err := s.ProposeUpdate("e", Settings{}.WithDimensions(5).WithBinaryQuantized(false))
	assert.ErrorIs(t, err, vecerr.ErrCannotDisableQuantization)
}

func TestDistanceChanges(t *testing.T) {
	s := NewStore(nil, nil)
	mustCommit(t, s, "e", Settings{}.WithDimensions(3).WithDistance(distance.MetricEuclidean))

	// Metric change requires a rebuild
	tr, err := s.ProposeUpdate("e", Settings{}.WithDistance(distance.MetricManhattan))
	require.NoError(t, err)
	assert.Equal(t, RequiresRebuild, tr.Action)

	// Enabling quantization forces the inherited metric to angular
	tr, err = s.ProposeUpdate("e", Settings{}.WithBinaryQuantized(true))
	require.NoError(t, err)
	assert.Equal(t, RequiresRebuild, tr.Action)
	assert.Equal(t, distance.MetricAngular, tr.After.Distance)

	// An explicit conflicting metric is rejected
	_, err = s.ProposeUpdate("e", Settings{}.WithBinaryQuantized(true).WithDistance(distance.MetricDotProduct))
	require.Error(t, err)
	var verr *vecerr.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "distance", verr.Field)
}

func TestCommit_Stale(t *testing.T) {
	s := NewStore(nil, nil)
	mustCommit(t, s, "e", Settings{}.WithDimensions(3))

	first, err := s.ProposeUpdate("e", Settings{}.WithSource(SourceOllama))
	require.NoError(t, err)
	second, err := s.ProposeUpdate("e", Settings{}.WithSource(SourceREST))
	require.NoError(t, err)

	require.NoError(t, s.Commit(second))
	err = s.Commit(first)
	assert.ErrorIs(t, err, vecerr.ErrStaleTransition)

	cfg, _ := s.Get("e")
	assert.Equal(t, SourceREST, cfg.Source)

	// A creation proposed before a delete-and-recreate is stale too
	create, err := s.ProposeUpdate("f", Settings{}.WithDimensions(2))
	require.NoError(t, err)
	mustCommit(t, s, "f", Settings{}.WithDimensions(2))
	assert.ErrorIs(t, s.Commit(create), vecerr.ErrStaleTransition)
}

func TestRemoveAndNames(t *testing.T) {
	s := NewStore(nil, nil)
	mustCommit(t, s, "b", Settings{}.WithDimensions(2))
	mustCommit(t, s, "a", Settings{}.WithDimensions(2))

	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.Len(t, s.All(), 2)

	ok, err := s.Remove("a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Remove("a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, s.Names())
}

type memPersister struct {
	saved   map[string]Config
	failErr error
}

func (p *memPersister) SaveEmbedder(name string, cfg Config) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.saved[name] = cfg
	return nil
}

func (p *memPersister) DeleteEmbedder(name string) error {
	if p.failErr != nil {
		return p.failErr
	}
	delete(p.saved, name)
	return nil
}

func (p *memPersister) LoadEmbedders() (map[string]Config, error) {
	out := make(map[string]Config, len(p.saved))
	for k, v := range p.saved {
		out[k] = v
	}
	return out, p.failErr
}

func TestPersister(t *testing.T) {
	p := &memPersister{saved: make(map[string]Config)}
	s := NewStore(nil, p)
	mustCommit(t, s, "e", Settings{}.WithDimensions(3).WithBinaryQuantized(true))
	assert.True(t, p.saved["e"].Quantized())

	reloaded := NewStore(nil, p)
	require.NoError(t, reloaded.Load())
	cfg, ok := reloaded.Get("e")
	require.True(t, ok)
	assert.Equal(t, p.saved["e"], cfg)

	// A failed save leaves the committed config untouched
	p.failErr = errors.New("disk full")
	tr, err := reloaded.ProposeUpdate("e", Settings{}.WithSource(SourceOllama))
	require.NoError(t, err)
	require.Error(t, reloaded.Commit(tr))
	after, _ := reloaded.Get("e")
	assert.Equal(t, cfg, after)
}

func TestSettingsJSON(t *testing.T) {
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(`{"source":"userProvided","dimensions":3,"binaryQuantized":true}`), &s))
	require.NotNil(t, s.Dimensions)
	assert.Equal(t, 3, *s.Dimensions)
	assert.True(t, *s.BinaryQuantized)
	assert.Nil(t, s.Distance)

	assert.Error(t, json.Unmarshal([]byte(`{"source":"nope"}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"distance":"hamming"}`), &s))

	cfg := Config{Source: SourceUserProvided, Dimensions: 3, Distance: distance.MetricAngular, Quantization: QuantizationBinary}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"userProvided","dimensions":3,"distance":"angular","binaryQuantized":true}`, string(data))

	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)

	patch := SettingsOf(cfg)
	assert.Equal(t, 3, *patch.Dimensions)
	assert.True(t, *patch.BinaryQuantized)
}
