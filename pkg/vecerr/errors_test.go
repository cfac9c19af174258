package vecerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsErrorMessage(t *testing.T) {
	err := Settings("manual", "binaryQuantized", ErrCannotDisableQuantization)

	assert.Equal(t, "`.embedders.manual.binaryQuantized`: Cannot disable the binary quantization", err.Error())
	assert.Equal(t, CodeInvalidSettingsEmbedders, err.Code)
	assert.Equal(t, "invalid_request", err.Type())
	assert.ErrorIs(t, err, ErrCannotDisableQuantization)
}

func TestKindAndCodeThroughWrapping(t *testing.T) {
	cause := &DistanceMismatchError{Expected: "angular", Actual: "binary quantized angular"}
	err := fmt.Errorf("search: %w", Consistency("manual", cause))

	assert.Equal(t, KindConsistency, KindOf(err))
	assert.Equal(t, CodeInternalConsistency, CodeOf(err))
	assert.ErrorIs(t, err, ErrDistanceMetricMismatch)

	var dm *DistanceMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, "angular", dm.Expected)
	assert.Contains(t, err.Error(), "expected angular, index has binary quantized angular")
}

func TestDimensionMismatchIs(t *testing.T) {
	err := InvalidRequest("manual", &DimensionMismatchError{Expected: 3, Actual: 2})

	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, `embedder "manual": dimension mismatch: expected 3, got 2`, err.Error())
}

func TestDefaultsForForeignErrors(t *testing.T) {
	err := errors.New("disk on fire")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "internal", Internal("", err).Type())
}

func TestRebuildError(t *testing.T) {
	err := Rebuild("manual", &DimensionMismatchError{Expected: 3, Actual: 4})

	assert.Equal(t, KindRebuild, err.Kind)
	assert.Equal(t, CodeRebuildFailed, CodeOf(err))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, "rebuild", KindRebuild.String())
}
