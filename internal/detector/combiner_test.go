package detector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyagamarcel2/modsec-ai/internal/detector"
)

func TestScoreCombiner_Mean(t *testing.T) {
	c, err := detector.NewScoreCombiner(detector.CombineMean, nil)
	require.NoError(t, err)

	combined, err := c.Combine(map[string][]float64{
		"a": {0.2, 0.4},
		"b": {0.4, 0.8},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.6}, combined, 1e-9)
}

func TestScoreCombiner_MaxMin(t *testing.T) {
	scores := map[string][]float64{
		"a": {0.2, 0.9},
		"b": {0.5, 0.1},
	}

	max, err := detector.NewScoreCombiner(detector.CombineMax, nil)
	require.NoError(t, err)
	combined, err := max.Combine(scores)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.9}, combined, 1e-9)

	min, err := detector.NewScoreCombiner(detector.CombineMin, nil)
	require.NoError(t, err)
	combined, err = min.Combine(scores)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, 0.1}, combined, 1e-9)
}

func TestScoreCombiner_WeightedMean(t *testing.T) {
	c, err := detector.NewScoreCombiner(detector.CombineWeightedMean, map[string]float64{
		"a": 3,
		"b": 1,
	})
	require.NoError(t, err)

	combined, err := c.Combine(map[string][]float64{
		"a": {1.0},
		"b": {0.0},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, combined[0], 1e-9)
}

func TestScoreCombiner_WeightedMeanMissingWeight(t *testing.T) {
	c, err := detector.NewScoreCombiner(detector.CombineWeightedMean, map[string]float64{"a": 1})
	require.NoError(t, err)

	_, err = c.Combine(map[string][]float64{"a": {1}, "b": {2}})
	assert.ErrorContains(t, err, "missing weight")
}

func TestScoreCombiner_InvalidOperation(t *testing.T) {
	_, err := detector.NewScoreCombiner("median", nil)
	assert.ErrorContains(t, err, "invalid score operation")
}

func TestScoreCombiner_EmptyScores(t *testing.T) {
	c, err := detector.NewScoreCombiner(detector.CombineMean, nil)
	require.NoError(t, err)

	_, err = c.Combine(nil)
	assert.Error(t, err)
}
