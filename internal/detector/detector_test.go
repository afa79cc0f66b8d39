package detector_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyagamarcel2/modsec-ai/internal/detector"
)

// clusteredData returns n points near the origin plus one far outlier at
// the end, in dim dimensions.
func clusteredData(n, dim int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	data := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		row := make([]float64, dim)
		for j := range row {
			row[j] = rng.NormFloat64() * 0.5
		}
		data = append(data, row)
	}
	outlier := make([]float64, dim)
	for j := range outlier {
		outlier[j] = 10.0
	}
	return append(data, outlier)
}

func eachDetector(cfg detector.Config) map[string]detector.Detector {
	return map[string]detector.Detector{
		"isolation_forest":     detector.NewIsolationForest(cfg),
		"local_outlier_factor": detector.NewLocalOutlierFactor(cfg),
		"elliptic_envelope":    detector.NewEllipticEnvelope(cfg),
		"one_class_svm":        detector.NewOneClassSVM(cfg),
		"ensemble":             detector.NewEnsemble(cfg),
	}
}

func TestDetectors_OutlierScoresAboveInliers(t *testing.T) {
	data := clusteredData(100, 4)
	inliers := data[:100]
	outlier := data[len(data)-1]

	for name, d := range eachDetector(detector.DefaultConfig()) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, d.Fit(data))

			inScores, err := d.Scores(inliers)
			require.NoError(t, err)
			var meanIn float64
			for _, s := range inScores {
				meanIn += s
			}
			meanIn /= float64(len(inScores))

			outScore, err := d.Score(outlier)
			require.NoError(t, err)

			assert.Greater(t, outScore, meanIn,
				"obvious outlier must score above the average inlier")
		})
	}
}

func TestDetectors_NotFittedErrors(t *testing.T) {
	for name, d := range eachDetector(detector.DefaultConfig()) {
		t.Run(name, func(t *testing.T) {
			_, err := d.Score([]float64{1, 2, 3})
			assert.ErrorIs(t, err, detector.ErrNotFitted)
		})
	}
}

func TestDetectors_EmptyTrainingRejected(t *testing.T) {
	for name, d := range eachDetector(detector.DefaultConfig()) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, d.Fit(nil))
		})
	}
}

func TestDetectors_SaveLoadRoundTrip(t *testing.T) {
	data := clusteredData(60, 3)
	sample := data[10]

	for name, d := range eachDetector(detector.DefaultConfig()) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, d.Fit(data))

			before, err := d.Score(sample)
			require.NoError(t, err)

			blob, err := d.Save()
			require.NoError(t, err)

			restored := eachDetector(detector.DefaultConfig())[name]
			require.NoError(t, restored.Load(blob))

			after, err := restored.Score(sample)
			require.NoError(t, err)
			assert.InDelta(t, before, after, 1e-9)
			assert.InDelta(t, d.Threshold(), restored.Threshold(), 1e-9)
		})
	}
}

func TestOneClassSVM_PartialFitKeepsDimension(t *testing.T) {
	svm := detector.NewOneClassSVM(detector.DefaultConfig())
	data := clusteredData(50, 4)

	require.NoError(t, svm.Fit(data))
	require.NoError(t, svm.PartialFit(clusteredData(30, 4)))

	// A batch with a different feature count must be rejected.
	err := svm.PartialFit([][]float64{{1, 2}})
	assert.ErrorIs(t, err, detector.ErrDimensionDrift)
}

func TestEnsemble_MajorityVote(t *testing.T) {
	cfg := detector.DefaultConfig()
	ens := detector.NewEnsemble(cfg)
	data := clusteredData(80, 3)

	require.NoError(t, ens.Fit(data))

	anomalous, err := ens.Decide([]float64{10, 10, 10})
	require.NoError(t, err)
	assert.True(t, anomalous, "far outlier should win the vote")
}

func TestPredictions_UsesThreshold(t *testing.T) {
	d := detector.NewEllipticEnvelope(detector.DefaultConfig())
	data := clusteredData(100, 2)
	require.NoError(t, d.Fit(data))

	labels, err := detector.Predictions(d, [][]float64{data[0], {10, 10}})
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 1, labels[1])
}
