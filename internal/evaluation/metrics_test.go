package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrecisionRecallF1(t *testing.T) {
	preds := []int{1, 1, 1, 0, 0, 0}
	labels := []int{1, 1, 0, 1, 0, 0}

	// tp=2 fp=1 fn=1
	assert.InDelta(t, 2.0/3.0, Precision(preds, labels), 1e-9)
	assert.InDelta(t, 2.0/3.0, Recall(preds, labels), 1e-9)
	assert.InDelta(t, 2.0/3.0, F1(preds, labels), 1e-9)
}

func TestPerfectClassifier(t *testing.T) {
	preds := []int{1, 0, 1, 0}
	labels := []int{1, 0, 1, 0}
	scores := []float64{0.9, 0.1, 0.8, 0.2}

	perf := Evaluate(preds, scores, labels)
	assert.Equal(t, 1.0, perf.Precision)
	assert.Equal(t, 1.0, perf.Recall)
	assert.Equal(t, 1.0, perf.F1)
	assert.Equal(t, 1.0, perf.AUC)
}

func TestDegenerateLabels(t *testing.T) {
	preds := []int{0, 0, 0}
	scores := []float64{0.1, 0.2, 0.3}

	allNeg := []int{0, 0, 0}
	perf := Evaluate(preds, scores, allNeg)
	assert.Zero(t, perf.Precision)
	assert.Zero(t, perf.Recall)
	assert.Zero(t, perf.F1)
	assert.Zero(t, perf.AUC)

	allPos := []int{1, 1, 1}
	assert.Zero(t, ROCAUC(scores, allPos))
}

func TestROCAUCTies(t *testing.T) {
	// One positive and one negative share a score: tie counts half.
	scores := []float64{0.5, 0.5}
	labels := []int{1, 0}
	assert.InDelta(t, 0.5, ROCAUC(scores, labels), 1e-9)
}

func TestROCAUCInverted(t *testing.T) {
	// Positives scored strictly lower than negatives.
	scores := []float64{0.1, 0.2, 0.8, 0.9}
	labels := []int{1, 1, 0, 0}
	assert.InDelta(t, 0.0, ROCAUC(scores, labels), 1e-9)
}

func TestROCAUCPartialOverlap(t *testing.T) {
	scores := []float64{0.9, 0.4, 0.6, 0.2}
	labels := []int{1, 1, 0, 0}
	// Pairs: (0.9>0.6), (0.9>0.2), (0.4<0.6), (0.4>0.2) -> 3/4.
	assert.InDelta(t, 0.75, ROCAUC(scores, labels), 1e-9)
}

func TestZeroPredictions(t *testing.T) {
	preds := []int{0, 0}
	labels := []int{1, 0}
	assert.Zero(t, Precision(preds, labels))
	assert.Zero(t, Recall(preds, labels))
	assert.Zero(t, F1(preds, labels))
}
