// Package detector provides the unsupervised anomaly detection model bank:
// isolation forest, local outlier factor, elliptic envelope, one-class SVM
// and an ensemble over all four.
package detector

import (
	"errors"

	"github.com/montanaflynn/stats"
)

// Detector is the common contract for every model in the bank.
// Scores are oriented so that higher means more anomalous.
type Detector interface {
	Name() string

	// Fit trains the detector from scratch on a sample matrix
	// (rows are samples, columns features).
	Fit(data [][]float64) error

	// Scores returns anomaly scores for a batch.
	Scores(data [][]float64) ([]float64, error)

	// Score returns the anomaly score for a single sample.
	Score(sample []float64) (float64, error)

	// Threshold is the fitted decision boundary: Score >= Threshold
	// classifies a sample as anomalous.
	Threshold() float64

	// Save and Load round-trip the fitted model state.
	Save() ([]byte, error)
	Load(data []byte) error
}

// IncrementalDetector is implemented by detectors whose underlying
// algorithm supports incremental refresh on a new batch.
type IncrementalDetector interface {
	Detector
	PartialFit(data [][]float64) error
}

// FitStrategy tags how a bank entry is refreshed during an update.
// The updater branches on this tag, never on runtime type inspection.
type FitStrategy string

const (
	// FullRefit retrains a fresh instance from the buffered window.
	FullRefit FitStrategy = "full_refit"
	// Incremental calls PartialFit on the live instance.
	Incremental FitStrategy = "incremental"
)

var (
	ErrNotFitted      = errors.New("detector: model not fitted")
	ErrEmptyTraining  = errors.New("detector: empty training data")
	ErrDimensionDrift = errors.New("detector: sample dimension does not match training data")
)

// Config holds the knobs shared by every detector family.
type Config struct {
	// Contamination is the expected proportion of anomalies in training
	// data, used to place the decision threshold.
	Contamination float64
	// Seed makes tree construction reproducible.
	Seed int64
}

func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		Seed:          42,
	}
}

// Predictions converts scores into binary labels (1 anomaly, 0 normal)
// using the detector's fitted threshold.
func Predictions(d Detector, data [][]float64) ([]int, error) {
	scores, err := d.Scores(data)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s >= d.Threshold() {
			labels[i] = 1
		}
	}
	return labels, nil
}

// contaminationThreshold places the boundary at the (1-contamination)
// percentile of the training scores.
func contaminationThreshold(scores []float64, contamination float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	p, err := stats.Percentile(stats.Float64Data(scores), 100*(1-contamination))
	if err != nil {
		// Single score or degenerate input: fall back to the max.
		max, _ := stats.Max(stats.Float64Data(scores))
		return max
	}
	return p
}
