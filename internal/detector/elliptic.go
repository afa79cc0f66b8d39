package detector

import (
	"bytes"
	"encoding/gob"
	"math"
	"sync"
)

// varianceFloor keeps the Mahalanobis distance finite on constant features.
const varianceFloor = 1e-9

// EllipticEnvelope fits a Gaussian with diagonal covariance and scores
// samples by Mahalanobis distance from the fitted center.
type EllipticEnvelope struct {
	mu sync.RWMutex

	cfg Config

	center    []float64
	variance  []float64
	threshold float64
	fitted    bool
}

func NewEllipticEnvelope(cfg Config) *EllipticEnvelope {
	return &EllipticEnvelope{cfg: cfg}
}

func (e *EllipticEnvelope) Name() string { return "elliptic_envelope" }

func (e *EllipticEnvelope) Fit(data [][]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(data) == 0 {
		return ErrEmptyTraining
	}

	nFeatures := len(data[0])
	n := float64(len(data))

	e.center = make([]float64, nFeatures)
	e.variance = make([]float64, nFeatures)

	for _, row := range data {
		for j := 0; j < nFeatures && j < len(row); j++ {
			e.center[j] += row[j]
		}
	}
	for j := range e.center {
		e.center[j] /= n
	}

	for _, row := range data {
		for j := 0; j < nFeatures && j < len(row); j++ {
			d := row[j] - e.center[j]
			e.variance[j] += d * d
		}
	}
	for j := range e.variance {
		e.variance[j] /= n
		if e.variance[j] < varianceFloor {
			e.variance[j] = varianceFloor
		}
	}

	e.fitted = true

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = e.mahalanobis(row)
	}
	e.threshold = contaminationThreshold(scores, e.cfg.Contamination)

	return nil
}

func (e *EllipticEnvelope) Scores(data [][]float64) ([]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return nil, ErrNotFitted
	}
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = e.mahalanobis(row)
	}
	return scores, nil
}

func (e *EllipticEnvelope) Score(sample []float64) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return 0, ErrNotFitted
	}
	return e.mahalanobis(sample), nil
}

func (e *EllipticEnvelope) mahalanobis(row []float64) float64 {
	var sum float64
	for j := 0; j < len(e.center) && j < len(row); j++ {
		d := row[j] - e.center[j]
		sum += d * d / e.variance[j]
	}
	return math.Sqrt(sum)
}

func (e *EllipticEnvelope) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

type ellipticState struct {
	Config    Config
	Center    []float64
	Variance  []float64
	Threshold float64
}

func (e *EllipticEnvelope) Save() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return nil, ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(ellipticState{
		Config:    e.cfg,
		Center:    e.center,
		Variance:  e.variance,
		Threshold: e.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *EllipticEnvelope) Load(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var state ellipticState
	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&state); err != nil {
		return err
	}
	e.cfg = state.Config
	e.center = state.Center
	e.variance = state.Variance
	e.threshold = state.Threshold
	e.fitted = true
	return nil
}
