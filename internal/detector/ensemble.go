package detector

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

// Ensemble combines the four base detector families: Score is the mean of
// the sub-model scores and the anomaly decision is a majority vote.
type Ensemble struct {
	mu sync.RWMutex

	cfg       Config
	members   []Detector
	threshold float64
	fitted    bool
}

// NewEnsemble builds the default four-member ensemble. The members are
// independent instances, not the bank's own detectors.
func NewEnsemble(cfg Config) *Ensemble {
	return &Ensemble{
		cfg: cfg,
		members: []Detector{
			NewIsolationForest(cfg),
			NewLocalOutlierFactor(cfg),
			NewEllipticEnvelope(cfg),
			NewOneClassSVM(cfg),
		},
	}
}

func (e *Ensemble) Name() string { return "ensemble" }

func (e *Ensemble) Fit(data [][]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(data) == 0 {
		return ErrEmptyTraining
	}

	for _, m := range e.members {
		if err := m.Fit(data); err != nil {
			return fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
	}
	e.fitted = true

	scores, err := e.scores(data)
	if err != nil {
		return err
	}
	// Majority decision lives in Decide; the threshold only calibrates the
	// mean-score view of the ensemble.
	e.threshold = contaminationThreshold(scores, e.cfg.Contamination)
	return nil
}

func (e *Ensemble) Scores(data [][]float64) ([]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return nil, ErrNotFitted
	}
	return e.scores(data)
}

func (e *Ensemble) scores(data [][]float64) ([]float64, error) {
	sums := make([]float64, len(data))
	for _, m := range e.members {
		s, err := m.Scores(data)
		if err != nil {
			return nil, fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
		for i, x := range s {
			sums[i] += x
		}
	}
	for i := range sums {
		sums[i] /= float64(len(e.members))
	}
	return sums, nil
}

func (e *Ensemble) Score(sample []float64) (float64, error) {
	scores, err := e.Scores([][]float64{sample})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// Decide runs the majority vote: a sample is anomalous when at least half
// of the members place it past their own thresholds.
func (e *Ensemble) Decide(sample []float64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return false, ErrNotFitted
	}

	votes := 0
	for _, m := range e.members {
		score, err := m.Score(sample)
		if err != nil {
			return false, fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
		if score >= m.Threshold() {
			votes++
		}
	}
	return votes*2 >= len(e.members), nil
}

func (e *Ensemble) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

func (e *Ensemble) Save() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.fitted {
		return nil, ErrNotFitted
	}

	blobs := make(map[string][]byte, len(e.members))
	for _, m := range e.members {
		data, err := m.Save()
		if err != nil {
			return nil, fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
		blobs[m.Name()] = data
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(e.threshold); err != nil {
		return nil, err
	}
	if err := enc.Encode(blobs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Ensemble) Load(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&e.threshold); err != nil {
		return err
	}
	var blobs map[string][]byte
	if err := dec.Decode(&blobs); err != nil {
		return err
	}

	for _, m := range e.members {
		blob, ok := blobs[m.Name()]
		if !ok {
			return fmt.Errorf("ensemble artifact missing member %s", m.Name())
		}
		if err := m.Load(blob); err != nil {
			return fmt.Errorf("ensemble member %s: %w", m.Name(), err)
		}
	}
	e.fitted = true
	return nil
}
