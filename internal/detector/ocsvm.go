package detector

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sync"
)

const (
	defaultNu       = 0.1
	defaultEpochs   = 20
	defaultFeatures = 100 // random Fourier feature count
	learningRate    = 0.01
)

// OneClassSVM approximates an RBF one-class SVM: inputs are lifted with
// random Fourier features and a linear frontier is trained on them with
// stochastic gradient descent. Because SGD keeps running weights, this is
// the one bank member that supports incremental refresh via PartialFit.
type OneClassSVM struct {
	mu sync.RWMutex

	cfg      Config
	nu       float64
	epochs   int
	features int
	rng      *rand.Rand

	scaler   *StandardScaler
	inputDim int
	omega    [][]float64 // RFF projection, features x inputDim
	phase    []float64   // RFF phases

	weights   []float64
	rho       float64
	seen      int
	threshold float64
	fitted    bool
}

func NewOneClassSVM(cfg Config) *OneClassSVM {
	return &OneClassSVM{
		cfg:      cfg,
		nu:       defaultNu,
		epochs:   defaultEpochs,
		features: defaultFeatures,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *OneClassSVM) Name() string { return "one_class_svm" }

func (s *OneClassSVM) Fit(data [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) == 0 {
		return ErrEmptyTraining
	}

	s.scaler = FitScaler(data)
	s.initFeatureMap(len(data[0]))
	s.weights = make([]float64, s.features)
	s.rho = 0
	s.seen = 0

	s.sgd(s.lift(s.scaler.Transform(data)), s.epochs)
	s.fitted = true
	s.calibrate(data)
	return nil
}

// PartialFit continues SGD on a new batch without resetting the weights.
// The scaler and feature map learned at first fit are kept so vectors stay
// comparable across batches.
func (s *OneClassSVM) PartialFit(data [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) == 0 {
		return ErrEmptyTraining
	}
	if !s.fitted {
		s.scaler = FitScaler(data)
		s.initFeatureMap(len(data[0]))
		s.weights = make([]float64, s.features)
	}
	if len(data[0]) != s.inputDim {
		return ErrDimensionDrift
	}

	s.sgd(s.lift(s.scaler.Transform(data)), 1)
	s.fitted = true
	s.calibrate(data)
	return nil
}

// initFeatureMap draws the random Fourier projection for an RBF kernel
// with bandwidth scaled to the input dimensionality.
func (s *OneClassSVM) initFeatureMap(inputDim int) {
	s.inputDim = inputDim
	gamma := 1.0 / (2.0 * float64(inputDim))
	scale := math.Sqrt(2 * gamma)

	s.omega = make([][]float64, s.features)
	s.phase = make([]float64, s.features)
	for i := range s.omega {
		row := make([]float64, inputDim)
		for j := range row {
			row[j] = s.rng.NormFloat64() * scale
		}
		s.omega[i] = row
		s.phase[i] = s.rng.Float64() * 2 * math.Pi
	}
}

// liftOne maps a scaled sample into the random Fourier feature space.
func (s *OneClassSVM) liftOne(x []float64) []float64 {
	z := make([]float64, s.features)
	norm := math.Sqrt(2.0 / float64(s.features))
	for i := range z {
		z[i] = norm * math.Cos(dot(s.omega[i], x)+s.phase[i])
	}
	return z
}

func (s *OneClassSVM) lift(scaled [][]float64) [][]float64 {
	out := make([][]float64, len(scaled))
	for i, row := range scaled {
		out[i] = s.liftOne(row)
	}
	return out
}

// sgd minimizes 0.5||w||^2 + (1/nu)*E[max(0, rho - <w,z>)] - rho.
func (s *OneClassSVM) sgd(lifted [][]float64, epochs int) {
	for epoch := 0; epoch < epochs; epoch++ {
		for _, i := range s.rng.Perm(len(lifted)) {
			z := lifted[i]
			s.seen++
			lr := learningRate / (1 + learningRate*float64(s.seen)/1000)

			violated := dot(s.weights, z) < s.rho
			for j := range s.weights {
				grad := s.weights[j]
				if violated {
					grad -= z[j] / s.nu
				}
				s.weights[j] -= lr * grad
			}
			if violated {
				s.rho -= lr * (1/s.nu - 1)
			} else {
				s.rho += lr
			}
		}
	}
}

// calibrate re-derives the decision threshold from the current batch.
func (s *OneClassSVM) calibrate(data [][]float64) {
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = s.decision(row)
	}
	s.threshold = contaminationThreshold(scores, s.cfg.Contamination)
}

// decision is rho - <w,z(x)>: positive outside the learned frontier.
func (s *OneClassSVM) decision(raw []float64) float64 {
	return s.rho - dot(s.weights, s.liftOne(s.scaler.TransformOne(raw)))
}

func (s *OneClassSVM) Scores(data [][]float64) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fitted {
		return nil, ErrNotFitted
	}
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = s.decision(row)
	}
	return scores, nil
}

func (s *OneClassSVM) Score(sample []float64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fitted {
		return 0, ErrNotFitted
	}
	return s.decision(sample), nil
}

func (s *OneClassSVM) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

type ocsvmState struct {
	Config    Config
	Nu        float64
	Features  int
	Scaler    *StandardScaler
	InputDim  int
	Omega     [][]float64
	Phase     []float64
	Weights   []float64
	Rho       float64
	Seen      int
	Threshold float64
}

func (s *OneClassSVM) Save() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fitted {
		return nil, ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(ocsvmState{
		Config:    s.cfg,
		Nu:        s.nu,
		Features:  s.features,
		Scaler:    s.scaler,
		InputDim:  s.inputDim,
		Omega:     s.omega,
		Phase:     s.phase,
		Weights:   s.weights,
		Rho:       s.rho,
		Seen:      s.seen,
		Threshold: s.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *OneClassSVM) Load(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state ocsvmState
	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&state); err != nil {
		return err
	}
	s.cfg = state.Config
	s.nu = state.Nu
	s.features = state.Features
	s.scaler = state.Scaler
	s.inputDim = state.InputDim
	s.omega = state.Omega
	s.phase = state.Phase
	s.weights = state.Weights
	s.rho = state.Rho
	s.seen = state.Seen
	s.threshold = state.Threshold
	s.rng = rand.New(rand.NewSource(state.Config.Seed))
	s.fitted = true
	return nil
}

func dot(a, b []float64) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
