package detector

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sync"
)

const (
	defaultTrees      = 100
	defaultSampleSize = 256
	eulerMascheroni   = 0.5772156649
)

// IsolationForest isolates anomalies with random-split trees: anomalous
// samples end up in shallow leaves, so short average path lengths score high.
type IsolationForest struct {
	mu sync.RWMutex

	cfg        Config
	nTrees     int
	sampleSize int
	maxDepth   int
	rng        *rand.Rand

	trees     []*isoNode
	avgPath   float64
	threshold float64
	fitted    bool
}

// isoNode is one node of an isolation tree. Fields are exported for gob.
type isoNode struct {
	Feature int
	Split   float64
	Left    *isoNode
	Right   *isoNode
	Size    int
}

func NewIsolationForest(cfg Config) *IsolationForest {
	return &IsolationForest{
		cfg:        cfg,
		nTrees:     defaultTrees,
		sampleSize: defaultSampleSize,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (f *IsolationForest) Name() string { return "isolation_forest" }

func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return ErrEmptyTraining
	}

	nSamples := len(data)
	nFeatures := len(data[0])

	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize) + 1)))

	f.trees = make([]*isoNode, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		f.trees[i] = f.grow(sample, nFeatures, 0)
	}

	f.avgPath = unsuccessfulSearchLength(float64(sampleSize))
	f.fitted = true

	scores := make([]float64, nSamples)
	for i, row := range data {
		scores[i] = f.score(row)
	}
	f.threshold = contaminationThreshold(scores, f.cfg.Contamination)

	return nil
}

func (f *IsolationForest) grow(data [][]float64, nFeatures, depth int) *isoNode {
	n := len(data)
	if depth >= f.maxDepth || n <= 1 {
		return &isoNode{Size: n}
	}

	feature := f.rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &isoNode{Size: n}
	}

	split := minVal + f.rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		Feature: feature,
		Split:   split,
		Left:    f.grow(left, nFeatures, depth+1),
		Right:   f.grow(right, nFeatures, depth+1),
	}
}

func (f *IsolationForest) Scores(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.fitted {
		return nil, ErrNotFitted
	}
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.score(row)
	}
	return scores, nil
}

func (f *IsolationForest) Score(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.fitted {
		return 0, ErrNotFitted
	}
	return f.score(sample), nil
}

// score is 2^(-E[h(x)]/c(n)): close to 1 for anomalies, below 0.5 for inliers.
func (f *IsolationForest) score(sample []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(sample, tree, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.avgPath)
}

func pathLength(sample []float64, n *isoNode, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + unsuccessfulSearchLength(float64(n.Size))
	}
	if n.Feature < len(sample) && sample[n.Feature] < n.Split {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// unsuccessfulSearchLength is c(n), the average BST unsuccessful search
// path length used to normalize isolation depths.
func unsuccessfulSearchLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}

func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

type isoForestState struct {
	Config     Config
	NTrees     int
	SampleSize int
	MaxDepth   int
	Trees      []*isoNode
	AvgPath    float64
	Threshold  float64
}

func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.fitted {
		return nil, ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(isoForestState{
		Config:     f.cfg,
		NTrees:     f.nTrees,
		SampleSize: f.sampleSize,
		MaxDepth:   f.maxDepth,
		Trees:      f.trees,
		AvgPath:    f.avgPath,
		Threshold:  f.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *IsolationForest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var state isoForestState
	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&state); err != nil {
		return err
	}

	f.cfg = state.Config
	f.nTrees = state.NTrees
	f.sampleSize = state.SampleSize
	f.maxDepth = state.MaxDepth
	f.trees = state.Trees
	f.avgPath = state.AvgPath
	f.threshold = state.Threshold
	f.rng = rand.New(rand.NewSource(state.Config.Seed))
	f.fitted = true
	return nil
}
