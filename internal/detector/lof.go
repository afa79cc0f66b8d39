package detector

import (
	"bytes"
	"encoding/gob"
	"math"
	"sort"
	"sync"
)

const defaultNeighbors = 20

// LocalOutlierFactor scores samples by the ratio of their local density to
// the local density of their nearest neighbors (novelty mode: scored
// samples are compared against the retained training set).
type LocalOutlierFactor struct {
	mu sync.RWMutex

	cfg        Config
	kNeighbors int

	scaler    *StandardScaler
	train     [][]float64
	kDist     []float64 // k-distance of each training point
	lrd       []float64 // local reachability density of each training point
	threshold float64
	fitted    bool
}

func NewLocalOutlierFactor(cfg Config) *LocalOutlierFactor {
	return &LocalOutlierFactor{
		cfg:        cfg,
		kNeighbors: defaultNeighbors,
	}
}

func (l *LocalOutlierFactor) Name() string { return "local_outlier_factor" }

func (l *LocalOutlierFactor) Fit(data [][]float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(data) == 0 {
		return ErrEmptyTraining
	}

	l.scaler = FitScaler(data)
	l.train = l.scaler.Transform(data)

	k := l.kNeighbors
	if k >= len(l.train) {
		k = len(l.train) - 1
	}
	if k < 1 {
		k = 1
	}

	// k-distance for every training point.
	n := len(l.train)
	neighbors := make([][]int, n)
	l.kDist = make([]float64, n)
	for i := 0; i < n; i++ {
		idx, dist := nearest(l.train, l.train[i], k, i)
		neighbors[i] = idx
		if len(dist) > 0 {
			l.kDist[i] = dist[len(dist)-1]
		}
	}

	// Local reachability density per training point.
	l.lrd = make([]float64, n)
	for i := 0; i < n; i++ {
		var reachSum float64
		for _, j := range neighbors[i] {
			d := euclidean(l.train[i], l.train[j])
			reachSum += math.Max(d, l.kDist[j])
		}
		if reachSum == 0 {
			l.lrd[i] = math.Inf(1)
		} else {
			l.lrd[i] = float64(len(neighbors[i])) / reachSum
		}
	}

	l.fitted = true

	scores := make([]float64, n)
	for i := range l.train {
		scores[i] = l.scoreScaled(l.train[i])
	}
	l.threshold = contaminationThreshold(scores, l.cfg.Contamination)

	return nil
}

func (l *LocalOutlierFactor) Scores(data [][]float64) ([]float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.fitted {
		return nil, ErrNotFitted
	}
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = l.scoreScaled(l.scaler.TransformOne(row))
	}
	return scores, nil
}

func (l *LocalOutlierFactor) Score(sample []float64) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.fitted {
		return 0, ErrNotFitted
	}
	return l.scoreScaled(l.scaler.TransformOne(sample)), nil
}

// scoreScaled computes the LOF value of an already-scaled sample: the mean
// ratio of neighbor density to the sample's own reachability density.
func (l *LocalOutlierFactor) scoreScaled(x []float64) float64 {
	k := l.kNeighbors
	if k > len(l.train) {
		k = len(l.train)
	}

	idx, dist := nearest(l.train, x, k, -1)
	if len(idx) == 0 {
		return 0
	}

	var reachSum float64
	for n, j := range idx {
		reachSum += math.Max(dist[n], l.kDist[j])
	}
	if reachSum == 0 {
		return 1 // identical to dense training points
	}
	ownLRD := float64(len(idx)) / reachSum

	var neighborLRD float64
	for _, j := range idx {
		lrd := l.lrd[j]
		if math.IsInf(lrd, 1) {
			lrd = ownLRD
		}
		neighborLRD += lrd
	}
	neighborLRD /= float64(len(idx))

	if ownLRD == 0 {
		return math.Inf(1)
	}
	return neighborLRD / ownLRD
}

func (l *LocalOutlierFactor) Threshold() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.threshold
}

type lofState struct {
	Config     Config
	KNeighbors int
	Scaler     *StandardScaler
	Train      [][]float64
	KDist      []float64
	LRD        []float64
	Threshold  float64
}

func (l *LocalOutlierFactor) Save() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.fitted {
		return nil, ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(lofState{
		Config:     l.cfg,
		KNeighbors: l.kNeighbors,
		Scaler:     l.scaler,
		Train:      l.train,
		KDist:      l.kDist,
		LRD:        l.lrd,
		Threshold:  l.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l *LocalOutlierFactor) Load(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var state lofState
	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&state); err != nil {
		return err
	}
	l.cfg = state.Config
	l.kNeighbors = state.KNeighbors
	l.scaler = state.Scaler
	l.train = state.Train
	l.kDist = state.KDist
	l.lrd = state.LRD
	l.threshold = state.Threshold
	l.fitted = true
	return nil
}

// nearest returns the indices and distances of the k nearest points to x,
// skipping index `exclude` (pass -1 to keep all).
func nearest(points [][]float64, x []float64, k, exclude int) ([]int, []float64) {
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, 0, len(points))
	for i, p := range points {
		if i == exclude {
			continue
		}
		cands = append(cands, cand{idx: i, dist: euclidean(x, p)})
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })

	if k > len(cands) {
		k = len(cands)
	}
	idx := make([]int, k)
	dist := make([]float64, k)
	for i := 0; i < k; i++ {
		idx[i] = cands[i].idx
		dist[i] = cands[i].dist
	}
	return idx, dist
}

func euclidean(a, b []float64) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
