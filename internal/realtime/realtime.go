// Package realtime classifies a stream of anomaly scores against an
// adaptive threshold computed over a sliding window.
package realtime

import (
	"math"
	"sync"

	"github.com/montanaflynn/stats"
)

// Stats is a snapshot of the detector's running state.
type Stats struct {
	TotalScores  int     `json:"total_scores"`
	Anomalies    int     `json:"anomalies"`
	AnomalyRatio float64 `json:"anomaly_ratio"`
	Mean         float64 `json:"mean"`
	Std          float64 `json:"std"`
	Threshold    float64 `json:"threshold"`
}

// Detector keeps a bounded window of recent scores. With the adaptive
// mode on, the threshold follows the tail of the window's own z-score
// distribution; otherwise it is a fixed two sigma above the mean.
type Detector struct {
	mu sync.Mutex

	windowSize      int
	adaptive        bool
	minAnomalyRatio float64

	window    []float64
	total     int
	anomalies int
}

func New(windowSize int, adaptive bool, minAnomalyRatio float64) *Detector {
	if windowSize < 2 {
		windowSize = 2
	}
	return &Detector{
		windowSize:      windowSize,
		adaptive:        adaptive,
		minAnomalyRatio: minAnomalyRatio,
	}
}

// Observe records a score and reports whether it crosses the current
// threshold. The score joins the window after classification, so a spike
// is judged against the traffic that preceded it.
func (d *Detector) Observe(score float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := d.thresholdLocked()
	isAnomaly := score > threshold

	d.total++
	if isAnomaly {
		d.anomalies++
	}

	d.window = append(d.window, score)
	if len(d.window) > d.windowSize {
		d.window = d.window[1:]
	}
	return isAnomaly
}

// Threshold returns the current decision boundary. With fewer than two
// observed scores there is no distribution to threshold against, so
// everything passes.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thresholdLocked()
}

func (d *Detector) thresholdLocked() float64 {
	if len(d.window) < 2 {
		return math.Inf(1)
	}

	data := stats.Float64Data(d.window)
	mean, _ := stats.Mean(data)
	std, _ := stats.StandardDeviation(data)

	// A flat window has no scale: anything above it by a margin counts.
	if std == 0 {
		return mean + 1.0
	}

	if !d.adaptive {
		return mean + 2*std
	}

	zs := make([]float64, len(d.window))
	for i, s := range d.window {
		zs[i] = math.Abs((s - mean) / std)
	}
	p95, err := stats.Percentile(stats.Float64Data(zs), 95)
	if err != nil {
		return mean + 2*std
	}
	return mean + p95*std
}

// ShouldAlert reports whether the window is full and the observed
// anomaly ratio reached the configured minimum.
func (d *Detector) ShouldAlert() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.window) < d.windowSize || d.total == 0 {
		return false
	}
	return float64(d.anomalies)/float64(d.total) >= d.minAnomalyRatio
}

// Stats snapshots the running counters and current threshold.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		TotalScores: d.total,
		Anomalies:   d.anomalies,
		Threshold:   d.thresholdLocked(),
	}
	if d.total > 0 {
		s.AnomalyRatio = float64(d.anomalies) / float64(d.total)
	}
	if len(d.window) > 0 {
		data := stats.Float64Data(d.window)
		s.Mean, _ = stats.Mean(data)
		s.Std, _ = stats.StandardDeviation(data)
	}
	return s
}

// Reset clears the window and the counters.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = nil
	d.total = 0
	d.anomalies = 0
}
