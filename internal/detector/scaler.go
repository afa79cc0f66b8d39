package detector

import (
	"github.com/montanaflynn/stats"
)

// StandardScaler centers each feature to zero mean and unit variance,
// mirroring the scaling every detector family applies before fitting.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler learns per-feature mean and standard deviation.
func FitScaler(data [][]float64) *StandardScaler {
	if len(data) == 0 {
		return &StandardScaler{}
	}

	nFeatures := len(data[0])
	s := &StandardScaler{
		Mean: make([]float64, nFeatures),
		Std:  make([]float64, nFeatures),
	}

	col := make([]float64, len(data))
	for j := 0; j < nFeatures; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		m, _ := stats.Mean(stats.Float64Data(col))
		sd, _ := stats.StandardDeviation(stats.Float64Data(col))
		s.Mean[j] = m
		s.Std[j] = sd
	}
	return s
}

// Transform scales a batch. Constant features (std 0) pass through centered.
func (s *StandardScaler) Transform(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = s.TransformOne(row)
	}
	return out
}

func (s *StandardScaler) TransformOne(row []float64) []float64 {
	if len(s.Mean) == 0 {
		return append([]float64(nil), row...)
	}
	out := make([]float64, len(row))
	for j := range row {
		if j >= len(s.Mean) {
			out[j] = row[j]
			continue
		}
		out[j] = row[j] - s.Mean[j]
		if s.Std[j] > 0 {
			out[j] /= s.Std[j]
		}
	}
	return out
}
