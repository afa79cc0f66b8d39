package detector

import (
	"fmt"
)

// Combine operations supported by the ScoreCombiner.
const (
	CombineMean         = "mean"
	CombineMax          = "max"
	CombineMin          = "min"
	CombineWeightedMean = "weighted_mean"
)

// ScoreCombiner folds per-model score slices into a single score per sample.
type ScoreCombiner struct {
	operation string
	weights   map[string]float64
}

func NewScoreCombiner(operation string, weights map[string]float64) (*ScoreCombiner, error) {
	switch operation {
	case CombineMean, CombineMax, CombineMin, CombineWeightedMean:
	default:
		return nil, fmt.Errorf("invalid score operation: %q", operation)
	}
	return &ScoreCombiner{operation: operation, weights: weights}, nil
}

func (c *ScoreCombiner) Operation() string { return c.operation }

// Combine reduces a map of per-model score slices (all the same length)
// to one combined slice.
func (c *ScoreCombiner) Combine(scores map[string][]float64) ([]float64, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("no scores provided")
	}

	var n int
	for _, s := range scores {
		n = len(s)
		break
	}
	for model, s := range scores {
		if len(s) != n {
			return nil, fmt.Errorf("score length mismatch for model %s", model)
		}
	}

	switch c.operation {
	case CombineMean:
		return c.mean(scores, n), nil

	case CombineMax:
		out := make([]float64, n)
		first := true
		for _, s := range scores {
			for i, x := range s {
				if first || x > out[i] {
					out[i] = x
				}
			}
			first = false
		}
		return out, nil

	case CombineMin:
		out := make([]float64, n)
		first := true
		for _, s := range scores {
			for i, x := range s {
				if first || x < out[i] {
					out[i] = x
				}
			}
			first = false
		}
		return out, nil

	case CombineWeightedMean:
		if len(c.weights) == 0 {
			// Equal weights when none were configured.
			return c.mean(scores, n), nil
		}
		var totalWeight float64
		for model := range scores {
			w, ok := c.weights[model]
			if !ok {
				return nil, fmt.Errorf("missing weight for model: %s", model)
			}
			totalWeight += w
		}
		if totalWeight == 0 {
			return nil, fmt.Errorf("weights sum to zero")
		}
		out := make([]float64, n)
		for model, s := range scores {
			w := c.weights[model]
			for i, x := range s {
				out[i] += x * w
			}
		}
		for i := range out {
			out[i] /= totalWeight
		}
		return out, nil
	}

	return nil, fmt.Errorf("unreachable operation: %q", c.operation)
}

func (c *ScoreCombiner) mean(scores map[string][]float64, n int) []float64 {
	out := make([]float64, n)
	for _, s := range scores {
		for i, x := range s {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(scores))
	}
	return out
}
