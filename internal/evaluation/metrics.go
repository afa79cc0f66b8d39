// Package evaluation computes binary classification metrics for the model
// bank (anomaly = positive class).
package evaluation

import (
	"sort"
)

// Performance is one evaluation snapshot for a model.
type Performance struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	AUC       float64 `json:"auc"`
}

// Evaluate computes precision/recall/F1 from hard predictions and ROC-AUC
// from raw scores. Degenerate label sets (no positives or no negatives)
// yield zeroed metrics instead of NaN.
func Evaluate(predictions []int, scores []float64, labels []int) Performance {
	return Performance{
		Precision: Precision(predictions, labels),
		Recall:    Recall(predictions, labels),
		F1:        F1(predictions, labels),
		AUC:       ROCAUC(scores, labels),
	}
}

func Precision(predictions, labels []int) float64 {
	tp, fp, _, _ := confusion(predictions, labels)
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

func Recall(predictions, labels []int) float64 {
	tp, _, fn, _ := confusion(predictions, labels)
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

func F1(predictions, labels []int) float64 {
	p := Precision(predictions, labels)
	r := Recall(predictions, labels)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ROCAUC is the probability that a random positive scores above a random
// negative, computed from the rank statistic with ties counted half.
func ROCAUC(scores []float64, labels []int) float64 {
	n := len(scores)
	if len(labels) < n {
		n = len(labels)
	}

	var nPos, nNeg float64
	for i := 0; i < n; i++ {
		if labels[i] == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	// Average ranks over tied scores.
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	var rankSum float64
	for i := 0; i < n; i++ {
		if labels[i] == 1 {
			rankSum += ranks[i]
		}
	}

	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

func confusion(predictions, labels []int) (tp, fp, fn, tn int) {
	n := len(predictions)
	if len(labels) < n {
		n = len(labels)
	}
	for i := 0; i < n; i++ {
		switch {
		case predictions[i] == 1 && labels[i] == 1:
			tp++
		case predictions[i] == 1 && labels[i] == 0:
			fp++
		case predictions[i] == 0 && labels[i] == 1:
			fn++
		default:
			tn++
		}
	}
	return
}
