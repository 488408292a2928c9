package tree

import "math"

// criterion measures node impurity from additive sufficient statistics.
//
// For classification the statistics are per-class sample counts; for
// regression they are [sum(y), sum(y^2)].
type criterion interface {
	impurity(stats []float64, n float64) float64
	leafValue(stats []float64, n float64) []float64
}

type gini struct{}

func (gini) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		p := c / n
		s -= p * p
	}
	return s
}

func (gini) leafValue(counts []float64, n float64) []float64 { return proportions(counts, n) }

type entropy struct{}

func (entropy) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c > 0 {
			p := c / n
			h -= p * math.Log2(p)
		}
	}
	return h
}

func (entropy) leafValue(counts []float64, n float64) []float64 { return proportions(counts, n) }

type squaredError struct{}

func (squaredError) impurity(stats []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	mean := stats[0] / n
	v := stats[1]/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

func (squaredError) leafValue(stats []float64, n float64) []float64 {
	if n == 0 {
		return []float64{0}
	}
	return []float64{stats[0] / n}
}

func proportions(counts []float64, n float64) []float64 {
	out := make([]float64, len(counts))
	if n == 0 {
		return out
	}
	for k, c := range counts {
		out[k] = c / n
	}
	return out
}

func newCriterion(name string) (criterion, bool) {
	switch name {
	case "gini":
		return gini{}, true
	case "entropy", "log_loss":
		return entropy{}, true
	case "squared_error", "mse":
		return squaredError{}, true
	}
	return nil, false
}
