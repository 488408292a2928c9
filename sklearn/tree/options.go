package tree

import (
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
)

// params holds the hyperparameters shared by the classifier and the regressor.
type params struct {
	criterion       string // "gini", "entropy" or "squared_error"
	maxDepth        int    // <= 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "", "all", "sqrt", "log2" or an integer
	randomState     int64  // < 0 draws a seed from the clock
}

// Option configures a decision tree.
type Option func(*params)

// WithCriterion sets the split quality measure.
func WithCriterion(c string) Option { return func(p *params) { p.criterion = c } }

// WithMaxDepth limits tree depth. Zero or negative means unlimited.
func WithMaxDepth(d int) Option { return func(p *params) { p.maxDepth = d } }

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) Option { return func(p *params) { p.minSamplesSplit = n } }

// WithMinSamplesLeaf sets the minimum number of samples required at each leaf.
func WithMinSamplesLeaf(n int) Option { return func(p *params) { p.minSamplesLeaf = n } }

// WithMaxFeatures sets how many features are considered per split:
// "sqrt", "log2", "all" (or "") or an integer such as "100".
func WithMaxFeatures(mf string) Option { return func(p *params) { p.maxFeatures = mf } }

// WithRandomState fixes the seed used for feature sampling.
func WithRandomState(seed int64) Option { return func(p *params) { p.randomState = seed } }

func defaultParams(criterion string) params {
	return params{
		criterion:       criterion,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		randomState:     -1,
	}
}

func (p *params) validate() error {
	if _, ok := newCriterion(p.criterion); !ok {
		return errors.NewValidationError("criterion", "unknown criterion", p.criterion)
	}
	if p.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", p.minSamplesSplit)
	}
	if p.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", p.minSamplesLeaf)
	}
	if _, err := resolveMaxFeatures(p.maxFeatures, 1); err != nil {
		return err
	}
	return nil
}

// resolveMaxFeatures turns the max_features setting into a feature count.
func resolveMaxFeatures(mf string, nFeatures int) (int, error) {
	var k int
	switch mf {
	case "", "all":
		return nFeatures, nil
	case "sqrt":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	default:
		n, err := strconv.Atoi(mf)
		if err != nil || n < 1 {
			return 0, errors.NewValidationError("max_features", "must be sqrt, log2, all or a positive integer", mf)
		}
		k = n
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k, nil
}

func (p *params) newRand() *rand.Rand {
	if p.randomState >= 0 {
		return rand.New(rand.NewSource(p.randomState))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (p *params) getParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         p.criterion,
		"max_depth":         p.maxDepth,
		"min_samples_split": p.minSamplesSplit,
		"min_samples_leaf":  p.minSamplesLeaf,
		"max_features":      p.maxFeatures,
		"random_state":      p.randomState,
	}
}

func (p *params) setParams(values map[string]interface{}) error {
	for key, value := range values {
		var ok bool
		switch key {
		case "criterion":
			p.criterion, ok = value.(string)
		case "max_depth":
			p.maxDepth, ok = value.(int)
		case "min_samples_split":
			p.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			p.minSamplesLeaf, ok = value.(int)
		case "max_features":
			p.maxFeatures, ok = value.(string)
		case "random_state":
			switch v := value.(type) {
			case int64:
				p.randomState, ok = v, true
			case int:
				p.randomState, ok = int64(v), true
			}
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong type", value)
		}
	}
	return nil
}
