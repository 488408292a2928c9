// Package ensemble implements tree ensembles: RandomForestClassifier and a
// binary GradientBoostingClassifier. Both grow their trees with the sparse
// CART builder of package tree, so they train directly on TF-IDF matrices.
package ensemble

import (
	"math/rand"
	"time"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/sklearn/tree"
)

// params holds the hyperparameters of both ensembles. Each estimator starts
// from its own defaults and ignores the fields it does not use.
type params struct {
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	randomState     int64

	// random forest
	bootstrap bool
	nJobs     int

	// gradient boosting
	learningRate float64
	subsample    float64
	callbacks    []Callback
}

// Option configures an ensemble.
type Option func(*params)

// WithNEstimators sets the number of trees (boosting stages).
func WithNEstimators(n int) Option { return func(p *params) { p.nEstimators = n } }

// WithCriterion sets the split criterion of the random forest trees.
func WithCriterion(c string) Option { return func(p *params) { p.criterion = c } }

// WithMaxDepth limits the depth of every tree. Zero or negative means unlimited.
func WithMaxDepth(d int) Option { return func(p *params) { p.maxDepth = d } }

// WithMinSamplesSplit sets the minimum number of samples needed to split a node.
func WithMinSamplesSplit(n int) Option { return func(p *params) { p.minSamplesSplit = n } }

// WithMinSamplesLeaf sets the minimum number of samples per leaf.
func WithMinSamplesLeaf(n int) Option { return func(p *params) { p.minSamplesLeaf = n } }

// WithMaxFeatures sets the per-split feature sampling ("sqrt", "log2", "all" or an integer).
func WithMaxFeatures(mf string) Option { return func(p *params) { p.maxFeatures = mf } }

// WithRandomState fixes the seed. Negative draws one from the clock.
func WithRandomState(seed int64) Option { return func(p *params) { p.randomState = seed } }

// WithBootstrap toggles bootstrap sampling of the random forest.
func WithBootstrap(b bool) Option { return func(p *params) { p.bootstrap = b } }

// WithNJobs sets how many trees are grown concurrently. <= 0 uses every CPU.
func WithNJobs(n int) Option { return func(p *params) { p.nJobs = n } }

// WithLearningRate sets the shrinkage applied to every boosting stage.
func WithLearningRate(lr float64) Option { return func(p *params) { p.learningRate = lr } }

// WithSubsample sets the fraction of rows drawn (without replacement) per stage.
func WithSubsample(f float64) Option { return func(p *params) { p.subsample = f } }

// WithCallbacks registers callbacks run after every boosting stage.
func WithCallbacks(cbs ...Callback) Option {
	return func(p *params) { p.callbacks = append(p.callbacks, cbs...) }
}

func (p *params) validate() error {
	if p.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", p.nEstimators)
	}
	if p.learningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be > 0", p.learningRate)
	}
	if p.subsample <= 0 || p.subsample > 1 {
		return errors.NewValidationError("subsample", "must be in (0, 1]", p.subsample)
	}
	return nil
}

func (p *params) treeOptions(seed int64) []tree.Option {
	return []tree.Option{
		tree.WithCriterion(p.criterion),
		tree.WithMaxDepth(p.maxDepth),
		tree.WithMinSamplesSplit(p.minSamplesSplit),
		tree.WithMinSamplesLeaf(p.minSamplesLeaf),
		tree.WithMaxFeatures(p.maxFeatures),
		tree.WithRandomState(seed),
	}
}

func (p *params) newRand() *rand.Rand {
	if p.randomState >= 0 {
		return rand.New(rand.NewSource(p.randomState))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (p *params) setParams(values map[string]interface{}) error {
	for key, value := range values {
		var ok bool
		switch key {
		case "n_estimators":
			p.nEstimators, ok = value.(int)
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
		case "bootstrap":
			p.bootstrap, ok = value.(bool)
		case "n_jobs":
			p.nJobs, ok = value.(int)
		case "learning_rate":
			p.learningRate, ok = value.(float64)
		case "subsample":
			p.subsample, ok = value.(float64)
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

type paramsSnapshot struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	RandomState     int64
	Bootstrap       bool
	NJobs           int
	LearningRate    float64
	Subsample       float64
}

func (p *params) snapshot() paramsSnapshot {
	return paramsSnapshot{
		NEstimators:     p.nEstimators,
		Criterion:       p.criterion,
		MaxDepth:        p.maxDepth,
		MinSamplesSplit: p.minSamplesSplit,
		MinSamplesLeaf:  p.minSamplesLeaf,
		MaxFeatures:     p.maxFeatures,
		RandomState:     p.randomState,
		Bootstrap:       p.bootstrap,
		NJobs:           p.nJobs,
		LearningRate:    p.learningRate,
		Subsample:       p.subsample,
	}
}

// restore keeps the registered callbacks; they are not persisted.
func (p *params) restore(s paramsSnapshot) {
	p.nEstimators = s.NEstimators
	p.criterion = s.Criterion
	p.maxDepth = s.MaxDepth
	p.minSamplesSplit = s.MinSamplesSplit
	p.minSamplesLeaf = s.MinSamplesLeaf
	p.maxFeatures = s.MaxFeatures
	p.randomState = s.RandomState
	p.bootstrap = s.Bootstrap
	p.nJobs = s.NJobs
	p.learningRate = s.LearningRate
	p.subsample = s.Subsample
}

func encodeTrees[T interface{ GobEncode() ([]byte, error) }](trees []T) ([][]byte, error) {
	out := make([][]byte, len(trees))
	for i, t := range trees {
		b, err := t.GobEncode()
		if err != nil {
			return nil, errors.Wrapf(err, "encode tree %d", i)
		}
		out[i] = b
	}
	return out, nil
}
