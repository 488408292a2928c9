package ensemble

import (
	"fmt"
	"sync"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/parallel"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/YuminosukeSato/newsclf/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

// fitSamples is swapped out in tests.
var fitSamples = (*tree.DecisionTreeClassifier).FitSamples

// growTree fits one forest member. It runs on a worker goroutine, so a panic
// must come back as an error rather than take the process down.
func growTree(i int, dt *tree.DecisionTreeClassifier, X *tensor.CSR, y []int, classes []int, samples []int) (err error) {
	defer errors.Recover(&err, fmt.Sprintf("RandomForestClassifier.Fit tree %d", i))
	return fitSamples(dt, X, y, classes, samples)
}

// RandomForestClassifier averages the class probabilities of decision trees
// grown on bootstrap samples with per-split feature subsampling.
type RandomForestClassifier struct {
	state *model.StateManager
	params

	estimators_  []*tree.DecisionTreeClassifier
	classes_     []int
	importances_ []float64
}

var _ model.Classifier = (*RandomForestClassifier)(nil)

// NewRandomForestClassifier creates a forest of 100 gini trees with sqrt
// feature sampling and bootstrap enabled.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state: model.NewStateManager(),
		params: params{
			nEstimators:     100,
			criterion:       "gini",
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			maxFeatures:     "sqrt",
			randomState:     -1,
			bootstrap:       true,
			learningRate:    1,
			subsample:       1,
		},
	}
	for _, opt := range opts {
		opt(&rf.params)
	}
	return rf
}

// Fit grows the trees concurrently. Every tree sees the full class set, so
// the probability columns line up even when a bootstrap draw misses a class.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	if err := rf.params.validate(); err != nil {
		return err
	}
	Xc, labels, err := checkXY("RandomForestClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	classes := tree.UniqueClasses(labels)
	yIdx := tree.EncodeLabels(labels, classes)
	n := len(labels)
	_, nFeatures := Xc.Dims()

	// seeds are drawn up front so the result does not depend on scheduling
	rng := rf.newRand()
	seeds := make([]int64, rf.nEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	var (
		mu       sync.Mutex
		firstErr error
	)
	parallel.ForEach(rf.nEstimators, rf.nJobs, func(i int) {
		r := newSeededRand(seeds[i])
		samples := make([]int, n)
		for k := range samples {
			if rf.bootstrap {
				samples[k] = r.Intn(n)
			} else {
				samples[k] = k
			}
		}
		dt := tree.NewDecisionTreeClassifier(rf.treeOptions(r.Int63())...)
		if err := growTree(i, dt, Xc, yIdx, classes, samples); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "tree %d", i)
			}
			mu.Unlock()
			return
		}
		trees[i] = dt
	})
	if firstErr != nil {
		return firstErr
	}

	importances := make([]float64, nFeatures)
	for _, dt := range trees {
		for j, v := range dt.GetFeatureImportances() {
			importances[j] += v
		}
	}
	normalize(importances)

	rf.estimators_ = trees
	rf.classes_ = classes
	rf.importances_ = importances
	rf.state.SetDimensions(nFeatures, n)
	rf.state.SetFitted()

	log.GetLoggerWithName("ensemble").Debug("Random forest fitted",
		log.ModelNameKey, "random_forest",
		log.SamplesKey, n,
		log.FeaturesKey, nFeatures,
		"trees", len(trees),
	)
	return nil
}

// PredictProba returns the mean class probabilities of the trees.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := rf.state.RequireFeatures("RandomForestClassifier.PredictProba", c); err != nil {
		return nil, err
	}
	Xc := tensor.FromMatrix(X)
	n, _ := Xc.Dims()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	sum := mat.NewDense(n, len(rf.classes_), nil)
	for _, dt := range rf.estimators_ {
		p, err := dt.PredictProba(Xc)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, p)
	}
	sum.Scale(1/float64(len(rf.estimators_)), sum)
	return sum, nil
}

// Predict returns the class with the highest mean probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(proba, rf.classes_), nil
}

// Score returns the mean accuracy on X and y.
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(metrics.ColumnVector(y), metrics.ColumnVector(pred))
}

// IsFitted reports whether Fit has completed.
func (rf *RandomForestClassifier) IsFitted() bool { return rf.state.IsFitted() }

// Classes returns the class labels, ascending.
func (rf *RandomForestClassifier) Classes() []int { return append([]int(nil), rf.classes_...) }

// Estimators returns the fitted trees.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return append([]*tree.DecisionTreeClassifier(nil), rf.estimators_...)
}

// GetFeatureImportances returns the mean impurity decrease per feature.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), rf.importances_...)
}

// GetParams returns the hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"n_jobs":            rf.nJobs,
		"random_state":      rf.randomState,
	}
}

// SetParams updates hyperparameters; the forest must be refitted afterwards.
func (rf *RandomForestClassifier) SetParams(p map[string]interface{}) error {
	return rf.params.setParams(p)
}

type forestSnapshot struct {
	Params      paramsSnapshot
	Fitted      bool
	NFeatures   int
	NSamples    int
	Trees       [][]byte
	Classes     []int
	Importances []float64
}

// GobEncode implements gob.GobEncoder.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	trees, err := encodeTrees(rf.estimators_)
	if err != nil {
		return nil, err
	}
	nFeatures, nSamples := rf.state.GetDimensions()
	return model.EncodeSnapshot(forestSnapshot{
		Params:      rf.params.snapshot(),
		Fitted:      rf.state.IsFitted(),
		NFeatures:   nFeatures,
		NSamples:    nSamples,
		Trees:       trees,
		Classes:     rf.classes_,
		Importances: rf.importances_,
	})
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var s forestSnapshot
	if err := model.DecodeSnapshot(data, &s); err != nil {
		return err
	}
	trees := make([]*tree.DecisionTreeClassifier, len(s.Trees))
	for i, b := range s.Trees {
		trees[i] = tree.NewDecisionTreeClassifier()
		if err := trees[i].GobDecode(b); err != nil {
			return errors.Wrapf(err, "decode tree %d", i)
		}
	}
	rf.params.restore(s.Params)
	rf.estimators_, rf.classes_, rf.importances_ = trees, s.Classes, s.Importances
	if rf.state == nil {
		rf.state = model.NewStateManager()
	}
	rf.state.Restore(s.Fitted, s.NFeatures, s.NSamples)
	return nil
}
