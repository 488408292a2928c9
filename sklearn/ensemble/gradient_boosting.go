package ensemble

import (
	"math"
	"math/rand"
	"time"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/YuminosukeSato/newsclf/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

// GradientBoostingClassifier fits an additive model of regression trees to
// the binary log-loss. Each stage fits a tree to the pseudo-residuals y - p
// and replaces its leaf values with one Newton step,
// sum(r) / sum(p(1-p)) over the samples in the leaf.
type GradientBoostingClassifier struct {
	state *model.StateManager
	params

	estimators_  []*tree.DecisionTreeRegressor
	init_        float64 // log-odds of the positive class
	classes_     []int
	importances_ []float64
	trainScore_  []float64
}

var _ model.Classifier = (*GradientBoostingClassifier)(nil)

// NewGradientBoostingClassifier creates a classifier with 100 stages of depth
// 3 trees and learning rate 0.1.
func NewGradientBoostingClassifier(opts ...Option) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{
		state: model.NewStateManager(),
		params: params{
			nEstimators:     100,
			criterion:       "squared_error",
			maxDepth:        3,
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			randomState:     -1,
			learningRate:    0.1,
			subsample:       1,
		},
	}
	for _, opt := range opts {
		opt(&gb.params)
	}
	return gb
}

// Fit runs the boosting stages. y must hold exactly two distinct labels; the
// larger one is the positive class.
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	if err := gb.params.validate(); err != nil {
		return err
	}
	Xc, labels, err := checkXY("GradientBoostingClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	classes := tree.UniqueClasses(labels)
	if len(classes) != 2 {
		return errors.NewValueError("GradientBoostingClassifier.Fit",
			"only binary classification is supported")
	}
	yIdx := tree.EncodeLabels(labels, classes)
	n := len(labels)
	_, nFeatures := Xc.Dims()

	target := make([]float64, n)
	var pos float64
	for i, k := range yIdx {
		target[i] = float64(k)
		pos += target[i]
	}
	prior := pos / float64(n)
	init := math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = init
	}
	prob := make([]float64, n)
	resid := make([]float64, n)
	importances := make([]float64, nFeatures)

	rng := gb.newRand()
	nSub := int(math.Round(gb.subsample * float64(n)))
	if nSub < 1 {
		nSub = 1
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	logger := log.GetLoggerWithName("ensemble").With(log.ModelNameKey, "gradient_boosting")
	env := &CallbackEnv{TotalStages: gb.nEstimators, BeginTime: time.Now()}
	estimators := make([]*tree.DecisionTreeRegressor, 0, gb.nEstimators)
	history := make([]float64, 0, gb.nEstimators)

	for m := 0; m < gb.nEstimators; m++ {
		for i := range raw {
			prob[i] = sigmoid(raw[i])
			resid[i] = target[i] - prob[i]
		}

		samples := perm
		if nSub < n {
			shuffle(rng, perm)
			samples = append([]int(nil), perm[:nSub]...)
		}

		dt := tree.NewDecisionTreeRegressor(gb.treeOptions(rng.Int63())...)
		if err := dt.FitSamples(Xc, resid, samples); err != nil {
			return errors.Wrapf(err, "stage %d", m)
		}
		leafOf, err := dt.Apply(Xc)
		if err != nil {
			return err
		}
		if err := newtonLeaves(dt, leafOf, samples, resid, prob); err != nil {
			return err
		}
		for i, leaf := range leafOf {
			raw[i] += gb.learningRate * dt.LeafValue(leaf)
		}
		if err := errors.CheckNumericalStability("GradientBoostingClassifier.Fit", raw, m); err != nil {
			return err
		}

		for j, v := range dt.GetFeatureImportances() {
			importances[j] += v
		}
		estimators = append(estimators, dt)
		loss := logLoss(raw, target)
		if err := errors.CheckScalar("GradientBoostingClassifier.Fit", loss, m); err != nil {
			return err
		}
		history = append(history, loss)
		logger.Debug("Boosting stage",
			log.IterationKey, m+1,
			log.LossKey, loss,
		)

		env.Iteration, env.TrainLoss = m, loss
		for _, cb := range gb.callbacks {
			if err := cb(env); err != nil {
				return err
			}
		}
		if env.StopTraining {
			logger.Info("Training stopped by callback", log.IterationKey, m+1)
			break
		}
	}
	normalize(importances)

	gb.estimators_ = estimators
	gb.init_ = init
	gb.classes_ = classes
	gb.importances_ = importances
	gb.trainScore_ = history
	gb.state.SetDimensions(nFeatures, n)
	gb.state.SetFitted()
	return nil
}

// newtonLeaves sets every leaf to sum(r)/sum(p(1-p)) over the in-bag samples
// that reach it.
func newtonLeaves(dt *tree.DecisionTreeRegressor, leafOf, samples []int, resid, prob []float64) error {
	num := make(map[int]float64)
	den := make(map[int]float64)
	for _, s := range samples {
		leaf := leafOf[s]
		num[leaf] += resid[s]
		den[leaf] += prob[s] * (1 - prob[s])
	}
	for _, leaf := range dt.Leaves() {
		v := 0.0
		if d := den[leaf]; math.Abs(d) > 1e-150 {
			v = num[leaf] / d
		}
		if err := dt.SetLeafValue(leaf, v); err != nil {
			return err
		}
	}
	return nil
}

// DecisionFunction returns the raw log-odds of the positive class.
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := gb.state.RequireFeatures("GradientBoostingClassifier.DecisionFunction", c); err != nil {
		return nil, err
	}
	Xc := tensor.FromMatrix(X)
	n, _ := Xc.Dims()
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = gb.init_
	}
	if n == 0 {
		return raw, nil
	}
	for _, dt := range gb.estimators_ {
		pred, err := dt.Predict(Xc)
		if err != nil {
			return nil, err
		}
		for i := range raw {
			raw[i] += gb.learningRate * pred.At(i, 0)
		}
	}
	return raw, nil
}

// PredictProba returns [P(classes[0]), P(classes[1])] per row.
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	raw, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(len(raw), 2, nil)
	for i, f := range raw {
		p := sigmoid(f)
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns the more probable class of every row.
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := gb.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(proba, gb.classes_), nil
}

// Score returns the mean accuracy on X and y.
func (gb *GradientBoostingClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := gb.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(metrics.ColumnVector(y), metrics.ColumnVector(pred))
}

// IsFitted reports whether Fit has completed.
func (gb *GradientBoostingClassifier) IsFitted() bool { return gb.state.IsFitted() }

// Classes returns the two class labels, ascending.
func (gb *GradientBoostingClassifier) Classes() []int { return append([]int(nil), gb.classes_...) }

// NEstimatorsFitted returns the number of stages actually fitted, which is
// smaller than n_estimators when a callback stopped training.
func (gb *GradientBoostingClassifier) NEstimatorsFitted() int { return len(gb.estimators_) }

// TrainScore returns the training log-loss after every stage.
func (gb *GradientBoostingClassifier) TrainScore() []float64 {
	return append([]float64(nil), gb.trainScore_...)
}

// GetFeatureImportances returns the mean impurity decrease per feature.
func (gb *GradientBoostingClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), gb.importances_...)
}

// GetParams returns the hyperparameters.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      gb.nEstimators,
		"learning_rate":     gb.learningRate,
		"max_depth":         gb.maxDepth,
		"min_samples_split": gb.minSamplesSplit,
		"min_samples_leaf":  gb.minSamplesLeaf,
		"max_features":      gb.maxFeatures,
		"subsample":         gb.subsample,
		"random_state":      gb.randomState,
	}
}

// SetParams updates hyperparameters; the model must be refitted afterwards.
func (gb *GradientBoostingClassifier) SetParams(p map[string]interface{}) error {
	return gb.params.setParams(p)
}

type boostingSnapshot struct {
	Params      paramsSnapshot
	Fitted      bool
	NFeatures   int
	NSamples    int
	Trees       [][]byte
	Init        float64
	Classes     []int
	Importances []float64
	TrainScore  []float64
}

// GobEncode implements gob.GobEncoder.
func (gb *GradientBoostingClassifier) GobEncode() ([]byte, error) {
	trees, err := encodeTrees(gb.estimators_)
	if err != nil {
		return nil, err
	}
	nFeatures, nSamples := gb.state.GetDimensions()
	return model.EncodeSnapshot(boostingSnapshot{
		Params:      gb.params.snapshot(),
		Fitted:      gb.state.IsFitted(),
		NFeatures:   nFeatures,
		NSamples:    nSamples,
		Trees:       trees,
		Init:        gb.init_,
		Classes:     gb.classes_,
		Importances: gb.importances_,
		TrainScore:  gb.trainScore_,
	})
}

// GobDecode implements gob.GobDecoder.
func (gb *GradientBoostingClassifier) GobDecode(data []byte) error {
	var s boostingSnapshot
	if err := model.DecodeSnapshot(data, &s); err != nil {
		return err
	}
	trees := make([]*tree.DecisionTreeRegressor, len(s.Trees))
	for i, b := range s.Trees {
		trees[i] = tree.NewDecisionTreeRegressor()
		if err := trees[i].GobDecode(b); err != nil {
			return errors.Wrapf(err, "decode stage %d", i)
		}
	}
	gb.params.restore(s.Params)
	gb.estimators_ = trees
	gb.init_, gb.classes_ = s.Init, s.Classes
	gb.importances_, gb.trainScore_ = s.Importances, s.TrainScore
	if gb.state == nil {
		gb.state = model.NewStateManager()
	}
	gb.state.Restore(s.Fitted, s.NFeatures, s.NSamples)
	return nil
}

// logLoss is the mean binary deviance of raw scores f against targets in {0,1}.
func logLoss(f, target []float64) float64 {
	var sum float64
	for i := range f {
		sum += softplus(f[i]) - target[i]*f[i]
	}
	return sum / float64(len(f))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1+exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func shuffle(rng *rand.Rand, a []int) {
	rng.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })
}

func newSeededRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func normalize(v []float64) {
	var total float64
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return
	}
	for i := range v {
		v[i] /= total
	}
}

// checkXY validates training input and converts X to CSR and y to labels.
func checkXY(op string, X, y mat.Matrix) (*tensor.CSR, []int, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	yr, yc := y.Dims()
	if yr != r {
		return nil, nil, errors.NewDimensionError(op, r, yr, 0)
	}
	if yc != 1 {
		return nil, nil, errors.NewValueError(op, "y must be a column vector")
	}
	labels := make([]int, r)
	for i := range labels {
		labels[i] = int(y.At(i, 0))
	}
	return tensor.FromMatrix(X), labels, nil
}
