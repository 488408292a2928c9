// Package linear_model provides linear classifiers compatible with
// scikit-learn's linear_model module.
package linear_model

import (
	"math"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/sklearn/tree"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression (L2 penalty, one-vs-rest
// for more than two classes).
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2" or "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	classWeight  string  // Class weight: "balanced", "none"
	solver       string  // Solver: "lbfgs" or "gd"
	maxIter      int     // Maximum iterations
	tol          float64 // Tolerance for stopping

	// Model parameters
	coef_      [][]float64 // Coefficients (1 x n_features for binary, n_classes x n_features otherwise)
	intercept_ []float64   // Intercept terms
	classes_   []int       // Unique class labels
	nClasses_  int         // Number of classes
	nFeatures_ int         // Number of features
	nIter_     []int       // Actual iterations per binary problem
}

var _ model.Classifier = (*LogisticRegression)(nil)

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		classWeight:  "none",
		solver:       "lbfgs",
		maxIter:      100,
		tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.penalty = penalty }
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.fitIntercept = fit }
}

// WithLRClassWeight sets class weighting ("balanced" or "none")
func WithLRClassWeight(w string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.classWeight = w }
}

// WithLRSolver sets the optimization solver
func WithLRSolver(solver string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.solver = solver }
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.maxIter = maxIter }
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.tol = tol }
}

func (lr *LogisticRegression) validate() error {
	switch {
	case lr.penalty != "l2" && lr.penalty != "none":
		return errors.NewValidationError("penalty", "only l2 and none are supported", lr.penalty)
	case lr.C <= 0:
		return errors.NewValidationError("C", "must be positive", lr.C)
	case lr.solver != "lbfgs" && lr.solver != "gd":
		return errors.NewValidationError("solver", "must be lbfgs or gd", lr.solver)
	case lr.maxIter < 1:
		return errors.NewValidationError("max_iter", "must be >= 1", lr.maxIter)
	case lr.classWeight != "none" && lr.classWeight != "balanced" && lr.classWeight != "":
		return errors.NewValidationError("class_weight", "must be balanced or none", lr.classWeight)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit", "y must be a column vector")
	}

	labels := make([]int, nSamples)
	for i := range labels {
		labels[i] = int(y.At(i, 0))
	}
	lr.classes_ = tree.UniqueClasses(labels)
	lr.nClasses_ = len(lr.classes_)
	if lr.nClasses_ < 2 {
		return errors.NewValueError("LogisticRegression.Fit", "needs samples of at least 2 classes")
	}
	lr.nFeatures_ = nFeatures
	yIdx := tree.EncodeLabels(labels, lr.classes_)
	weights := lr.sampleWeights(yIdx)

	Xc := tensor.FromMatrix(X)
	problems := lr.nClasses_
	if problems == 2 {
		problems = 1
	}
	lr.coef_ = make([][]float64, problems)
	lr.intercept_ = make([]float64, problems)
	lr.nIter_ = make([]int, problems)

	for k := 0; k < problems; k++ {
		positive := k
		if problems == 1 {
			positive = 1
		}
		target := make([]float64, nSamples)
		for i, c := range yIdx {
			if c == positive {
				target[i] = 1
			}
		}
		if err := lr.fitBinary(Xc, target, weights, k); err != nil {
			return errors.Wrapf(err, "failed to fit class %d", lr.classes_[positive])
		}
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	return nil
}

// sampleWeights returns per-sample weights for class_weight="balanced",
// n_samples / (n_classes * count(class)); nil means uniform.
func (lr *LogisticRegression) sampleWeights(yIdx []int) []float64 {
	if lr.classWeight != "balanced" {
		return nil
	}
	counts := make([]float64, lr.nClasses_)
	for _, c := range yIdx {
		counts[c]++
	}
	w := make([]float64, len(yIdx))
	for i, c := range yIdx {
		w[i] = float64(len(yIdx)) / (float64(lr.nClasses_) * counts[c])
	}
	return w
}

// objective is the binary log loss averaged over samples plus the L2 term
// ||w||^2 / (2*C*n). The intercept, stored last in x, is not penalized.
type objective struct {
	X         *tensor.CSR
	y         []float64
	weights   []float64
	alpha     float64 // 1 / (C * n), or 0 without penalty
	intercept bool
	nFeatures int
}

func (o *objective) linear(x []float64, i int) float64 {
	z := o.X.RowDot(i, x[:o.nFeatures])
	if o.intercept {
		z += x[o.nFeatures]
	}
	return z
}

func (o *objective) weight(i int) float64 {
	if o.weights == nil {
		return 1
	}
	return o.weights[i]
}

func (o *objective) Func(x []float64) float64 {
	n := len(o.y)
	var loss float64
	for i := 0; i < n; i++ {
		z := o.linear(x, i)
		loss += o.weight(i) * (softplus(z) - o.y[i]*z)
	}
	loss /= float64(n)
	var reg float64
	for _, w := range x[:o.nFeatures] {
		reg += w * w
	}
	return loss + 0.5*o.alpha*reg
}

func (o *objective) Grad(grad, x []float64) {
	n := len(o.y)
	for j := range grad {
		grad[j] = 0
	}
	for i := 0; i < n; i++ {
		r := o.weight(i) * (sigmoid(o.linear(x, i)) - o.y[i]) / float64(n)
		o.X.DoRowNonZero(i, func(j int, v float64) { grad[j] += r * v })
		if o.intercept {
			grad[o.nFeatures] += r
		}
	}
	for j := 0; j < o.nFeatures; j++ {
		grad[j] += o.alpha * x[j]
	}
}

func (lr *LogisticRegression) fitBinary(X *tensor.CSR, target, weights []float64, k int) error {
	n, nFeatures := X.Dims()
	obj := &objective{X: X, y: target, weights: weights, intercept: lr.fitIntercept, nFeatures: nFeatures}
	if lr.penalty == "l2" {
		obj.alpha = 1 / (lr.C * float64(n))
	}
	dim := nFeatures
	if lr.fitIntercept {
		dim++
	}
	x0 := make([]float64, dim)

	var x []float64
	var iters int
	var converged bool
	var msg string
	switch lr.solver {
	case "gd":
		x, iters, converged = lr.gradientDescent(obj, x0)
	default:
		result, err := optimize.Minimize(
			optimize.Problem{Func: obj.Func, Grad: obj.Grad},
			x0,
			&optimize.Settings{MajorIterations: lr.maxIter, GradientThreshold: lr.tol},
			&optimize.LBFGS{},
		)
		if result == nil {
			return errors.NewModelError("LogisticRegression.Fit", "lbfgs failed", err)
		}
		x, iters = result.X, result.Stats.MajorIterations
		converged = err == nil && result.Status != optimize.IterationLimit
		if err != nil {
			msg = err.Error()
		}
	}
	if err := errors.CheckNumericalStability("LogisticRegression.Fit", x, iters); err != nil {
		return err
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning(lr.solver, iters, msg))
	}

	lr.coef_[k] = append([]float64(nil), x[:nFeatures]...)
	if lr.fitIntercept {
		lr.intercept_[k] = x[nFeatures]
	}
	lr.nIter_[k] = iters
	return nil
}

// gradientDescent runs full-batch gradient descent with the decaying step
// 1/(1+0.1*iter).
func (lr *LogisticRegression) gradientDescent(obj *objective, x []float64) ([]float64, int, bool) {
	grad := make([]float64, len(x))
	for iter := 0; iter < lr.maxIter; iter++ {
		obj.Grad(grad, x)
		maxGrad := 0.0
		for _, g := range grad {
			maxGrad = math.Max(maxGrad, math.Abs(g))
		}
		if maxGrad < lr.tol {
			return x, iter + 1, true
		}
		rate := 1.0 / (1.0 + 0.1*float64(iter))
		for j := range x {
			x[j] -= rate * grad[j]
		}
	}
	return x, lr.maxIter, false
}

// DecisionFunction returns the signed distance to each hyperplane
// (one column for binary problems).
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	Xc, err := lr.prepare("DecisionFunction", X)
	if err != nil {
		return nil, err
	}
	n, _ := Xc.Dims()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(n, len(lr.coef_), nil)
	for i := 0; i < n; i++ {
		for k, w := range lr.coef_ {
			out.Set(i, k, Xc.RowDot(i, w)+lr.intercept_[k])
		}
	}
	return out, nil
}

// PredictProba returns probability estimates for each class
// For more than two classes the one-vs-rest sigmoids are normalized.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := scores.Dims()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	probas := mat.NewDense(n, lr.nClasses_, nil)
	for i := 0; i < n; i++ {
		if lr.nClasses_ == 2 {
			p := sigmoid(scores.At(i, 0))
			probas.Set(i, 0, 1-p)
			probas.Set(i, 1, p)
			continue
		}
		var sum float64
		for k := 0; k < lr.nClasses_; k++ {
			p := sigmoid(scores.At(i, k))
			probas.Set(i, k, p)
			sum += p
		}
		for k := 0; k < lr.nClasses_; k++ {
			probas.Set(i, k, probas.At(i, k)/sum)
		}
	}
	return probas, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(probas, lr.classes_), nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(metrics.ColumnVector(y), metrics.ColumnVector(pred))
}

func (lr *LogisticRegression) prepare(method string, X mat.Matrix) (*tensor.CSR, error) {
	if err := lr.state.RequireFitted("LogisticRegression", method); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := lr.state.RequireFeatures("LogisticRegression."+method, c); err != nil {
		return nil, err
	}
	return tensor.FromMatrix(X), nil
}

// IsFitted reports whether the model has been fitted.
func (lr *LogisticRegression) IsFitted() bool { return lr.state.IsFitted() }

// Classes returns the class labels, ascending.
func (lr *LogisticRegression) Classes() []int { return append([]int(nil), lr.classes_...) }

// Coef returns a copy of the coefficients.
func (lr *LogisticRegression) Coef() [][]float64 {
	out := make([][]float64, len(lr.coef_))
	for k, w := range lr.coef_ {
		out[k] = append([]float64(nil), w...)
	}
	return out
}

// Intercept returns a copy of the intercepts.
func (lr *LogisticRegression) Intercept() []float64 { return append([]float64(nil), lr.intercept_...) }

// NIter returns the iterations used by each binary problem.
func (lr *LogisticRegression) NIter() []int { return append([]int(nil), lr.nIter_...) }

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"class_weight":  lr.classWeight,
		"solver":        lr.solver,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "class_weight":
			lr.classWeight, ok = value.(string)
		case "solver":
			lr.solver, ok = value.(string)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "tol":
			lr.tol, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong type", value)
		}
	}
	return nil
}

type logisticSnapshot struct {
	Penalty      string
	C            float64
	FitIntercept bool
	ClassWeight  string
	Solver       string
	MaxIter      int
	Tol          float64
	Fitted       bool
	NSamples     int
	Coef         [][]float64
	Intercept    []float64
	Classes      []int
	NFeatures    int
	NIter        []int
}

// GobEncode implements gob.GobEncoder.
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	_, nSamples := lr.state.GetDimensions()
	return model.EncodeSnapshot(logisticSnapshot{
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		ClassWeight:  lr.classWeight,
		Solver:       lr.solver,
		MaxIter:      lr.maxIter,
		Tol:          lr.tol,
		Fitted:       lr.state.IsFitted(),
		NSamples:     nSamples,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NFeatures:    lr.nFeatures_,
		NIter:        lr.nIter_,
	})
}

// GobDecode implements gob.GobDecoder.
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var s logisticSnapshot
	if err := model.DecodeSnapshot(data, &s); err != nil {
		return err
	}
	lr.penalty, lr.C, lr.fitIntercept, lr.classWeight = s.Penalty, s.C, s.FitIntercept, s.ClassWeight
	lr.solver, lr.maxIter, lr.tol = s.Solver, s.MaxIter, s.Tol
	lr.coef_, lr.intercept_ = s.Coef, s.Intercept
	lr.classes_, lr.nFeatures_, lr.nIter_ = s.Classes, s.NFeatures, s.NIter
	lr.nClasses_ = len(s.Classes)
	if lr.state == nil {
		lr.state = model.NewStateManager()
	}
	lr.state.Restore(s.Fitted, s.NFeatures, s.NSamples)
	return nil
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1.0 + e)
}

// softplus computes log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
