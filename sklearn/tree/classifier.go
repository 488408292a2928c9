// Package tree implements CART decision trees for classification and
// regression, compatible with scikit-learn's DecisionTreeClassifier and
// DecisionTreeRegressor.
//
// Trees are grown on *tensor.CSR input; dense matrices are converted first.
// Split search only touches non-zero entries, which keeps fitting on
// high-dimensional TF-IDF features practical.
package tree

import (
	"sort"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DecisionTreeClassifier is a CART classification tree.
type DecisionTreeClassifier struct {
	state *model.StateManager
	params

	nodes        []Node
	classes_     []int
	nClasses_    int
	importances_ []float64
	depth_       int
}

var _ model.Classifier = (*DecisionTreeClassifier)(nil)

// NewDecisionTreeClassifier creates a classifier with gini impurity and
// unlimited depth unless overridden.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{state: model.NewStateManager(), params: defaultParams("gini")}
	for _, opt := range opts {
		opt(&dt.params)
	}
	return dt
}

// Fit builds the tree from X and the class labels in the first column of y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	Xc, labels, err := checkXY("DecisionTreeClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	classes := UniqueClasses(labels)
	yIdx := EncodeLabels(labels, classes)

	samples := make([]int, len(labels))
	for i := range samples {
		samples[i] = i
	}
	return dt.FitSamples(Xc, yIdx, classes, samples)
}

// FitSamples builds the tree from the rows of X listed in samples.
// yIdx holds, for every row of X, the index of its label in classes.
// samples may repeat rows, as in a bootstrap draw.
func (dt *DecisionTreeClassifier) FitSamples(X *tensor.CSR, yIdx []int, classes []int, samples []int) error {
	if err := dt.params.validate(); err != nil {
		return err
	}
	if dt.criterion == "squared_error" || dt.criterion == "mse" {
		return errors.NewValidationError("criterion", "regression criterion used for classification", dt.criterion)
	}
	if len(samples) == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	_, nFeatures := X.Dims()
	k, err := resolveMaxFeatures(dt.maxFeatures, nFeatures)
	if err != nil {
		return err
	}

	crit, _ := newCriterion(dt.criterion)
	add := func(dst []float64, s int) { dst[yIdx[s]]++ }
	b := newBuilder(X, crit, len(classes), add, &dt.params, k)
	dt.nodes, dt.importances_, dt.depth_ = b.build(samples)
	dt.classes_ = append([]int(nil), classes...)
	dt.nClasses_ = len(classes)

	dt.state.SetDimensions(nFeatures, len(samples))
	dt.state.SetFitted()
	return nil
}

// PredictProba returns class probabilities; columns follow Classes().
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	Xc, err := dt.prepare("PredictProba", X)
	if err != nil {
		return nil, err
	}
	n, _ := Xc.Dims()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(n, dt.nClasses_, nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, dt.nodes[apply(dt.nodes, Xc, i)].Value)
	}
	return out, nil
}

// Predict returns the most probable class of every row.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return ArgmaxClasses(proba, dt.classes_), nil
}

// Score returns the mean accuracy on X and y.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(metrics.ColumnVector(y), metrics.ColumnVector(pred))
}

// Apply returns the index of the leaf each row ends up in.
func (dt *DecisionTreeClassifier) Apply(X mat.Matrix) ([]int, error) {
	Xc, err := dt.prepare("Apply", X)
	if err != nil {
		return nil, err
	}
	return applyAll(dt.nodes, Xc), nil
}

func (dt *DecisionTreeClassifier) prepare(method string, X mat.Matrix) (*tensor.CSR, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", method); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeClassifier."+method, c); err != nil {
		return nil, err
	}
	return tensor.FromMatrix(X), nil
}

// IsFitted reports whether the tree has been built.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.state.IsFitted() }

// Classes returns the class labels seen during fitting, ascending.
func (dt *DecisionTreeClassifier) Classes() []int { return append([]int(nil), dt.classes_...) }

// GetFeatureImportances returns the normalized impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.importances_...)
}

// GetDepth returns the depth of the tree (a single leaf has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int { return dt.depth_ }

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int { return countLeaves(dt.nodes) }

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} { return dt.params.getParams() }

// SetParams updates hyperparameters; the tree must be refitted afterwards.
func (dt *DecisionTreeClassifier) SetParams(p map[string]interface{}) error {
	return dt.params.setParams(p)
}

type classifierSnapshot struct {
	Params      paramsSnapshot
	Fitted      bool
	NFeatures   int
	NSamples    int
	Nodes       []Node
	Classes     []int
	Importances []float64
	Depth       int
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	nFeatures, nSamples := dt.state.GetDimensions()
	return model.EncodeSnapshot(classifierSnapshot{
		Params:      dt.params.snapshot(),
		Fitted:      dt.state.IsFitted(),
		NFeatures:   nFeatures,
		NSamples:    nSamples,
		Nodes:       dt.nodes,
		Classes:     dt.classes_,
		Importances: dt.importances_,
		Depth:       dt.depth_,
	})
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s classifierSnapshot
	if err := model.DecodeSnapshot(data, &s); err != nil {
		return err
	}
	dt.params = s.Params.restore()
	dt.nodes, dt.classes_, dt.importances_, dt.depth_ = s.Nodes, s.Classes, s.Importances, s.Depth
	dt.nClasses_ = len(s.Classes)
	if dt.state == nil {
		dt.state = model.NewStateManager()
	}
	dt.state.Restore(s.Fitted, s.NFeatures, s.NSamples)
	return nil
}

// UniqueClasses returns the sorted distinct labels.
func UniqueClasses(labels []int) []int {
	seen := make(map[int]struct{})
	var classes []int
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			classes = append(classes, l)
		}
	}
	sort.Ints(classes)
	return classes
}

// EncodeLabels maps every label to its index in classes (-1 when absent).
func EncodeLabels(labels, classes []int) []int {
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		if k, ok := pos[l]; ok {
			out[i] = k
		} else {
			out[i] = -1
		}
	}
	return out
}

// ArgmaxClasses picks, for every row of proba, the class with the highest
// probability. Ties go to the first class.
func ArgmaxClasses(proba mat.Matrix, classes []int) *mat.Dense {
	n, k := proba.Dims()
	if n == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

// checkXY validates training input and returns X as CSR and y as ints.
func checkXY(op string, X, y mat.Matrix) (*tensor.CSR, []int, error) {
	labels, err := toFloats(op, X, y)
	if err != nil {
		return nil, nil, err
	}
	out := make([]int, len(labels))
	for i, v := range labels {
		out[i] = int(v)
	}
	return tensor.FromMatrix(X), out, nil
}

func toFloats(op string, X, y mat.Matrix) ([]float64, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	yr, yc := y.Dims()
	if yr != r {
		return nil, errors.NewDimensionError(op, r, yr, 0)
	}
	if yc != 1 {
		return nil, errors.NewValueError(op, "y must be a column vector")
	}
	out := make([]float64, r)
	for i := range out {
		out[i] = y.At(i, 0)
	}
	return out, nil
}

func applyAll(nodes []Node, X *tensor.CSR) []int {
	n, _ := X.Dims()
	out := make([]int, n)
	for i := range out {
		out[i] = apply(nodes, X, i)
	}
	return out
}

func countLeaves(nodes []Node) int {
	n := 0
	for i := range nodes {
		if nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

type paramsSnapshot struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	RandomState     int64
}

func (p *params) snapshot() paramsSnapshot {
	return paramsSnapshot{p.criterion, p.maxDepth, p.minSamplesSplit, p.minSamplesLeaf, p.maxFeatures, p.randomState}
}

func (s paramsSnapshot) restore() params {
	return params{s.Criterion, s.MaxDepth, s.MinSamplesSplit, s.MinSamplesLeaf, s.MaxFeatures, s.RandomState}
}
