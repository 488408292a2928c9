package tree

import (
	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DecisionTreeRegressor is a CART regression tree with squared error splits.
// Gradient boosting uses it as its weak learner and overwrites leaf values
// through SetLeafValue.
type DecisionTreeRegressor struct {
	state *model.StateManager
	params

	nodes        []Node
	importances_ []float64
	depth_       int
}

// NewDecisionTreeRegressor creates a regressor.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{state: model.NewStateManager(), params: defaultParams("squared_error")}
	for _, opt := range opts {
		opt(&dt.params)
	}
	return dt
}

// Fit builds the tree from X and the targets in the first column of y.
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	target, err := toFloats("DecisionTreeRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	samples := make([]int, len(target))
	for i := range samples {
		samples[i] = i
	}
	return dt.FitSamples(tensor.FromMatrix(X), target, samples)
}

// FitSamples builds the tree from the rows of X listed in samples.
// target holds one value per row of X.
func (dt *DecisionTreeRegressor) FitSamples(X *tensor.CSR, target []float64, samples []int) error {
	if err := dt.params.validate(); err != nil {
		return err
	}
	if dt.criterion != "squared_error" && dt.criterion != "mse" {
		return errors.NewValidationError("criterion", "classification criterion used for regression", dt.criterion)
	}
	if len(samples) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	_, nFeatures := X.Dims()
	k, err := resolveMaxFeatures(dt.maxFeatures, nFeatures)
	if err != nil {
		return err
	}

	add := func(dst []float64, s int) {
		v := target[s]
		dst[0] += v
		dst[1] += v * v
	}
	b := newBuilder(X, squaredError{}, 2, add, &dt.params, k)
	dt.nodes, dt.importances_, dt.depth_ = b.build(samples)

	dt.state.SetDimensions(nFeatures, len(samples))
	dt.state.SetFitted()
	return nil
}

// Predict returns the leaf value of every row.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	Xc, err := dt.prepare("Predict", X)
	if err != nil {
		return nil, err
	}
	n, _ := Xc.Dims()
	if n == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, dt.nodes[apply(dt.nodes, Xc, i)].Value[0])
	}
	return out, nil
}

// Score returns the coefficient of determination R² on X and y.
func (dt *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnVector(y), metrics.ColumnVector(pred))
}

// Apply returns the index of the leaf each row ends up in.
func (dt *DecisionTreeRegressor) Apply(X mat.Matrix) ([]int, error) {
	Xc, err := dt.prepare("Apply", X)
	if err != nil {
		return nil, err
	}
	return applyAll(dt.nodes, Xc), nil
}

// Leaves returns the indices of all leaf nodes.
func (dt *DecisionTreeRegressor) Leaves() []int {
	var out []int
	for i := range dt.nodes {
		if dt.nodes[i].IsLeaf() {
			out = append(out, i)
		}
	}
	return out
}

// SetLeafValue overwrites the prediction stored in leaf.
func (dt *DecisionTreeRegressor) SetLeafValue(leaf int, v float64) error {
	if leaf < 0 || leaf >= len(dt.nodes) || !dt.nodes[leaf].IsLeaf() {
		return errors.NewValueError("DecisionTreeRegressor.SetLeafValue", "not a leaf")
	}
	dt.nodes[leaf].Value[0] = v
	return nil
}

// LeafValue returns the prediction stored in node leaf.
func (dt *DecisionTreeRegressor) LeafValue(leaf int) float64 { return dt.nodes[leaf].Value[0] }

func (dt *DecisionTreeRegressor) prepare(method string, X mat.Matrix) (*tensor.CSR, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", method); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeRegressor."+method, c); err != nil {
		return nil, err
	}
	return tensor.FromMatrix(X), nil
}

// IsFitted reports whether the tree has been built.
func (dt *DecisionTreeRegressor) IsFitted() bool { return dt.state.IsFitted() }

// GetFeatureImportances returns the normalized impurity decrease per feature.
func (dt *DecisionTreeRegressor) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.importances_...)
}

// GetDepth returns the depth of the tree.
func (dt *DecisionTreeRegressor) GetDepth() int { return dt.depth_ }

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeRegressor) GetNLeaves() int { return countLeaves(dt.nodes) }

// GetParams returns the hyperparameters.
func (dt *DecisionTreeRegressor) GetParams() map[string]interface{} { return dt.params.getParams() }

// SetParams updates hyperparameters.
func (dt *DecisionTreeRegressor) SetParams(p map[string]interface{}) error {
	return dt.params.setParams(p)
}

type regressorSnapshot struct {
	Params      paramsSnapshot
	Fitted      bool
	NFeatures   int
	NSamples    int
	Nodes       []Node
	Importances []float64
	Depth       int
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeRegressor) GobEncode() ([]byte, error) {
	nFeatures, nSamples := dt.state.GetDimensions()
	return model.EncodeSnapshot(regressorSnapshot{
		Params:      dt.params.snapshot(),
		Fitted:      dt.state.IsFitted(),
		NFeatures:   nFeatures,
		NSamples:    nSamples,
		Nodes:       dt.nodes,
		Importances: dt.importances_,
		Depth:       dt.depth_,
	})
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeRegressor) GobDecode(data []byte) error {
	var s regressorSnapshot
	if err := model.DecodeSnapshot(data, &s); err != nil {
		return err
	}
	dt.params = s.Params.restore()
	dt.nodes, dt.importances_, dt.depth_ = s.Nodes, s.Importances, s.Depth
	if dt.state == nil {
		dt.state = model.NewStateManager()
	}
	dt.state.Restore(s.Fitted, s.NFeatures, s.NSamples)
	return nil
}
