// Package preprocessing はテキストのクリーニングと特徴量行列の正規化を提供する。
package preprocessing

import (
	"math"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Norm は行ベクトルのノルムの種類
type Norm string

const (
	NormL1   Norm = "l1"
	NormL2   Norm = "l2"
	NormMax  Norm = "max"
	NormNone Norm = "none"
)

// Normalizer はscikit-learn互換の行正規化器
// 各サンプル（行）を指定したノルムが1になるようにスケーリングする。
// 状態を持たないため Fit は次元の記録のみを行う。
type Normalizer struct {
	state *model.StateManager

	// Norm は使用するノルム (デフォルト: l2)
	Norm Norm
}

var _ model.Transformer = (*Normalizer)(nil)

// NewNormalizer は新しいNormalizerを作成する
//
// 使用例:
//
//	n := preprocessing.NewNormalizer(preprocessing.NormL2)
//	Xn, err := n.FitTransform(X)
func NewNormalizer(norm Norm) *Normalizer {
	if norm == "" {
		norm = NormL2
	}
	return &Normalizer{state: model.NewStateManager(), Norm: norm}
}

func (n *Normalizer) validate() error {
	switch n.Norm {
	case NormL1, NormL2, NormMax, NormNone:
		return nil
	}
	return errors.NewValidationError("norm", "must be one of l1, l2, max, none", n.Norm)
}

// Fit は特徴量の数を記録する
func (n *Normalizer) Fit(X mat.Matrix) error {
	if err := n.validate(); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("Normalizer.Fit", "empty data", errors.ErrEmptyData)
	}
	n.state.SetDimensions(c, r)
	n.state.SetFitted()
	return nil
}

// Transform は各行を正規化する。入力が *tensor.CSR の場合は疎なまま返す。
// ノルムが0の行はそのまま残る。
func (n *Normalizer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := n.state.RequireFitted("Normalizer", "Transform"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := n.state.RequireFeatures("Normalizer.Transform", c); err != nil {
		return nil, err
	}
	if csr, ok := X.(*tensor.CSR); ok {
		return n.transformCSR(csr), nil
	}

	r, _ := X.Dims()
	result := mat.DenseCopyOf(X)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, result)
		if s := RowNorm(row, n.Norm); s > 0 {
			for j := range row {
				row[j] /= s
			}
			result.SetRow(i, row)
		}
	}
	return result, nil
}

func (n *Normalizer) transformCSR(X *tensor.CSR) *tensor.CSR {
	r, c := X.Dims()
	b := tensor.NewCSRBuilder(c)
	for i := 0; i < r; i++ {
		idx, val := X.Row(i)
		out := make([]float64, len(val))
		copy(out, val)
		NormalizeInPlace(out, n.Norm)
		b.AppendSorted(idx, out)
	}
	return b.Build()
}

// FitTransform は学習と変換を同時に行う
func (n *Normalizer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := n.Fit(X); err != nil {
		return nil, err
	}
	return n.Transform(X)
}

// RowNorm は値の列のノルムを返す
func RowNorm(values []float64, norm Norm) float64 {
	var s float64
	switch norm {
	case NormL1:
		for _, v := range values {
			s += math.Abs(v)
		}
	case NormL2:
		for _, v := range values {
			s += v * v
		}
		s = math.Sqrt(s)
	case NormMax:
		for _, v := range values {
			s = math.Max(s, math.Abs(v))
		}
	}
	return s
}

// NormalizeInPlace は values を指定したノルムで割る。ノルムが0なら何もしない。
func NormalizeInPlace(values []float64, norm Norm) {
	if norm == NormNone {
		return
	}
	s := RowNorm(values, norm)
	if s == 0 {
		return
	}
	for i := range values {
		values[i] /= s
	}
}
