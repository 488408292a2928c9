package model

import (
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"gonum.org/v1/gonum/mat"
)

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// TextTransformer は文書の集合を疎な特徴量行列に変換するインターフェース
type TextTransformer interface {
	// Fit は語彙などの変換パラメータを文書から学習する
	Fit(docs []string) error

	// Transform は文書を特徴量行列（文書数 × 語彙数）に変換する
	Transform(docs []string) (*tensor.CSR, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(docs []string) (*tensor.CSR, error)
}
