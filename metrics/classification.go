// Package metrics は分類器・回帰器の評価指標を提供する。
//
// 入力はscikit-learnと同じく (yTrue, yPred) の順で受け取る。
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// logLossEps は log(0) を避けるためのクリッピング幅
const logLossEps = 1e-15

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率 (1 - 正解率) を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

func requireBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %v at index %d", v, i))
		}
	}
	return nil
}

// AUC はROC曲線下面積を計算する
//
// 同順位のスコアは平均順位で扱う (Mann-Whitney U 統計量)。
// 正例または負例が存在しない場合は UndefinedMetricWarning を出して 0.5 を返す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := requireBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b]) })

	// 1始まりの平均順位
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(idx[j+1]) == yScore.AtVec(idx[i]) {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, rankSum float64
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
			rankSum += ranks[i]
		}
	}
	nNeg := float64(n) - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in yTrue", 0.5))
		return 0.5, nil
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}

// AUCMatrix は行列の先頭列同士でAUCを計算する
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	if yTrue == nil || yScore == nil {
		return 0, errors.NewValueError("AUCMatrix", "nil matrix")
	}
	r, c := yTrue.Dims()
	if r == 0 || c == 0 {
		return 0, errors.NewValueError("AUCMatrix", "empty matrix")
	}
	return AUC(ColumnVector(yTrue), ColumnVector(yScore))
}

// BinaryLogLoss は二値分類の対数損失を計算する
// yProb は陽性クラスの確率。値は [eps, 1-eps] にクリップされる。
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := requireBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yProb.AtVec(i), logLossEps, 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// ConfusionMatrix は混同行列を返す
// 行が正解ラベル、列が予測ラベルで、順序は labels に従う。
// labels に含まれないラベルは無視される。
func ConfusionMatrix(yTrue, yPred *mat.VecDense, labels []int) (*mat.Dense, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "labels must not be empty")
	}
	pos := make(map[int]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}

	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := 0; i < n; i++ {
		t, okT := pos[int(yTrue.AtVec(i))]
		p, okP := pos[int(yPred.AtVec(i))]
		if okT && okP {
			cm.Set(t, p, cm.At(t, p)+1)
		}
	}
	return cm, nil
}

// PrecisionRecallF1 は positive を陽性クラスとした適合率・再現率・F1を計算する
//
// 分母が0になる指標は UndefinedMetricWarning を出して 0 とする。
func PrecisionRecallF1(yTrue, yPred *mat.VecDense, positive int) (precision, recall, f1 float64, err error) {
	n, err := checkPair("PrecisionRecallF1", yTrue, yPred)
	if err != nil {
		return 0, 0, 0, err
	}
	var tp, fp, fn float64
	for i := 0; i < n; i++ {
		t := int(yTrue.AtVec(i)) == positive
		p := int(yPred.AtVec(i)) == positive
		switch {
		case t && p:
			tp++
		case p:
			fp++
		case t:
			fn++
		}
	}
	return prf(tp, fp, fn)
}

func prf(tp, fp, fn float64) (precision, recall, f1 float64, err error) {
	if tp+fp == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
	} else {
		precision = tp / (tp + fp)
	}
	if tp+fn == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
	} else {
		recall = tp / (tp + fn)
	}
	f1 = errors.SafeDivide(2*precision*recall, precision+recall)
	return precision, recall, f1, nil
}

// ClassScores は1クラス分の評価値
type ClassScores struct {
	Label     int
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report はscikit-learnの classification_report 相当の集計結果
type Report struct {
	Classes  []ClassScores
	Accuracy float64
	MacroAvg ClassScores
	Total    int
}

// ClassificationReport はクラスごとの適合率・再現率・F1と正解率をまとめる
// names は labels と同じ順のクラス名 (nil ならラベル番号を使う)。
func ClassificationReport(yTrue, yPred *mat.VecDense, labels []int, names []string) (*Report, error) {
	if names != nil && len(names) != len(labels) {
		return nil, errors.NewDimensionError("ClassificationReport", len(labels), len(names), 1)
	}
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}

	k := len(labels)
	rep := &Report{Accuracy: acc, Total: yTrue.Len(), MacroAvg: ClassScores{Name: "macro avg"}}
	for c := 0; c < k; c++ {
		var tp, fp, fn float64
		tp = cm.At(c, c)
		for j := 0; j < k; j++ {
			if j != c {
				fn += cm.At(c, j)
				fp += cm.At(j, c)
			}
		}
		p, r, f, _ := prf(tp, fp, fn)
		name := fmt.Sprint(labels[c])
		if names != nil {
			name = names[c]
		}
		cs := ClassScores{Label: labels[c], Name: name, Precision: p, Recall: r, F1: f, Support: int(tp + fn)}
		rep.Classes = append(rep.Classes, cs)
		rep.MacroAvg.Precision += p / float64(k)
		rep.MacroAvg.Recall += r / float64(k)
		rep.MacroAvg.F1 += f / float64(k)
		rep.MacroAvg.Support += cs.Support
	}
	return rep, nil
}

// String はレポートを表形式の文字列にする
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%12s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&sb, "%12s %10.4f %10.4f %10.4f %10d\n", c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&sb, "\n%12s %10s %10s %10.4f %10d\n", "accuracy", "", "", r.Accuracy, r.Total)
	m := r.MacroAvg
	fmt.Fprintf(&sb, "%12s %10.4f %10.4f %10.4f %10d\n", m.Name, m.Precision, m.Recall, m.F1, m.Support)
	return sb.String()
}
