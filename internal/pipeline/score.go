package pipeline

import (
	"time"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	reportLabels = []int{dataset.LabelFake, dataset.LabelReal}
	reportNames  = []string{dataset.LabelName(dataset.LabelFake), dataset.LabelName(dataset.LabelReal)}
)

// Score computes the held-out metrics of a fitted classifier. "Real" is the
// positive class for precision, recall, AUC and log loss.
func Score(name string, clf model.Classifier, X mat.Matrix, y *mat.VecDense) (artifact.ModelMetrics, *metrics.Report, error) {
	m := artifact.ModelMetrics{Name: name, EvaluatedAt: time.Now().UTC()}

	predM, err := clf.Predict(X)
	if err != nil {
		return m, nil, errors.Wrapf(err, "predict %s", name)
	}
	pred := metrics.ColumnVector(predM)

	proba, err := clf.PredictProba(X)
	if err != nil {
		return m, nil, errors.Wrapf(err, "predict_proba %s", name)
	}
	realProb := RealProbabilities(clf.Classes(), proba)

	if m.Accuracy, err = metrics.Accuracy(y, pred); err != nil {
		return m, nil, err
	}
	if m.Precision, m.Recall, m.F1, err = metrics.PrecisionRecallF1(y, pred, dataset.LabelReal); err != nil {
		return m, nil, err
	}
	if m.AUC, err = metrics.AUC(y, realProb); err != nil {
		return m, nil, err
	}
	if m.LogLoss, err = metrics.BinaryLogLoss(y, realProb); err != nil {
		return m, nil, err
	}
	if m.Brier, err = metrics.MSE(y, realProb); err != nil {
		return m, nil, err
	}
	cm, err := metrics.ConfusionMatrix(y, pred, reportLabels)
	if err != nil {
		return m, nil, err
	}
	m.Confusion = make([][]int, len(reportLabels))
	for i := range m.Confusion {
		m.Confusion[i] = make([]int, len(reportLabels))
		for j := range m.Confusion[i] {
			m.Confusion[i][j] = int(cm.At(i, j))
		}
	}

	rep, err := metrics.ClassificationReport(y, pred, reportLabels, reportNames)
	if err != nil {
		return m, nil, err
	}
	return m, rep, nil
}

// RealProbabilities extracts the probability of the "real" class from a
// PredictProba matrix whose columns follow classes. A model that never saw
// the class gives it probability 0.
func RealProbabilities(classes []int, proba mat.Matrix) *mat.VecDense {
	n, _ := proba.Dims()
	out := mat.NewVecDense(n, nil)
	col := candidate.ColumnOf(classes, dataset.LabelReal)
	if col < 0 {
		return out
	}
	for i := 0; i < n; i++ {
		out.SetVec(i, proba.At(i, col))
	}
	return out
}

// stagesOf reports the boosting stages actually fitted, or 0 for other models.
func stagesOf(clf model.Classifier) int {
	if s, ok := clf.(interface{ NEstimatorsFitted() int }); ok {
		return s.NEstimatorsFitted()
	}
	return 0
}
