// Package candidate builds the classifiers that compete during training and
// restores them from disk.
package candidate

import (
	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/YuminosukeSato/newsclf/sklearn/ensemble"
	"github.com/YuminosukeSato/newsclf/sklearn/linear_model"
	"github.com/YuminosukeSato/newsclf/sklearn/tree"
)

// ErrUnknown is returned for a name outside config.DefaultCandidates.
var ErrUnknown = errors.New("unknown candidate")

// DisplayName is the label used in reports and charts.
func DisplayName(name string) string {
	switch name {
	case config.RandomForest:
		return "Random Forest"
	case config.LogisticRegression:
		return "Logistic Regression"
	case config.DecisionTree:
		return "Decision Tree"
	case config.GradientBoosting:
		return "Gradient Boosting"
	}
	return name
}

// New returns a configured, unfitted classifier. seed fixes every source of
// randomness in the estimator.
func New(name string, cfg config.ModelsConfig, seed int64) (model.Classifier, error) {
	switch name {
	case config.LogisticRegression:
		c := cfg.LogisticRegression
		return linear_model.NewLogisticRegression(
			linear_model.WithLRC(c.C),
			linear_model.WithLRMaxIter(c.MaxIter),
			linear_model.WithLRSolver(c.Solver),
			linear_model.WithLRClassWeight(c.ClassWeight),
		), nil
	case config.RandomForest:
		c := cfg.RandomForest
		return ensemble.NewRandomForestClassifier(
			ensemble.WithNEstimators(c.NEstimators),
			ensemble.WithMaxDepth(c.MaxDepth),
			ensemble.WithMaxFeatures(c.MaxFeatures),
			ensemble.WithMinSamplesLeaf(c.MinSamplesLeaf),
			ensemble.WithNJobs(c.NJobs),
			ensemble.WithRandomState(seed),
		), nil
	case config.DecisionTree:
		c := cfg.DecisionTree
		return tree.NewDecisionTreeClassifier(
			tree.WithCriterion(c.Criterion),
			tree.WithMaxDepth(c.MaxDepth),
			tree.WithMinSamplesLeaf(c.MinSamplesLeaf),
			tree.WithRandomState(seed),
		), nil
	case config.GradientBoosting:
		c := cfg.GradientBoosting
		return ensemble.NewGradientBoostingClassifier(
			ensemble.WithNEstimators(c.NEstimators),
			ensemble.WithLearningRate(c.LearningRate),
			ensemble.WithMaxDepth(c.MaxDepth),
			ensemble.WithSubsample(c.Subsample),
			ensemble.WithRandomState(seed),
			ensemble.WithCallbacks(ensemble.LogEvaluation(log.GetLoggerWithName(name), c.NEstimators/10)),
		), nil
	}
	return nil, errors.Wrapf(ErrUnknown, "%q", name)
}

// Empty returns a zero classifier of the named kind, ready to be decoded.
func Empty(name string) (model.Classifier, error) {
	switch name {
	case config.LogisticRegression:
		return linear_model.NewLogisticRegression(), nil
	case config.RandomForest:
		return ensemble.NewRandomForestClassifier(), nil
	case config.DecisionTree:
		return tree.NewDecisionTreeClassifier(), nil
	case config.GradientBoosting:
		return ensemble.NewGradientBoostingClassifier(), nil
	}
	return nil, errors.Wrapf(ErrUnknown, "%q", name)
}

// Load decodes a classifier saved with model.SaveModel.
func Load(name, path string) (model.Classifier, error) {
	clf, err := Empty(name)
	if err != nil {
		return nil, err
	}
	if err := model.LoadModel(clf, path); err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	if !clf.IsFitted() {
		return nil, errors.NewModelError("candidate.Load", "model file holds an unfitted "+name, nil)
	}
	return clf, nil
}

// ColumnOf returns the PredictProba column holding label, or -1 when the
// classifier never saw it.
func ColumnOf(classes []int, label int) int {
	for j, c := range classes {
		if c == label {
			return j
		}
	}
	return -1
}
