// Package newsclf classifies news articles as real or fake.
//
// The module has two halves. The library packages are a small
// scikit-learn style toolkit built on gonum:
//
//   - feature_extraction/text: TfidfVectorizer producing sparse CSR matrices
//   - sklearn/linear_model: LogisticRegression (lbfgs and gradient descent)
//   - sklearn/tree: DecisionTreeClassifier and DecisionTreeRegressor
//   - sklearn/ensemble: RandomForestClassifier and GradientBoostingClassifier
//   - metrics: accuracy, precision/recall/F1, AUC, log loss, confusion matrix
//   - preprocessing: text cleaning and row normalisation
//   - core/model, core/tensor, core/parallel: estimator contracts, gob
//     persistence, the CSR matrix and the worker fan-out
//   - pkg/errors, pkg/log: typed errors and structured logging
//
// The application under internal/ and cmd/newsclf trains every candidate on
// the cleaned dataset, keeps the one with the best held-out accuracy and
// serves it:
//
//	newsclf preprocess
//	newsclf train
//	newsclf serve
//
//	curl -s localhost:8000/api/predict \
//	    -d '{"title":"Aliens endorse candidate","text":"..."}'
//	{"label":"Fake News","confidence":0.97,"probabilities":{"fake":0.97,"real":0.03}}
//
// Using the library directly:
//
//	vec := text.NewTfidfVectorizer(text.WithStopWords("english"))
//	X, err := vec.FitTransform(docs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	clf := linear_model.NewLogisticRegression(linear_model.WithLRC(1.0))
//	if err := clf.Fit(X, y); err != nil {
//	    log.Fatal(err)
//	}
//	proba, err := clf.PredictProba(X)
//
// See examples/quickstart for a runnable version.
package newsclf
