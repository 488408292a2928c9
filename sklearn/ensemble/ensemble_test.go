package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

func clusters() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	return X, y
}

func TestRandomForestClassifier_FitPredict(t *testing.T) {
	X, y := clusters()
	rf := NewRandomForestClassifier(WithNEstimators(25), WithRandomState(42))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	score, err := rf.Score(X, y)
	if err != nil {
		t.Fatal(err)
	}
	if score != 1 {
		t.Errorf("training accuracy = %v, want 1", score)
	}

	proba, err := rf.PredictProba(mat.NewDense(2, 2, []float64{0.5, 0.5, 3.5, 3.5}))
	if err != nil {
		t.Fatal(err)
	}
	if proba.At(0, 0) <= 0.5 || proba.At(1, 1) <= 0.5 {
		t.Errorf("unexpected probabilities %v", mat.Formatted(proba))
	}
	if got := len(rf.Estimators()); got != 25 {
		t.Errorf("len(Estimators()) = %d, want 25", got)
	}
}

func TestRandomForestClassifier_Multiclass(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0, 0.2, 0.1, 0.1, 0.3,
		5, 0, 5.2, 0.1, 4.9, 0.2,
		0, 5, 0.1, 5.3, 0.2, 4.8,
	})
	y := mat.NewDense(9, 1, []float64{0, 0, 0, 1, 1, 1, 5, 5, 5})

	rf := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(7), WithMaxFeatures("all"))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	classes := rf.Classes()
	if len(classes) != 3 || classes[2] != 5 {
		t.Fatalf("Classes() = %v, want [0 1 5]", classes)
	}

	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	r, c := proba.Dims()
	if r != 9 || c != 3 {
		t.Fatalf("PredictProba dims = (%d, %d), want (9, 3)", r, c)
	}
	for i := 0; i < r; i++ {
		sum := proba.At(i, 0) + proba.At(i, 1) + proba.At(i, 2)
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d sums to %v", i, sum)
		}
	}
}

// TestRandomForestClassifier_Deterministic checks that a fixed seed gives the
// same forest regardless of the number of workers
func TestRandomForestClassifier_Deterministic(t *testing.T) {
	X, y := clusters()

	tests := []struct {
		name  string
		nJobs int
	}{
		{"one worker", 1},
		{"four workers", 4},
	}
	var first mat.Matrix
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rf := NewRandomForestClassifier(WithNEstimators(10), WithRandomState(3), WithNJobs(tt.nJobs))
			if err := rf.Fit(X, y); err != nil {
				t.Fatal(err)
			}
			proba, err := rf.PredictProba(X)
			if err != nil {
				t.Fatal(err)
			}
			if first == nil {
				first = proba
				return
			}
			if !mat.Equal(first, proba) {
				t.Error("probabilities depend on the number of workers")
			}
		})
	}
}

func TestRandomForestClassifier_Sparse(t *testing.T) {
	X, y := clusters()
	dense := NewRandomForestClassifier(WithNEstimators(5), WithRandomState(1))
	sparse := NewRandomForestClassifier(WithNEstimators(5), WithRandomState(1))
	if err := dense.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := sparse.Fit(tensor.FromMatrix(X), y); err != nil {
		t.Fatal(err)
	}
	a, _ := dense.PredictProba(X)
	b, err := sparse.PredictProba(tensor.FromMatrix(X))
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a, b) {
		t.Error("sparse and dense input gave different forests")
	}

	imp := sparse.GetFeatureImportances()
	var total float64
	for _, v := range imp {
		total += v
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("importances sum to %v, want 1", total)
	}
}

func TestRandomForestClassifier_NotFitted(t *testing.T) {
	rf := NewRandomForestClassifier()
	var nf *errors.NotFittedError
	if _, err := rf.Predict(mat.NewDense(1, 2, nil)); !errors.As(err, &nf) {
		t.Errorf("expected NotFittedError, got %v", err)
	}
}

func TestRandomForestClassifier_Gob(t *testing.T) {
	X, y := clusters()
	rf := NewRandomForestClassifier(WithNEstimators(5), WithRandomState(9), WithMaxDepth(3))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	restored := NewRandomForestClassifier()
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if restored.GetParams()["max_depth"] != 3 {
		t.Errorf("max_depth = %v, want 3", restored.GetParams()["max_depth"])
	}
	want, _ := rf.PredictProba(X)
	got, err := restored.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(got, want) {
		t.Error("restored probabilities differ")
	}
}

func TestGradientBoostingClassifier_FitPredict(t *testing.T) {
	X, y := clusters()
	gb := NewGradientBoostingClassifier(WithNEstimators(50), WithMaxDepth(2), WithRandomState(0))
	if err := gb.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	score, err := gb.Score(X, y)
	if err != nil {
		t.Fatal(err)
	}
	if score != 1 {
		t.Errorf("training accuracy = %v, want 1", score)
	}

	history := gb.TrainScore()
	if len(history) != 50 {
		t.Fatalf("len(TrainScore()) = %d, want 50", len(history))
	}
	if history[len(history)-1] >= history[0] {
		t.Errorf("loss did not decrease: first %v last %v", history[0], history[len(history)-1])
	}
	// the prior of a balanced set is log-odds 0, i.e. loss ln 2 before stage 1
	if history[0] >= math.Ln2 {
		t.Errorf("first stage loss %v not below ln 2", history[0])
	}

	proba, err := gb.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		if s := proba.At(i, 0) + proba.At(i, 1); math.Abs(s-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}
}

func TestGradientBoostingClassifier_Subsample(t *testing.T) {
	X, y := clusters()
	gb := NewGradientBoostingClassifier(WithNEstimators(30), WithSubsample(0.75), WithRandomState(5))
	if err := gb.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	score, err := gb.Score(X, y)
	if err != nil {
		t.Fatal(err)
	}
	if score != 1 {
		t.Errorf("training accuracy = %v, want 1", score)
	}
}

func TestGradientBoostingClassifier_Callbacks(t *testing.T) {
	X, y := clusters()

	var recorded []float64
	gb := NewGradientBoostingClassifier(
		WithNEstimators(20),
		WithRandomState(0),
		WithCallbacks(RecordLoss(&recorded), EarlyStopping(1, 10)),
	)
	if err := gb.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if got := gb.NEstimatorsFitted(); got != 2 {
		t.Errorf("NEstimatorsFitted() = %d, want 2", got)
	}
	if len(recorded) != 2 || recorded[1] != gb.TrainScore()[1] {
		t.Errorf("recorded = %v, TrainScore() = %v", recorded, gb.TrainScore())
	}

	boom := errors.New("boom")
	failing := NewGradientBoostingClassifier(WithNEstimators(5), WithCallbacks(func(*CallbackEnv) error { return boom }))
	if err := failing.Fit(X, y); !errors.Is(err, boom) {
		t.Errorf("Fit() error = %v, want boom", err)
	}
}

func TestGradientBoostingClassifier_Validation(t *testing.T) {
	X, y := clusters()

	tests := []struct {
		name string
		opts []Option
	}{
		{"zero estimators", []Option{WithNEstimators(0)}},
		{"zero learning rate", []Option{WithLearningRate(0)}},
		{"subsample above one", []Option{WithSubsample(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *errors.ValidationError
			if err := NewGradientBoostingClassifier(tt.opts...).Fit(X, y); !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	var valueErr *errors.ValueError
	multi := mat.NewDense(8, 1, []float64{0, 0, 1, 1, 2, 2, 2, 2})
	if err := NewGradientBoostingClassifier().Fit(X, multi); !errors.As(err, &valueErr) {
		t.Errorf("expected ValueError for three classes, got %v", err)
	}
}

func TestGradientBoostingClassifier_Gob(t *testing.T) {
	X, y := clusters()
	gb := NewGradientBoostingClassifier(WithNEstimators(10), WithLearningRate(0.3), WithRandomState(2))
	if err := gb.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gb); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	restored := NewGradientBoostingClassifier()
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if restored.GetParams()["learning_rate"] != 0.3 {
		t.Errorf("learning_rate = %v, want 0.3", restored.GetParams()["learning_rate"])
	}
	want, _ := gb.DecisionFunction(X)
	got, err := restored.DecisionFunction(X)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("row %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestRandomForestClassifier_TreePanic(t *testing.T) {
	orig := fitSamples
	defer func() { fitSamples = orig }()
	fitSamples = func(*tree.DecisionTreeClassifier, *tensor.CSR, []int, []int, []int) error {
		panic("index out of range")
	}

	X, y := clusters()
	rf := NewRandomForestClassifier(WithNEstimators(4), WithNJobs(2), WithRandomState(1))
	err := rf.Fit(X, y)
	if err == nil {
		t.Fatal("Fit() error = nil, want the recovered panic")
	}
	var panicErr *errors.PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Fit() error = %v, want a PanicError in the chain", err)
	}
	if panicErr.PanicValue != "index out of range" {
		t.Errorf("PanicValue = %v", panicErr.PanicValue)
	}
	if rf.IsFitted() {
		t.Error("forest marked fitted after a failed tree")
	}
}
