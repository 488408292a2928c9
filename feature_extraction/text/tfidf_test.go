package text

import (
	"bytes"
	"encoding/gob"
	"math"
	"reflect"
	"testing"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/preprocessing"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		doc  string
		want []string
	}{
		{"unigrams", nil, "The cat sat", []string{"the", "cat", "sat"}},
		{"single letters dropped", nil, "a b cd", []string{"cd"}},
		{"stop words", []Option{WithStopWords("english")}, "the cat and the hat", []string{"cat", "hat"}},
		{"bigrams", []Option{WithNgramRange(1, 2)}, "red fox runs", []string{"red", "fox", "runs", "red fox", "fox runs"}},
		{"bigrams only", []Option{WithNgramRange(2, 2)}, "red fox", []string{"red fox"}},
		{"case kept", []Option{WithLowercase(false)}, "Big News", []string{"Big", "News"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewTfidfVectorizer(tt.opts...)
			got := v.Analyze(tt.doc)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Analyze(%q) = %v, want %v", tt.doc, got, tt.want)
			}
		})
	}
}

func TestTfidfFitTransform(t *testing.T) {
	docs := []string{
		"apple banana",
		"apple cherry",
		"banana banana",
	}
	v := NewTfidfVectorizer()
	X, err := v.FitTransform(docs)
	if err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}

	wantFeatures := []string{"apple", "banana", "cherry"}
	if got := v.FeatureNames(); !reflect.DeepEqual(got, wantFeatures) {
		t.Fatalf("FeatureNames() = %v, want %v", got, wantFeatures)
	}

	// idf = ln((1+n)/(1+df)) + 1
	idf := v.IDF()
	wantIDF := []float64{math.Log(4.0/3.0) + 1, math.Log(4.0/3.0) + 1, math.Log(4.0/2.0) + 1}
	for j := range wantIDF {
		if math.Abs(idf[j]-wantIDF[j]) > 1e-12 {
			t.Errorf("idf[%d] = %v, want %v", j, idf[j], wantIDF[j])
		}
	}

	r, c := X.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("Dims() = (%d, %d), want (3, 3)", r, c)
	}
	for i := 0; i < r; i++ {
		var s float64
		for j := 0; j < c; j++ {
			s += X.At(i, j) * X.At(i, j)
		}
		if math.Abs(s-1) > 1e-12 {
			t.Errorf("row %d l2 norm^2 = %v, want 1", i, s)
		}
	}
	if X.At(2, 1) != 1 || X.At(2, 0) != 0 {
		t.Errorf("row 2 should be pure banana, got %v %v", X.At(2, 0), X.At(2, 1))
	}
}

func TestTfidfUnknownTermsGiveZeroRow(t *testing.T) {
	v := NewTfidfVectorizer()
	if err := v.Fit([]string{"alpha beta", "beta gamma"}); err != nil {
		t.Fatal(err)
	}
	X, err := v.Transform([]string{"zeta omega", ""})
	if err != nil {
		t.Fatal(err)
	}
	if X.NNZ() != 0 {
		t.Errorf("expected empty rows, got %d non-zeros", X.NNZ())
	}
	if r, c := X.Dims(); r != 2 || c != 3 {
		t.Errorf("Dims() = (%d, %d)", r, c)
	}
}

func TestTfidfPruning(t *testing.T) {
	docs := []string{"common rare1", "common rare2", "common shared", "shared other"}

	v := NewTfidfVectorizer(WithMinDF(2))
	if err := v.Fit(docs); err != nil {
		t.Fatal(err)
	}
	if got := v.FeatureNames(); !reflect.DeepEqual(got, []string{"common", "shared"}) {
		t.Errorf("min_df vocabulary = %v", got)
	}

	v = NewTfidfVectorizer(WithMaxDF(0.5))
	if err := v.Fit(docs); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.Vocabulary()["common"]; ok {
		t.Error("max_df should drop a term present in 75% of documents")
	}

	v = NewTfidfVectorizer(WithMaxFeatures(2))
	if err := v.Fit(docs); err != nil {
		t.Fatal(err)
	}
	if got := v.FeatureNames(); !reflect.DeepEqual(got, []string{"common", "shared"}) {
		t.Errorf("max_features vocabulary = %v", got)
	}
}

func TestTfidfSublinearAndNoNorm(t *testing.T) {
	v := NewTfidfVectorizer(WithSublinearTF(true), WithNorm(preprocessing.NormNone), WithSmoothIDF(false))
	X, err := v.FitTransform([]string{"word word word", "word"})
	if err != nil {
		t.Fatal(err)
	}
	// idf = ln(2/2) + 1 = 1
	want := 1 + math.Log(3)
	if math.Abs(X.At(0, 0)-want) > 1e-12 {
		t.Errorf("X[0,0] = %v, want %v", X.At(0, 0), want)
	}
	if X.At(1, 0) != 1 {
		t.Errorf("X[1,0] = %v, want 1", X.At(1, 0))
	}
}

func TestTfidfErrors(t *testing.T) {
	v := NewTfidfVectorizer()
	_, err := v.Transform([]string{"x"})
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFittedError, got %v", err)
	}

	if err := v.Fit(nil); !errors.Is(err, errors.ErrEmptyData) {
		t.Errorf("expected ErrEmptyData, got %v", err)
	}

	var ve *errors.ValueError
	if err := NewTfidfVectorizer(WithStopWords("english")).Fit([]string{"the and of"}); !errors.As(err, &ve) {
		t.Errorf("expected ValueError for empty vocabulary, got %v", err)
	}

	var val *errors.ValidationError
	if err := NewTfidfVectorizer(WithNgramRange(2, 1)).Fit([]string{"a b"}); !errors.As(err, &val) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if err := NewTfidfVectorizer(WithStopWords("french")).Fit([]string{"a b"}); !errors.As(err, &val) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestTfidfGobRoundTrip(t *testing.T) {
	docs := []string{"fake news spreads fast", "real news is verified", "verified sources matter"}
	v := NewTfidfVectorizer(WithNgramRange(1, 2), WithStopWords("english"))
	want, err := v.FitTransform(docs)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	restored := NewTfidfVectorizer()
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !restored.IsFitted() {
		t.Fatal("restored vectorizer should be fitted")
	}
	got, err := restored.Transform(docs)
	if err != nil {
		t.Fatal(err)
	}
	r, c := want.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if got.At(i, j) != want.At(i, j) {
				t.Fatalf("At(%d,%d) = %v, want %v", i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}
