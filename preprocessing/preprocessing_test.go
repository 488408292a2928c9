package preprocessing

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  CleanOptions
		want  string
	}{
		{"empty", "", DefaultCleanOptions, ""},
		{"html entities and tags", "Tom &amp; Jerry <b>win</b>!", DefaultCleanOptions, "tom jerry win"},
		{"urls", "Read https://example.com/a?b=1 now www.foo.org", DefaultCleanOptions, "read now"},
		{"reuters dateline", "WASHINGTON (Reuters) - The head of a group said", DefaultCleanOptions, "the head of a group said"},
		{"dateline kept when disabled", "WASHINGTON (Reuters) - Hi", CleanOptions{Lowercase: true}, "washington reuters hi"},
		{"case kept", "Breaking NEWS", CleanOptions{}, "Breaking NEWS"},
		{"unicode letters", "Café – naïve   déjà-vu", DefaultCleanOptions, "café naïve déjà vu"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.input, tt.opts); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCombine(t *testing.T) {
	if got := Combine("a", "b"); got != "a b" {
		t.Errorf("Combine = %q", got)
	}
	if got := Combine("", "b"); got != "b" {
		t.Errorf("Combine = %q", got)
	}
	if got := Combine("a", ""); got != "a" {
		t.Errorf("Combine = %q", got)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Hello, World", "Some   text.")
	b := Fingerprint("hello world", "some text")
	c := Fingerprint("hello world", "other text")
	if a != b {
		t.Error("fingerprint should ignore case, punctuation and spacing")
	}
	if a == c {
		t.Error("different articles should have different fingerprints")
	}
	if len(a) != 40 {
		t.Errorf("expected hex sha1, got %q", a)
	}
}

func TestNormalizerDense(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{3, 4, 0, 0})
	n := NewNormalizer(NormL2)
	got, err := n.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}
	want := mat.NewDense(2, 2, []float64{0.6, 0.8, 0, 0})
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Errorf("FitTransform() = %v, want %v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestNormalizerCSR(t *testing.T) {
	X := tensor.FromMatrix(mat.NewDense(2, 3, []float64{1, 0, 3, 0, -2, 0}))
	n := NewNormalizer(NormL1)
	got, err := n.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.(*tensor.CSR); !ok {
		t.Fatalf("expected sparse output, got %T", got)
	}
	if math.Abs(got.At(0, 0)-0.25) > 1e-12 || math.Abs(got.At(0, 2)-0.75) > 1e-12 || got.At(1, 1) != -1 {
		t.Errorf("unexpected values %v", mat.Formatted(got))
	}
}

func TestNormalizerErrors(t *testing.T) {
	n := NewNormalizer(NormMax)
	_, err := n.Transform(mat.NewDense(1, 1, []float64{1}))
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFittedError, got %v", err)
	}

	if err := n.Fit(mat.NewDense(1, 2, []float64{1, 2})); err != nil {
		t.Fatal(err)
	}
	_, err = n.Transform(mat.NewDense(1, 3, []float64{1, 2, 3}))
	var dim *errors.DimensionError
	if !errors.As(err, &dim) {
		t.Errorf("expected DimensionError, got %v", err)
	}

	bad := NewNormalizer("l3")
	var ve *errors.ValidationError
	if err := bad.Fit(mat.NewDense(1, 1, []float64{1})); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
