// Package text turns raw documents into TF-IDF feature matrices.
//
// TfidfVectorizer follows scikit-learn's TfidfVectorizer: word tokens of two
// or more letters, optional stop word removal, word n-grams, document
// frequency pruning, smoothed idf and l2 row normalization. The output is a
// *tensor.CSR with one row per document and one column per vocabulary term
// in sorted term order.
package text

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/core/parallel"
	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/preprocessing"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// parallelThreshold is the document count above which analysis fans out.
const parallelThreshold = 256

// TfidfVectorizer converts documents to a matrix of TF-IDF features.
type TfidfVectorizer struct {
	state *model.StateManager

	lowercase   bool
	stopWords   string
	ngramMin    int
	ngramMax    int
	minDF       int
	maxDF       float64
	maxFeatures int
	sublinearTF bool
	smoothIDF   bool
	norm        preprocessing.Norm

	vocabulary map[string]int
	features   []string
	idf        []float64
}

var _ model.TextTransformer = (*TfidfVectorizer)(nil)

// Option configures a TfidfVectorizer.
type Option func(*TfidfVectorizer)

// WithLowercase folds tokens to lower case before counting (default true).
func WithLowercase(b bool) Option { return func(v *TfidfVectorizer) { v.lowercase = b } }

// WithStopWords selects a stop word list: "english" or "" for none.
func WithStopWords(name string) Option { return func(v *TfidfVectorizer) { v.stopWords = name } }

// WithNgramRange sets the inclusive range of word n-gram sizes.
func WithNgramRange(min, max int) Option {
	return func(v *TfidfVectorizer) { v.ngramMin, v.ngramMax = min, max }
}

// WithMinDF drops terms that appear in fewer than n documents.
func WithMinDF(n int) Option { return func(v *TfidfVectorizer) { v.minDF = n } }

// WithMaxDF drops terms that appear in more than the given proportion of documents.
func WithMaxDF(p float64) Option { return func(v *TfidfVectorizer) { v.maxDF = p } }

// WithMaxFeatures keeps only the n terms with the highest corpus frequency.
// Zero keeps all terms.
func WithMaxFeatures(n int) Option { return func(v *TfidfVectorizer) { v.maxFeatures = n } }

// WithSublinearTF replaces tf with 1 + ln(tf).
func WithSublinearTF(b bool) Option { return func(v *TfidfVectorizer) { v.sublinearTF = b } }

// WithSmoothIDF adds one to document frequencies (default true).
func WithSmoothIDF(b bool) Option { return func(v *TfidfVectorizer) { v.smoothIDF = b } }

// WithNorm sets the row normalization (default l2).
func WithNorm(n preprocessing.Norm) Option { return func(v *TfidfVectorizer) { v.norm = n } }

// NewTfidfVectorizer returns an unfitted vectorizer.
func NewTfidfVectorizer(opts ...Option) *TfidfVectorizer {
	v := &TfidfVectorizer{
		state:     model.NewStateManager(),
		lowercase: true,
		ngramMin:  1,
		ngramMax:  1,
		minDF:     1,
		maxDF:     1.0,
		smoothIDF: true,
		norm:      preprocessing.NormL2,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *TfidfVectorizer) validate() error {
	switch {
	case v.ngramMin < 1 || v.ngramMax < v.ngramMin:
		return errors.NewValidationError("ngram_range", "must satisfy 1 <= min <= max", [2]int{v.ngramMin, v.ngramMax})
	case v.minDF < 1:
		return errors.NewValidationError("min_df", "must be >= 1", v.minDF)
	case v.maxDF <= 0 || v.maxDF > 1:
		return errors.NewValidationError("max_df", "must be in (0, 1]", v.maxDF)
	case v.maxFeatures < 0:
		return errors.NewValidationError("max_features", "must be >= 0", v.maxFeatures)
	case v.stopWords != "" && v.stopWords != "english":
		return errors.NewValidationError("stop_words", "only \"english\" is supported", v.stopWords)
	}
	switch v.norm {
	case preprocessing.NormL1, preprocessing.NormL2, preprocessing.NormMax, preprocessing.NormNone:
	default:
		return errors.NewValidationError("norm", "must be one of l1, l2, max, none", v.norm)
	}
	return nil
}

// Analyze returns the terms (n-grams) of one document in order of appearance.
func (v *TfidfVectorizer) Analyze(doc string) []string {
	if v.lowercase {
		doc = strings.ToLower(doc)
	}
	raw := tokenPattern.FindAllString(doc, -1)
	tokens := raw[:0]
	for _, t := range raw {
		if v.stopWords == "english" && IsStopWord(t) {
			continue
		}
		tokens = append(tokens, t)
	}
	if v.ngramMin == 1 && v.ngramMax == 1 {
		return tokens
	}

	terms := make([]string, 0, len(tokens)*(v.ngramMax-v.ngramMin+1))
	for n := v.ngramMin; n <= v.ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				terms = append(terms, tokens[i])
			} else {
				terms = append(terms, strings.Join(tokens[i:i+n], " "))
			}
		}
	}
	return terms
}

func (v *TfidfVectorizer) analyzeAll(docs []string) [][]string {
	out := make([][]string, len(docs))
	parallel.ParallelizeWithThreshold(len(docs), parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = v.Analyze(docs[i])
		}
	})
	return out
}

// Fit learns the vocabulary and idf weights from docs.
func (v *TfidfVectorizer) Fit(docs []string) error {
	if err := v.validate(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return errors.NewModelError("TfidfVectorizer.Fit", "empty corpus", errors.ErrEmptyData)
	}
	nDocs := len(docs)

	df := make(map[string]int)
	tf := make(map[string]int)
	for _, terms := range v.analyzeAll(docs) {
		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			tf[t]++
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}

	maxDocCount := int(math.Floor(v.maxDF * float64(nDocs)))
	if maxDocCount < v.minDF {
		return errors.NewValueError("TfidfVectorizer.Fit", "max_df corresponds to fewer documents than min_df")
	}
	kept := make([]string, 0, len(df))
	for t, d := range df {
		if d >= v.minDF && d <= maxDocCount {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return errors.NewValueError("TfidfVectorizer.Fit", "empty vocabulary; perhaps the documents only contain stop words")
	}

	if v.maxFeatures > 0 && len(kept) > v.maxFeatures {
		sort.Slice(kept, func(i, j int) bool {
			if tf[kept[i]] != tf[kept[j]] {
				return tf[kept[i]] > tf[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:v.maxFeatures]
	}
	sort.Strings(kept)

	v.vocabulary = make(map[string]int, len(kept))
	v.idf = make([]float64, len(kept))
	n := float64(nDocs)
	for j, t := range kept {
		v.vocabulary[t] = j
		d := float64(df[t])
		if v.smoothIDF {
			v.idf[j] = math.Log((1+n)/(1+d)) + 1
		} else {
			v.idf[j] = math.Log(n/d) + 1
		}
	}
	v.features = kept
	v.state.SetDimensions(len(kept), nDocs)
	v.state.SetFitted()
	return nil
}

// Transform maps docs onto the fitted vocabulary. Unknown terms are ignored,
// so a document with no known term becomes an all-zero row.
func (v *TfidfVectorizer) Transform(docs []string) (*tensor.CSR, error) {
	if err := v.state.RequireFitted("TfidfVectorizer", "Transform"); err != nil {
		return nil, err
	}
	nFeatures := len(v.features)

	type row struct {
		idx []int
		val []float64
	}
	rows := make([]row, len(docs))
	parallel.ParallelizeWithThreshold(len(docs), parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			counts := make(map[int]float64)
			for _, t := range v.Analyze(docs[i]) {
				if j, ok := v.vocabulary[t]; ok {
					counts[j]++
				}
			}
			idx := make([]int, 0, len(counts))
			for j := range counts {
				idx = append(idx, j)
			}
			sort.Ints(idx)
			val := make([]float64, len(idx))
			for k, j := range idx {
				c := counts[j]
				if v.sublinearTF {
					c = 1 + math.Log(c)
				}
				val[k] = c * v.idf[j]
			}
			rows[i] = row{idx: idx, val: val}
		}
	})

	b := tensor.NewCSRBuilder(nFeatures)
	for _, r := range rows {
		b.AppendSorted(r.idx, r.val)
	}
	raw := b.Build()
	if len(docs) == 0 || v.norm == preprocessing.NormNone {
		return raw, nil
	}

	normalized, err := preprocessing.NewNormalizer(v.norm).FitTransform(raw)
	if err != nil {
		return nil, errors.Wrap(err, "TfidfVectorizer.Transform")
	}
	return normalized.(*tensor.CSR), nil
}

// FitTransform fits on docs and returns their feature matrix.
func (v *TfidfVectorizer) FitTransform(docs []string) (*tensor.CSR, error) {
	if err := v.Fit(docs); err != nil {
		return nil, err
	}
	return v.Transform(docs)
}

// IsFitted reports whether Fit has completed.
func (v *TfidfVectorizer) IsFitted() bool { return v.state.IsFitted() }

// Vocabulary returns a copy of the term -> column mapping.
func (v *TfidfVectorizer) Vocabulary() map[string]int {
	out := make(map[string]int, len(v.vocabulary))
	for t, j := range v.vocabulary {
		out[t] = j
	}
	return out
}

// FeatureNames returns the vocabulary terms in column order.
func (v *TfidfVectorizer) FeatureNames() []string {
	return append([]string(nil), v.features...)
}

// IDF returns the learned idf weight of every column.
func (v *TfidfVectorizer) IDF() []float64 {
	return append([]float64(nil), v.idf...)
}

// GetParams returns the vectorizer's hyperparameters.
func (v *TfidfVectorizer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"lowercase":    v.lowercase,
		"stop_words":   v.stopWords,
		"ngram_range":  [2]int{v.ngramMin, v.ngramMax},
		"min_df":       v.minDF,
		"max_df":       v.maxDF,
		"max_features": v.maxFeatures,
		"sublinear_tf": v.sublinearTF,
		"smooth_idf":   v.smoothIDF,
		"norm":         string(v.norm),
	}
}

type vectorizerSnapshot struct {
	Fitted      bool
	NSamples    int
	Lowercase   bool
	StopWords   string
	NgramMin    int
	NgramMax    int
	MinDF       int
	MaxDF       float64
	MaxFeatures int
	SublinearTF bool
	SmoothIDF   bool
	Norm        string
	Features    []string
	IDF         []float64
}

// GobEncode implements gob.GobEncoder.
func (v *TfidfVectorizer) GobEncode() ([]byte, error) {
	_, nSamples := v.state.GetDimensions()
	return model.EncodeSnapshot(vectorizerSnapshot{
		Fitted:      v.state.IsFitted(),
		NSamples:    nSamples,
		Lowercase:   v.lowercase,
		StopWords:   v.stopWords,
		NgramMin:    v.ngramMin,
		NgramMax:    v.ngramMax,
		MinDF:       v.minDF,
		MaxDF:       v.maxDF,
		MaxFeatures: v.maxFeatures,
		SublinearTF: v.sublinearTF,
		SmoothIDF:   v.smoothIDF,
		Norm:        string(v.norm),
		Features:    v.features,
		IDF:         v.idf,
	})
}

// GobDecode implements gob.GobDecoder.
func (v *TfidfVectorizer) GobDecode(data []byte) error {
	var s vectorizerSnapshot
	if err := model.DecodeSnapshot(data, &s); err != nil {
		return err
	}
	if len(s.Features) != len(s.IDF) {
		return errors.NewDimensionError("TfidfVectorizer.GobDecode", len(s.Features), len(s.IDF), 1)
	}
	v.lowercase, v.stopWords = s.Lowercase, s.StopWords
	v.ngramMin, v.ngramMax = s.NgramMin, s.NgramMax
	v.minDF, v.maxDF, v.maxFeatures = s.MinDF, s.MaxDF, s.MaxFeatures
	v.sublinearTF, v.smoothIDF = s.SublinearTF, s.SmoothIDF
	v.norm = preprocessing.Norm(s.Norm)
	v.features, v.idf = s.Features, s.IDF
	v.vocabulary = make(map[string]int, len(s.Features))
	for j, t := range s.Features {
		v.vocabulary[t] = j
	}
	if v.state == nil {
		v.state = model.NewStateManager()
	}
	v.state.Restore(s.Fitted, len(s.Features), s.NSamples)
	return nil
}
