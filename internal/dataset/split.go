package dataset

import (
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
)

// Split partitions articles into train and test sets, keeping the label
// proportions of every class. The same seed always gives the same split.
func Split(articles []Article, testSize float64, seed int64) (train, test []Article, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	if len(articles) < 2 {
		return nil, nil, errors.NewValueError("dataset.Split", "need at least two articles")
	}

	byLabel := map[int][]int{}
	for i, a := range articles {
		byLabel[a.Label] = append(byLabel[a.Label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, l := range labels {
		idx := byLabel[l]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(testSize * float64(len(idx))))
		if nTest == 0 && len(idx) > 1 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)

	train = make([]Article, len(trainIdx))
	for k, i := range trainIdx {
		train[k] = articles[i]
	}
	test = make([]Article, len(testIdx))
	for k, i := range testIdx {
		test[k] = articles[i]
	}
	return train, test, nil
}

// Documents returns the vectorizer input and the labels of articles.
func Documents(articles []Article) ([]string, []float64) {
	docs := make([]string, len(articles))
	labels := make([]float64, len(articles))
	for i, a := range articles {
		docs[i] = a.Content()
		labels[i] = float64(a.Label)
	}
	return docs, labels
}
