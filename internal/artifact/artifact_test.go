package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/YuminosukeSato/newsclf/feature_extraction/text"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	docs := []string{"aliens built the pyramids", "senate passes budget", "aliens control the senate", "budget vote delayed"}
	vec := text.NewTfidfVectorizer()
	X, err := vec.FitTransform(docs)
	require.NoError(t, err)

	clf, err := candidate.New(config.DecisionTree, config.Default().Models, 3)
	require.NoError(t, err)
	require.NoError(t, clf.Fit(X, mat.NewDense(4, 1, []float64{0, 1, 0, 1})))

	vecPath, err := store.SaveVectorizer("run-1", vec)
	require.NoError(t, err)
	modelPath, err := store.SaveModel("run-1", config.DecisionTree, clf)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("runs", "run-1", "vectorizer.gob"), vecPath)
	assert.Equal(t, filepath.Join("runs", "run-1", "models", "decision_tree.gob"), modelPath)

	m := &Manifest{
		RunID:         "run-1",
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		BestModel:     config.DecisionTree,
		Vectorizer:    vecPath,
		Models:        map[string]string{config.DecisionTree: modelPath},
		Metrics:       []ModelMetrics{{Name: config.DecisionTree, Accuracy: 1, Confusion: [][]int{{2, 0}, {0, 2}}}},
		Dataset:       "data/cleaned.csv",
		DatasetSHA256: "abc123",
	}
	require.NoError(t, store.WriteManifest(m))

	got, err := store.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, m, got)
	best, ok := got.Best()
	require.True(t, ok)
	assert.Equal(t, 1.0, best.Accuracy)

	v2, err := store.LoadVectorizer(got)
	require.NoError(t, err)
	assert.Equal(t, vec.Vocabulary(), v2.Vocabulary())

	c2, err := store.LoadModel(got, config.DecisionTree)
	require.NoError(t, err)
	pred, err := c2.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 1}, mat.Col(nil, 0, pred))

	_, err = store.LoadModel(got, config.RandomForest)
	assert.True(t, errors.Is(err, candidate.ErrUnknown))
}

func TestPruneAndDiscardRuns(t *testing.T) {
	store := NewStore(t.TempDir())
	removed, err := store.PruneRuns("none")
	require.NoError(t, err)
	assert.Empty(t, removed)

	vec := text.NewTfidfVectorizer()
	_, err = vec.FitTransform([]string{"aliens built the pyramids", "senate passes budget"})
	require.NoError(t, err)
	for _, id := range []string{"old", "current", "partial"} {
		_, err := store.SaveVectorizer(id, vec)
		require.NoError(t, err)
	}

	require.NoError(t, store.DiscardRun("partial"))
	_, err = os.Stat(store.Path(RunDir("partial")))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, store.DiscardRun("never-written"))

	removed, err = store.PruneRuns("current")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)
	_, err = os.Stat(store.Path(filepath.Join(RunDir("current"), VectorizerFile)))
	assert.NoError(t, err)
}

func TestReadManifestErrors(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.ReadManifest()
	assert.True(t, errors.Is(err, ErrNoManifest))

	require.NoError(t, os.WriteFile(store.ManifestPath(), []byte("{"), 0o644))
	_, err = store.ReadManifest()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(store.ManifestPath(), []byte(`{"run_id":"x"}`), 0o644))
	_, err = store.ReadManifest()
	assert.Error(t, err)
}

func TestWriteMetrics(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested"))
	path, err := store.WriteMetrics([]ModelMetrics{
		{Name: "random_forest", Accuracy: 0.5, TrainSeconds: 1.25},
	})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "model,accuracy,precision,recall,f1,auc,log_loss,train_seconds", lines[0])
	assert.Equal(t, "random_forest,0.500000,0.000000,0.000000,0.000000,0.000000,0.000000,1.250", lines[1])
}
