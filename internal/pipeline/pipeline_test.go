package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fakeWords = []string{"shocking", "aliens", "hoax", "secret", "miracle", "exposed", "conspiracy", "viral"}
	realWords = []string{"senate", "budget", "minister", "committee", "quarterly", "election", "statement", "policy"}
)

// corpus writes n articles per class whose vocabularies do not overlap.
func corpus(t *testing.T, dir string, n int) string {
	t.Helper()
	var articles []dataset.Article
	for i := 0; i < n; i++ {
		f1, f2 := fakeWords[i%len(fakeWords)], fakeWords[(i+3)%len(fakeWords)]
		r1, r2 := realWords[i%len(realWords)], realWords[(i+5)%len(realWords)]
		articles = append(articles,
			dataset.Article{Title: fmt.Sprintf("%s %s story %d", f1, f2, i), Text: fmt.Sprintf("the %s %s was %s", f1, f2, f1), Label: dataset.LabelFake},
			dataset.Article{Title: fmt.Sprintf("%s %s report %d", r1, r2, i), Text: fmt.Sprintf("the %s %s was %s", r1, r2, r2), Label: dataset.LabelReal},
		)
	}
	path := filepath.Join(dir, "cleaned.csv")
	require.NoError(t, dataset.WriteCSV(path, articles))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Cleaned = corpus(t, dir, 20)
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Features.MinDF = 1
	cfg.Models.RandomForest.NEstimators = 10
	cfg.Models.GradientBoosting.NEstimators = 20
	return cfg
}

func TestTrainAndEvaluate(t *testing.T) {
	cfg := testConfig(t)

	var events []Event
	res, err := Train(context.Background(), cfg, Options{Progress: func(e Event) { events = append(events, e) }})
	require.NoError(t, err)

	m := res.Manifest
	assert.NotEmpty(t, m.RunID)
	assert.Equal(t, 32, m.TrainSamples)
	assert.Equal(t, 8, m.TestSamples)
	require.Len(t, m.Metrics, len(config.DefaultCandidates))
	for i, name := range config.DefaultCandidates {
		assert.Equal(t, name, m.Metrics[i].Name)
		assert.Contains(t, m.Models, name)
		assert.Len(t, m.Metrics[i].Confusion, 2)
	}
	assert.Equal(t, SelectBest(m.Metrics), m.BestModel)
	best, ok := m.Best()
	require.True(t, ok)
	assert.Equal(t, 1.0, best.Accuracy)
	assert.Equal(t, 20, m.Metrics[3].Stages)
	require.Contains(t, res.Reports, m.BestModel)

	for _, p := range []string{res.ChartPath, res.MetricsPath, filepath.Join(cfg.Artifacts.Dir, artifact.ManifestFile)} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	assert.Equal(t, StageLoad, events[0].Stage)
	assert.Equal(t, StagePersist, events[len(events)-1].Stage)
	var scored int
	for _, e := range events {
		if e.Stage == StageEvaluate {
			scored++
			require.NotNil(t, e.Metrics)
			assert.Equal(t, e.Model, e.Metrics.Name)
		}
	}
	assert.Equal(t, len(config.DefaultCandidates), scored)

	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, cfg.Data.Cleaned, m.Dataset)
	assert.Len(t, m.DatasetSHA256, 64)
	for _, rel := range m.Models {
		assert.Contains(t, rel, artifact.RunDir(m.RunID))
	}

	again, err := Evaluate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, again.Manifest.RunID)
	assert.True(t, m.CreatedAt.Equal(again.Manifest.CreatedAt))
	assert.Equal(t, m.BestModel, again.Manifest.BestModel)
	for i := range m.Metrics {
		assert.InDelta(t, m.Metrics[i].Accuracy, again.Manifest.Metrics[i].Accuracy, 1e-12)
	}
}

func TestTrainCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, cfg, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = os.Stat(filepath.Join(cfg.Artifacts.Dir, artifact.ManifestFile))
	assert.True(t, os.IsNotExist(err))
}

func TestFailedRunLeavesPublishedRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.Candidates = []string{config.LogisticRegression, config.DecisionTree}
	first, err := Train(context.Background(), cfg, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = Train(ctx, cfg, Options{Progress: func(e Event) {
		if e.Stage == StageEvaluate {
			cancel()
		}
	}})
	require.ErrorIs(t, err, context.Canceled)

	store := artifact.NewStore(cfg.Artifacts.Dir)
	m, err := store.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, first.Manifest.RunID, m.RunID)
	runs, err := os.ReadDir(store.Path("runs"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, m.RunID, runs[0].Name())

	second, err := Train(context.Background(), cfg, Options{})
	require.NoError(t, err)
	runs, err = os.ReadDir(store.Path("runs"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second.Manifest.RunID, runs[0].Name())
}

func TestEvaluateRejectsChangedDataset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.Candidates = []string{config.DecisionTree}
	res, err := Train(context.Background(), cfg, Options{})
	require.NoError(t, err)

	articles, err := dataset.ReadCSV(cfg.Data.Cleaned)
	require.NoError(t, err)
	for i, j := 0, len(articles)-1; i < j; i, j = i+1, j-1 {
		articles[i], articles[j] = articles[j], articles[i]
	}
	articles = append(articles, articles[:6]...)
	require.NoError(t, dataset.WriteCSV(cfg.Data.Cleaned, articles))

	_, err = Evaluate(context.Background(), cfg)
	var verr *errors.ValueError
	require.True(t, errors.As(err, &verr), "got %v", err)

	m, err := artifact.NewStore(cfg.Artifacts.Dir).ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.RunID, m.RunID)
	assert.Equal(t, res.Manifest.TestSamples, m.TestSamples)
}

func TestTrainErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.Candidates = []string{"svm"}
	_, err := Train(context.Background(), cfg, Options{})
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Data.Cleaned = filepath.Join(t.TempDir(), "missing.csv")
	_, err = Train(context.Background(), cfg, Options{})
	assert.Error(t, err)

	_, err = Evaluate(context.Background(), testConfig(t))
	assert.ErrorIs(t, err, artifact.ErrNoManifest)
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name string
		in   []artifact.ModelMetrics
		want string
	}{
		{"empty", nil, ""},
		{"highest wins", []artifact.ModelMetrics{{Name: "a", Accuracy: 0.8}, {Name: "b", Accuracy: 0.9}}, "b"},
		{"tie keeps order", []artifact.ModelMetrics{{Name: "a", Accuracy: 0.9}, {Name: "b", Accuracy: 0.9}}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectBest(tt.in))
		})
	}
}
