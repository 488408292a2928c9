package predict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/internal/pipeline"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	var articles []dataset.Article
	for i := 0; i < 15; i++ {
		articles = append(articles,
			dataset.Article{Title: fmt.Sprintf("shocking alien hoax %d", i), Text: "secret miracle cure exposed by insiders", Label: dataset.LabelFake},
			dataset.Article{Title: fmt.Sprintf("senate budget vote %d", i), Text: "the committee approved the quarterly budget", Label: dataset.LabelReal},
		)
	}
	cfg := config.Default()
	cfg.Data.Cleaned = filepath.Join(dir, "cleaned.csv")
	require.NoError(t, dataset.WriteCSV(cfg.Data.Cleaned, articles))
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Features.MinDF = 1
	cfg.Models.Candidates = []string{config.LogisticRegression, config.DecisionTree}
	_, err := pipeline.Train(context.Background(), cfg, pipeline.Options{})
	require.NoError(t, err)
	return cfg
}

func TestPredict(t *testing.T) {
	cfg := trainedConfig(t)
	svc := NewService(artifact.NewStore(cfg.Artifacts.Dir))

	_, err := svc.Predict(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.False(t, svc.Loaded())
	assert.Equal(t, "", svc.ModelName())

	require.NoError(t, svc.Load())
	assert.True(t, svc.Loaded())
	assert.Equal(t, svc.Manifest().BestModel, svc.ModelName())

	tests := []struct {
		title, text string
		want        string
	}{
		{"Shocking alien HOAX", "A secret miracle cure was exposed", "Fake News"},
		{"Senate budget vote", "The committee approved the quarterly budget.", "Real News"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			res, err := svc.Predict(context.Background(), tt.title, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Label)
			p := res.Probabilities
			assert.InDelta(t, 1.0, p.Fake+p.Real, 1e-9)
			assert.GreaterOrEqual(t, res.Confidence, 0.5)
			assert.LessOrEqual(t, res.Confidence, 1.0)
			assert.Equal(t, max(p.Fake, p.Real), res.Confidence)
		})
	}

	_, err = svc.Predict(context.Background(), "  ", "<p>https://example.com</p>")
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Predict(ctx, "senate", "budget")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInterruptedTrainingKeepsServedRun(t *testing.T) {
	cfg := trainedConfig(t)
	before := NewService(artifact.NewStore(cfg.Artifacts.Dir))
	require.NoError(t, before.Load())
	want, err := before.Predict(context.Background(), "Shocking alien HOAX", "A secret miracle cure was exposed")
	require.NoError(t, err)
	require.Equal(t, "Fake News", want.Label)
	runID := before.Manifest().RunID

	// Same texts with flipped labels, so both runs share a vocabulary.
	articles, err := dataset.ReadCSV(cfg.Data.Cleaned)
	require.NoError(t, err)
	for i := range articles {
		articles[i].Label = 1 - articles[i].Label
	}
	require.NoError(t, dataset.WriteCSV(cfg.Data.Cleaned, articles))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = pipeline.Train(ctx, cfg, pipeline.Options{Progress: func(e pipeline.Event) {
		if e.Stage == pipeline.StageEvaluate {
			cancel()
		}
	}})
	require.ErrorIs(t, err, context.Canceled)

	after := NewService(artifact.NewStore(cfg.Artifacts.Dir))
	require.NoError(t, after.Load())
	assert.Equal(t, runID, after.Manifest().RunID)
	got, err := after.Predict(context.Background(), "Shocking alien HOAX", "A secret miracle cure was exposed")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	runs, err := os.ReadDir(filepath.Join(cfg.Artifacts.Dir, "runs"))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].Name())
}

func TestLoadWithoutRun(t *testing.T) {
	svc := NewService(artifact.NewStore(t.TempDir()))
	assert.ErrorIs(t, svc.Load(), artifact.ErrNoManifest)
	assert.False(t, svc.Loaded())
}

func TestNewResult(t *testing.T) {
	tests := []struct {
		name string
		p    Probabilities
		want Result
	}{
		{"real", Probabilities{Fake: 0.2, Real: 0.8}, Result{Label: "Real News", Confidence: 0.8, Probabilities: Probabilities{0.2, 0.8}}},
		{"fake", Probabilities{Fake: 0.7, Real: 0.3}, Result{Label: "Fake News", Confidence: 0.7, Probabilities: Probabilities{0.7, 0.3}}},
		{"tie", Probabilities{Fake: 0.5, Real: 0.5}, Result{Label: "Fake News", Confidence: 0.5, Probabilities: Probabilities{0.5, 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewResult(tt.p))
		})
	}
}

func TestWatchReloads(t *testing.T) {
	cfg := trainedConfig(t)
	svc := NewService(artifact.NewStore(cfg.Artifacts.Dir))
	require.NoError(t, svc.Load())
	first := svc.Manifest().RunID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan error, 16)
	require.NoError(t, svc.watch(ctx, func(err error) { reloaded <- err }))

	_, err := pipeline.Train(context.Background(), cfg, pipeline.Options{})
	require.NoError(t, err)

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("manifest change was not observed")
	}
	assert.NotEqual(t, first, svc.Manifest().RunID)
}

func TestWatchKeepsModelOnBrokenManifest(t *testing.T) {
	cfg := trainedConfig(t)
	store := artifact.NewStore(cfg.Artifacts.Dir)
	svc := NewService(store)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	svc.logger = logger
	require.NoError(t, svc.Load())
	first := svc.Manifest().RunID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan error, 16)
	require.NoError(t, svc.watch(ctx, func(err error) { reloaded <- err }))

	require.NoError(t, os.WriteFile(store.ManifestPath(), []byte("{not json"), 0o644))

	select {
	case err := <-reloaded:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("manifest change was not observed")
	}
	assert.True(t, svc.Loaded())
	assert.Equal(t, first, svc.Manifest().RunID)
	assert.True(t, logger.ContainsMessage("Reload failed"))
	assert.True(t, logger.ContainsField(log.PathKey, store.ManifestPath()))
}

func TestConcurrentPredictAndReload(t *testing.T) {
	cfg := trainedConfig(t)
	svc := NewService(artifact.NewStore(cfg.Artifacts.Dir))
	require.NoError(t, svc.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := svc.Predict(context.Background(), "senate budget", "vote")
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		assert.NoError(t, svc.Load())
	}
	wg.Wait()
}
