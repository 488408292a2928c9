// Package pipeline trains every candidate classifier on the cleaned dataset,
// selects the most accurate one on the held-out split and persists the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/YuminosukeSato/newsclf/core/tensor"
	"github.com/YuminosukeSato/newsclf/feature_extraction/text"
	"github.com/YuminosukeSato/newsclf/internal/artifact"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/internal/chart"
	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/internal/dataset"
	"github.com/YuminosukeSato/newsclf/metrics"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/YuminosukeSato/newsclf/preprocessing"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Stage identifies a step of a run for progress reporting.
type Stage string

const (
	StageLoad      Stage = "load"
	StageVectorize Stage = "vectorize"
	StageFit       Stage = "fit"
	StageEvaluate  Stage = "evaluate"
	StagePersist   Stage = "persist"
)

// Event is sent to Options.Progress. Index counts candidates from 1; Metrics
// is set once a candidate has been scored.
type Event struct {
	Stage   Stage
	Model   string
	Index   int
	Total   int
	Metrics *artifact.ModelMetrics
}

// Options tune a run.
type Options struct {
	Progress func(Event)
}

func (o Options) emit(e Event) {
	if o.Progress != nil {
		o.Progress(e)
	}
}

// Result is the outcome of Train or Evaluate.
type Result struct {
	Manifest    *artifact.Manifest
	Reports     map[string]*metrics.Report
	MetricsPath string
	ChartPath   string
}

// split is the vectorized train/test data of one run.
type split struct {
	xTrain *tensor.CSR
	yTrain *mat.Dense
	xTest  *tensor.CSR
	yTest  *mat.VecDense
}

// NewVectorizer maps the features section onto a TF-IDF vectorizer.
func NewVectorizer(cfg config.FeaturesConfig) *text.TfidfVectorizer {
	stop := cfg.StopWords
	if stop == "none" {
		stop = ""
	}
	return text.NewTfidfVectorizer(
		text.WithStopWords(stop),
		text.WithNgramRange(cfg.NgramMin, cfg.NgramMax),
		text.WithMinDF(cfg.MinDF),
		text.WithMaxDF(cfg.MaxDF),
		text.WithMaxFeatures(cfg.MaxFeatures),
		text.WithSublinearTF(cfg.SublinearTF),
		text.WithNorm(preprocessing.Norm(cfg.Norm)),
	)
}

// Train runs the full model selection and writes the artifacts. The files of
// the run go to their own directory; the previous run stays served until the
// new manifest is published, and a failed run leaves nothing behind.
func Train(ctx context.Context, cfg *config.Config, opts Options) (_ *Result, err error) {
	runID := uuid.NewString()
	logger := log.GetLoggerWithName("pipeline").With(log.RunIDKey, runID)
	seed := cfg.Training.RandomState

	names := cfg.Models.Candidates
	if len(names) == 0 {
		names = config.DefaultCandidates
	}

	opts.emit(Event{Stage: StageLoad, Total: len(names)})
	train, test, digest, err := loadSplit(cfg.Data.Cleaned, cfg.Training.TestSize, seed)
	if err != nil {
		return nil, err
	}
	logger.Info("Dataset split",
		log.PathKey, cfg.Data.Cleaned,
		"train", len(train),
		"test", len(test),
	)

	opts.emit(Event{Stage: StageVectorize, Total: len(names)})
	vec := NewVectorizer(cfg.Features)
	data, err := vectorize(vec, train, test)
	if err != nil {
		return nil, err
	}
	_, nFeatures := data.xTrain.Dims()
	logger.Info("Vectorizer fitted", log.FeaturesKey, nFeatures, "nnz", data.xTrain.NNZ())

	store := artifact.NewStore(cfg.Artifacts.Dir)
	defer func() {
		if err == nil {
			return
		}
		if derr := store.DiscardRun(runID); derr != nil {
			logger.Warn("Discard unpublished run failed", "error", derr.Error())
		}
	}()
	manifest := &artifact.Manifest{
		RunID:         runID,
		Models:        map[string]string{},
		Features:      nFeatures,
		TrainSamples:  len(train),
		TestSamples:   len(test),
		Dataset:       cfg.Data.Cleaned,
		DatasetSHA256: digest,
		TestSize:      cfg.Training.TestSize,
		RandomState:   seed,
		KeepPublisher: cfg.Data.KeepPublisher,
	}
	reports := map[string]*metrics.Report{}

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "training interrupted")
		}
		opts.emit(Event{Stage: StageFit, Model: name, Index: i + 1, Total: len(names)})

		clf, err := candidate.New(name, cfg.Models, seed)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := errors.SafeExecute("fit "+name, func() error {
			return clf.Fit(data.xTrain, data.yTrain)
		}); err != nil {
			return nil, errors.Wrapf(err, "fit %s", name)
		}
		elapsed := time.Since(start)

		m, rep, err := Score(name, clf, data.xTest, data.yTest)
		if err != nil {
			return nil, err
		}
		m.TrainSeconds = elapsed.Seconds()
		m.Stages = stagesOf(clf)
		manifest.Metrics = append(manifest.Metrics, m)
		reports[name] = rep

		rel, err := store.SaveModel(runID, name, clf)
		if err != nil {
			return nil, err
		}
		manifest.Models[name] = rel

		logger.Info("Candidate evaluated",
			log.ModelNameKey, name,
			log.AccuracyKey, m.Accuracy,
			log.LossKey, m.LogLoss,
			log.DurationMsKey, elapsed.Milliseconds(),
		)
		opts.emit(Event{Stage: StageEvaluate, Model: name, Index: i + 1, Total: len(names), Metrics: &m})
	}

	manifest.BestModel = SelectBest(manifest.Metrics)
	opts.emit(Event{Stage: StagePersist, Model: manifest.BestModel, Total: len(names)})

	if manifest.Vectorizer, err = store.SaveVectorizer(runID, vec); err != nil {
		return nil, err
	}
	manifest.CreatedAt = time.Now().UTC()
	res, err := publish(store, cfg, manifest, reports)
	if err != nil {
		return nil, err
	}
	if removed, perr := store.PruneRuns(runID); perr != nil {
		logger.Warn("Prune old runs failed", "error", perr.Error())
	} else if len(removed) > 0 {
		logger.Debug("Old runs pruned", "runs", removed)
	}
	best, _ := manifest.Best()
	logger.Info("Training complete",
		log.ModelNameKey, manifest.BestModel,
		log.AccuracyKey, best.Accuracy,
		log.PathKey, store.ManifestPath(),
	)
	return res, nil
}

// Evaluate reloads the artifacts of the last run, rescores every model on the
// same held-out split and rewrites the metrics table, chart and manifest. The
// selected model is left unchanged.
func Evaluate(ctx context.Context, cfg *config.Config) (*Result, error) {
	logger := log.GetLoggerWithName("pipeline")
	store := artifact.NewStore(cfg.Artifacts.Dir)
	manifest, err := store.ReadManifest()
	if err != nil {
		return nil, err
	}
	logger = logger.With(log.RunIDKey, manifest.RunID)

	vec, err := store.LoadVectorizer(manifest)
	if err != nil {
		return nil, err
	}
	_, test, digest, err := loadSplit(cfg.Data.Cleaned, manifest.TestSize, manifest.RandomState)
	if err != nil {
		return nil, err
	}
	if digest != manifest.DatasetSHA256 {
		return nil, errors.NewValueError("pipeline.Evaluate", fmt.Sprintf(
			"%s (sha256 %s) is not the dataset run %s was trained on (%s, sha256 %s); retrain instead",
			cfg.Data.Cleaned, shortDigest(digest), manifest.RunID, manifest.Dataset, shortDigest(manifest.DatasetSHA256)))
	}
	testDocs, testLabels := dataset.Documents(test)
	xTest, err := vec.Transform(testDocs)
	if err != nil {
		return nil, errors.Wrap(err, "vectorize test split")
	}
	yTest := mat.NewVecDense(len(testLabels), testLabels)

	reports := map[string]*metrics.Report{}
	for i, prev := range manifest.Metrics {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "evaluation interrupted")
		}
		clf, err := store.LoadModel(manifest, prev.Name)
		if err != nil {
			return nil, err
		}
		m, rep, err := Score(prev.Name, clf, xTest, yTest)
		if err != nil {
			return nil, err
		}
		m.TrainSeconds = prev.TrainSeconds
		m.Stages = prev.Stages
		manifest.Metrics[i] = m
		reports[prev.Name] = rep
		logger.Info("Model evaluated", log.ModelNameKey, prev.Name, log.AccuracyKey, m.Accuracy)
	}
	return publish(store, cfg, manifest, reports)
}

// SelectBest returns the most accurate candidate; ties go to the earlier one.
func SelectBest(ms []artifact.ModelMetrics) string {
	best := -1
	for i, m := range ms {
		if best < 0 || m.Accuracy > ms[best].Accuracy {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return ms[best].Name
}

// publish writes the metrics table and chart, then the manifest.
func publish(store *artifact.Store, cfg *config.Config, manifest *artifact.Manifest, reports map[string]*metrics.Report) (*Result, error) {
	if manifest.BestModel == "" {
		return nil, errors.NewValueError("pipeline.publish", "no candidate was trained")
	}
	metricsPath, err := store.WriteMetrics(manifest.Metrics)
	if err != nil {
		return nil, err
	}

	bars := make([]chart.Bar, len(manifest.Metrics))
	for i, m := range manifest.Metrics {
		bars[i] = chart.Bar{Label: candidate.DisplayName(m.Name), Value: m.Accuracy}
	}
	chartOpts := chart.DefaultOptions()
	chartOpts.Highlight = candidate.DisplayName(manifest.BestModel)
	chartPath := store.Path(cfg.Artifacts.Chart)
	if err := chart.Render(chartPath, bars, chartOpts); err != nil {
		return nil, err
	}

	if err := store.WriteManifest(manifest); err != nil {
		return nil, err
	}
	return &Result{
		Manifest:    manifest,
		Reports:     reports,
		MetricsPath: metricsPath,
		ChartPath:   chartPath,
	}, nil
}

// loadSplit reads the cleaned dataset, splits it and returns the digest of
// the file it read.
func loadSplit(path string, testSize float64, seed int64) (train, test []dataset.Article, digest string, err error) {
	articles, digest, err := dataset.ReadCSVDigest(path)
	if err != nil {
		return nil, nil, "", err
	}
	if train, test, err = dataset.Split(articles, testSize, seed); err != nil {
		return nil, nil, "", err
	}
	if len(test) == 0 {
		return nil, nil, "", errors.NewValueError("pipeline.loadSplit", "held-out split is empty; add more articles")
	}
	return train, test, digest, nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	if d == "" {
		return "unknown"
	}
	return d
}

// vectorize fits vec on the training split and transforms both splits.
func vectorize(vec *text.TfidfVectorizer, train, test []dataset.Article) (*split, error) {
	trainDocs, trainLabels := dataset.Documents(train)
	testDocs, testLabels := dataset.Documents(test)

	xTrain, err := vec.FitTransform(trainDocs)
	if err != nil {
		return nil, errors.Wrap(err, "vectorize training split")
	}
	xTest, err := vec.Transform(testDocs)
	if err != nil {
		return nil, errors.Wrap(err, "vectorize test split")
	}
	return &split{
		xTrain: xTrain,
		yTrain: mat.NewDense(len(trainLabels), 1, trainLabels),
		xTest:  xTest,
		yTest:  mat.NewVecDense(len(testLabels), testLabels),
	}, nil
}
