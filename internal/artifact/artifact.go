// Package artifact persists everything a training run produces: the fitted
// vectorizer, one file per candidate model, a metrics table and the manifest
// that ties them together.
//
// Layout under the artifacts directory:
//
//	manifest.json
//	runs/<run_id>/vectorizer.gob
//	runs/<run_id>/models/<name>.gob
//	metrics.csv
//	model_comparison.png
//
// A run never writes into another run's directory and the manifest is
// renamed into place last, so the published manifest always references
// files of a single complete run.
package artifact

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/YuminosukeSato/newsclf/core/model"
	"github.com/YuminosukeSato/newsclf/feature_extraction/text"
	"github.com/YuminosukeSato/newsclf/internal/candidate"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
)

const (
	ManifestFile   = "manifest.json"
	VectorizerFile = "vectorizer.gob"
	MetricsFile    = "metrics.csv"
	modelsDir      = "models"
	runsDir        = "runs"
)

// ErrNoManifest is returned when the directory holds no trained run.
var ErrNoManifest = errors.New("no trained model: manifest not found")

// ModelMetrics are the held-out scores of one candidate.
type ModelMetrics struct {
	Name         string    `json:"name"`
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	AUC          float64   `json:"auc"`
	LogLoss      float64   `json:"log_loss"`
	Brier        float64   `json:"brier"`
	TrainSeconds float64   `json:"train_seconds"`
	Confusion    [][]int   `json:"confusion"`
	Stages       int       `json:"stages,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Manifest describes one training run.
type Manifest struct {
	RunID         string            `json:"run_id"`
	CreatedAt     time.Time         `json:"created_at"`
	BestModel     string            `json:"best_model"`
	Vectorizer    string            `json:"vectorizer"`
	Models        map[string]string `json:"models"`
	Metrics       []ModelMetrics    `json:"metrics"`
	Features      int               `json:"features"`
	TrainSamples  int               `json:"train_samples"`
	TestSamples   int               `json:"test_samples"`
	Dataset       string            `json:"dataset"`
	DatasetSHA256 string            `json:"dataset_sha256"`
	TestSize      float64           `json:"test_size"`
	RandomState   int64             `json:"random_state"`
	KeepPublisher bool              `json:"keep_publisher"`
}

// Best returns the metrics of the selected model.
func (m *Manifest) Best() (ModelMetrics, bool) {
	for _, mm := range m.Metrics {
		if mm.Name == m.BestModel {
			return mm, true
		}
	}
	return ModelMetrics{}, false
}

// Store reads and writes artifacts below Dir.
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store { return &Store{Dir: dir} }

// Path resolves a manifest-relative path.
func (s *Store) Path(rel string) string { return filepath.Join(s.Dir, rel) }

// ManifestPath is the file watched for reloads.
func (s *Store) ManifestPath() string { return s.Path(ManifestFile) }

// RunDir is the manifest-relative directory holding the files of runID.
func RunDir(runID string) string { return filepath.Join(runsDir, runID) }

// SaveVectorizer writes the fitted vectorizer of runID and returns its
// relative path.
func (s *Store) SaveVectorizer(runID string, v *text.TfidfVectorizer) (string, error) {
	rel := filepath.Join(RunDir(runID), VectorizerFile)
	if err := model.SaveModel(v, s.Path(rel)); err != nil {
		return "", errors.Wrap(err, "save vectorizer")
	}
	return rel, nil
}

// SaveModel writes a fitted classifier of runID and returns its relative
// path.
func (s *Store) SaveModel(runID, name string, clf model.Classifier) (string, error) {
	rel := filepath.Join(RunDir(runID), modelsDir, name+".gob")
	if err := model.SaveModel(clf, s.Path(rel)); err != nil {
		return "", errors.Wrapf(err, "save model %s", name)
	}
	return rel, nil
}

// DiscardRun removes the files of an unpublished run.
func (s *Store) DiscardRun(runID string) error {
	return errors.Wrapf(os.RemoveAll(s.Path(RunDir(runID))), "discard run %s", runID)
}

// PruneRuns removes every run directory except keep and returns the ids it
// removed.
func (s *Store) PruneRuns(keep string) ([]string, error) {
	entries, err := os.ReadDir(s.Path(runsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list runs")
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if err := s.DiscardRun(e.Name()); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// LoadVectorizer restores the vectorizer referenced by m.
func (s *Store) LoadVectorizer(m *Manifest) (*text.TfidfVectorizer, error) {
	v := text.NewTfidfVectorizer()
	if err := model.LoadModel(v, s.Path(m.Vectorizer)); err != nil {
		return nil, errors.Wrap(err, "load vectorizer")
	}
	if !v.IsFitted() {
		return nil, errors.NewModelError("artifact.LoadVectorizer", "vectorizer file is not fitted", nil)
	}
	return v, nil
}

// LoadModel restores the named classifier referenced by m.
func (s *Store) LoadModel(m *Manifest, name string) (model.Classifier, error) {
	rel, ok := m.Models[name]
	if !ok {
		return nil, errors.Wrapf(candidate.ErrUnknown, "%q is not part of run %s", name, m.RunID)
	}
	return candidate.Load(name, s.Path(rel))
}

// WriteManifest publishes m atomically.
func (s *Store) WriteManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	return writeAtomic(s.ManifestPath(), append(data, '\n'))
}

// ReadManifest loads the current manifest.
func (s *Store) ReadManifest() (*Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNoManifest, "%s", s.ManifestPath())
		}
		return nil, errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	if m.BestModel == "" || m.Vectorizer == "" {
		return nil, errors.NewModelError("artifact.ReadManifest", "manifest is incomplete", nil)
	}
	return &m, nil
}

// WriteMetrics writes one CSV row per candidate.
func (s *Store) WriteMetrics(metrics []ModelMetrics) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"model", "accuracy", "precision", "recall", "f1", "auc", "log_loss", "train_seconds"})
	for _, m := range metrics {
		_ = w.Write([]string{
			m.Name,
			formatFloat(m.Accuracy),
			formatFloat(m.Precision),
			formatFloat(m.Recall),
			formatFloat(m.F1),
			formatFloat(m.AUC),
			formatFloat(m.LogLoss),
			strconv.FormatFloat(m.TrainSeconds, 'f', 3, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, "encode metrics")
	}
	path := s.Path(MetricsFile)
	return path, writeAtomic(path, buf.Bytes())
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "publish %s", path)
}
